// Package session implements the Session record and registry of spec
// §4.5 and §4.7: the encrypted connection a completed handshake
// promotes, its counters and key-rotation policy, and the node-wide
// lookup table keyed by SessionId.
package session
