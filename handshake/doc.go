// Package handshake drives one side of the four-message authenticated
// handshake of spec §4.4: HELLO, CHALLENGE, AUTH_PROOF, CONFIRM. A
// Machine owns a single in-flight exchange; a Registry multiplexes many
// concurrent exchanges keyed by peer address.
package handshake
