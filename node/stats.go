package node

// Stats is the snapshot spec §4.9's stats() returns: session and
// handshake counts, each transport's bound local address, and two
// node-wide frame counters. It has no per-transport traffic counters;
// FramesDropped counts every discarded inbound frame (rate-limited,
// undecodable or oversized, unknown type, unknown session) in one total.
type Stats struct {
	SessionCount       int
	ActiveSessionCount int
	HandshakesInFlight int
	DatagramLocalAddr  string
	MessageLocalAddr   string
	FramesDropped      uint64
	FramesRouted       uint64
}
