package stream

import (
	"fmt"

	"github.com/seigr-lab/stt/codec"
	"github.com/seigr-lab/stt/internal/stterr"
)

// encodeAck serializes an ACK frame's payload: {stream_id is carried in
// the frame header already, so the payload need only carry
// ack_up_to_seq} (spec §4.2's ACK row).
func encodeAck(ackUpToSeq uint64) []byte {
	return codec.EncodeVarint(ackUpToSeq)
}

// DecodeAck parses an ACK frame's payload back into ack_up_to_seq.
func DecodeAck(payload []byte) (uint64, error) {
	v, n, err := codec.DecodeVarint(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", stterr.ErrMalformedFrame, err)
	}
	if n != len(payload) {
		return 0, fmt.Errorf("%w: trailing bytes in ack payload", stterr.ErrMalformedFrame)
	}
	return v, nil
}
