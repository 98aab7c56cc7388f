// Package codec is documented in varint.go; this file only carries a
// worked example.
//
// Example usage:
//
//	n, consumed, err := codec.DecodeVarint(buf)
//	if err != nil {
//	    // malformed input
//	}
//
//	encoded, err := codec.EncodeValue(codec.Map{
//	    "node_id": nodeID,
//	    "nonce":   nonce,
//	})
package codec
