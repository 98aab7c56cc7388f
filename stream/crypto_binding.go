package stream

import (
	"sync"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/frame"
)

// Crypto binds a stream to the session's keying material (spec §4.6:
// "encrypted using either the session key or the stream crypto context
// if present"). When Ctx is non-nil, Encrypt/Decrypt amortize setup
// across calls through it (spec §4.3 new_stream_context); otherwise
// every call goes through the plain Key via frame.EncryptPayload /
// frame.DecryptPayload. A single Crypto value is shared by every Stream
// of a session, so a key rotation (spec §4.5) can update Key once here
// and have it take effect on every stream's next Encrypt/Decrypt call;
// the mutex guards that update against concurrent frame processing.
type Crypto struct {
	mu      sync.RWMutex
	Adapter crypto.Crypto
	Key     []byte
	Ctx     crypto.StreamCryptoContext
}

// SetKey replaces the session key in place, taking effect for every
// Stream sharing this Crypto on their next Encrypt/Decrypt call.
func (c *Crypto) SetKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Key = key
}

// Encrypt seals f's payload in place, binding the associated data
// computed from f's current header fields (spec §4.6's
// "(session_id, stream_id, sequence, frame_type=DATA, flags)").
func (c *Crypto) Encrypt(f *frame.Frame) error {
	c.mu.RLock()
	ctx, adapter, key := c.Ctx, c.Adapter, c.Key
	c.mu.RUnlock()

	if ctx != nil {
		ad := frame.AssociatedData(f)
		ciphertext, metadata, err := ctx.Encrypt(f.Payload, ad)
		if err != nil {
			return err
		}
		f.Payload = ciphertext
		f.Metadata = metadata
		f.Encrypted = true
		return nil
	}
	return frame.EncryptPayload(f, adapter, key)
}

// Decrypt opens f's payload in place, verifying the same associated
// data binding Encrypt used.
func (c *Crypto) Decrypt(f *frame.Frame) error {
	c.mu.RLock()
	ctx, adapter, key := c.Ctx, c.Adapter, c.Key
	c.mu.RUnlock()

	if ctx != nil {
		ad := frame.AssociatedData(f)
		plaintext, err := ctx.Decrypt(f.Payload, f.Metadata, ad)
		if err != nil {
			return err
		}
		f.Payload = plaintext
		f.Encrypted = false
		return nil
	}
	return frame.DecryptPayload(f, adapter, key)
}
