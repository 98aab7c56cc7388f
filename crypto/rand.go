package crypto

import crand "crypto/rand"

// randRead is the single seam Encrypt/streamContext use to fill nonces,
// kept as a package-level var so tests can substitute a deterministic
// source without threading a io.Reader through every call site.
var randRead = crand.Read
