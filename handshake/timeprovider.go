package handshake

import "time"

// TimeProvider abstracts wall-clock access so handshake deadline and
// clock-skew checks are deterministically testable, mirroring the
// teacher's file-transfer TimeProvider pattern.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }
