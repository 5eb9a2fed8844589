package rtprtcp

import "time"

// Clock abstracts time for deterministic report scheduling in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

var defaultClock Clock = SystemClock{}
