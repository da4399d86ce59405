package fount

import "time"

// Clock abstracts time for staleness tracking and deadlines.
// Production: RealClock. Testing: fake with manual advance.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
