package dispatch

import "time"

// Clock is the time source, injectable so deadline behavior can be
// tested without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock returns the default clock implementation.
func NewRealClock() Clock { return realClock{} }
