package services

import "time"

// Clock abstracts "now" so timestamp-bearing mutations and the display status
// derivation are testable with a fixed instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock used in production wiring.
func SystemClock() Clock { return systemClock{} }
