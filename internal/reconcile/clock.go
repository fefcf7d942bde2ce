package reconcile

import "time"

// Clock abstracts scheduling so sessions can be driven by a simulated
// clock in tests. Polling delays and the completion delay both go
// through it; no timer fires after a session reaches a terminal state.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
