package ports

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Scheduler is the single tick source every timer-driven component uses.
// Callbacks run on the scheduler's goroutine; the returned func cancels.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
	After(delay time.Duration, fn func()) (stop func())
}
