package clock

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/ports"
)

// Virtual is a manually advanced clock and scheduler. Callbacks fire on the
// goroutine calling Advance, in due-time order.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*virtualTimer
}

type virtualTimer struct {
	id       int
	at       time.Time
	interval time.Duration
	fn       func()
}

var (
	_ ports.Clock     = (*Virtual)(nil)
	_ ports.Scheduler = (*Virtual)(nil)
)

func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start, timers: map[int]*virtualTimer{}}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		interval = time.Second
	}
	return v.schedule(interval, interval, fn)
}

func (v *Virtual) After(delay time.Duration, fn func()) func() {
	return v.schedule(delay, 0, fn)
}

func (v *Virtual) schedule(delay, interval time.Duration, fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nextID++
	id := v.nextID
	v.timers[id] = &virtualTimer{id: id, at: v.now.Add(delay), interval: interval, fn: fn}

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.timers, id)
	}
}

// Advance moves the clock forward by d, firing every callback that falls due.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		next := v.earliestDue(target)
		if next == nil {
			v.now = target
			v.mu.Unlock()
			return
		}

		v.now = next.at
		if next.interval > 0 {
			next.at = next.at.Add(next.interval)
		} else {
			delete(v.timers, next.id)
		}
		fn := next.fn
		v.mu.Unlock()

		fn()
	}
}

func (v *Virtual) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.Advance(d)
	return nil
}

func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

func (v *Virtual) earliestDue(target time.Time) *virtualTimer {
	var next *virtualTimer
	for _, t := range v.timers {
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.id < next.id) {
			next = t
		}
	}
	return next
}
