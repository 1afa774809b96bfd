package clock

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/ports"
)

// Realtime schedules callbacks on wall-clock time.
type Realtime struct{}

var (
	_ ports.Clock     = Realtime{}
	_ ports.Scheduler = Realtime{}
)

func (Realtime) Now() time.Time {
	return time.Now()
}

func (Realtime) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (Realtime) After(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

func (Realtime) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
