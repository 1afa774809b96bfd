package lifecycle

import (
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/ports"
)

const tickInterval = time.Second

type TimerOption func(*Timer)

func WithTick(fn func(remaining, elapsed time.Duration)) TimerOption {
	return func(t *Timer) { t.onTick = fn }
}

func WithExpiry(fn func()) TimerOption {
	return func(t *Timer) { t.onExpire = fn }
}

// Timer counts whole seconds on a Scheduler. A zero duration never expires
// and only accumulates elapsed time.
type Timer struct {
	scheduler ports.Scheduler
	onTick    func(remaining, elapsed time.Duration)
	onExpire  func()

	mu         sync.Mutex
	duration   time.Duration
	elapsed    time.Duration
	running    bool
	expired    bool
	stop       func()
	generation uint64
}

func NewTimer(scheduler ports.Scheduler, duration time.Duration, opts ...TimerOption) *Timer {
	t := &Timer{scheduler: scheduler, duration: duration}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running || t.expired {
		return
	}
	t.running = true
	t.generation++
	generation := t.generation
	t.stop = t.scheduler.Every(tickInterval, func() { t.tick(generation) })
}

func (t *Timer) Resume() {
	t.Start()
}

func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.halt()
}

func (t *Timer) Stop() {
	t.Pause()
}

// Reset re-arms the timer with a fresh duration; it does not start it.
func (t *Timer) Reset(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.halt()
	t.duration = duration
	t.elapsed = 0
	t.expired = false
}

func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining()
}

func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

func (t *Timer) tick(generation uint64) {
	t.mu.Lock()
	if !t.running || generation != t.generation {
		t.mu.Unlock()
		return
	}

	t.elapsed += tickInterval
	remaining := t.remaining()
	expiredNow := t.duration > 0 && remaining == 0
	if expiredNow {
		t.expired = true
		t.halt()
	}
	onTick, onExpire := t.onTick, t.onExpire
	elapsed := t.elapsed
	t.mu.Unlock()

	if onTick != nil {
		onTick(remaining, elapsed)
	}
	if expiredNow && onExpire != nil {
		onExpire()
	}
}

func (t *Timer) halt() {
	if !t.running {
		return
	}
	t.running = false
	t.generation++
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}

func (t *Timer) remaining() time.Duration {
	if t.duration <= 0 {
		return 0
	}
	if t.elapsed >= t.duration {
		return 0
	}
	return t.duration - t.elapsed
}
