package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestVirtualFiresIntervalCallbacksInOrder(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	var order []string
	stopTick := v.Every(time.Second, func() { order = append(order, "tick@"+v.Now().Sub(start).String()) })
	v.After(1500*time.Millisecond, func() { order = append(order, "after@"+v.Now().Sub(start).String()) })

	v.Advance(2 * time.Second)
	stopTick()
	v.Advance(5 * time.Second)

	assert.Equal(t, []string{"tick@1s", "after@1.5s", "tick@2s"}, order)
	assert.Equal(t, start.Add(7*time.Second), v.Now())
	assert.Zero(t, v.Pending())
}

func TestVirtualStopFromInsideCallback(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	var fired int
	var stop func()
	stop = v.Every(time.Second, func() {
		fired++
		if fired == 3 {
			stop()
		}
	})

	v.Advance(10 * time.Second)
	assert.Equal(t, 3, fired)
}

func TestVirtualWaitHonoursCancelledContext(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, v.Wait(ctx, time.Minute), context.Canceled)
	assert.Equal(t, time.Unix(0, 0), v.Now())
}

func TestRealtimeEveryStopsGoroutine(t *testing.T) {
	var ticks atomic.Int32
	stop := Realtime{}.Every(5*time.Millisecond, func() { ticks.Add(1) })

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
	stop()
	stop()
}

func TestRealtimeAfterCanBeCancelled(t *testing.T) {
	var fired atomic.Bool
	stop := Realtime{}.After(50*time.Millisecond, func() { fired.Store(true) })
	stop()

	require.NoError(t, Realtime{}.Wait(context.Background(), 80*time.Millisecond))
	assert.False(t, fired.Load())
}
