// Package subtests holds the concrete lifecycle captures of the battery.
package subtests

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
)

var (
	ErrNodeLocked   = errors.New("waiting for expected node to re-activate")
	ErrNoPointer    = errors.New("pointer input is not available")
	ErrNoMicrophone = errors.New("audio capture is not available")
)

type Providers struct {
	Audio   ports.AudioCapture
	Pointer ports.PointerInput
}

func clockOf(deps lifecycle.Deps) ports.Clock {
	if deps.Clock == nil {
		return ports.SystemClock{}
	}
	return deps.Clock
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}
