package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/ports"
)

var ErrNotListening = errors.New("no drawing surface is listening")

// ScriptedPointer replays recorded strokes into whichever drawing surface
// is currently listening.
type ScriptedPointer struct {
	mu       sync.Mutex
	nextID   int
	activeID int
	listener func(domain.PointerSample)
}

var _ ports.PointerInput = (*ScriptedPointer)(nil)

func NewScriptedPointer() *ScriptedPointer {
	return &ScriptedPointer{}
}

func (p *ScriptedPointer) Listen(ctx context.Context, onSample func(domain.PointerSample)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if onSample == nil {
		return nil, errors.New("pointer listener is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.activeID = id
	p.listener = onSample

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.activeID == id {
			p.activeID = 0
			p.listener = nil
		}
	}, nil
}

func (p *ScriptedPointer) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener != nil
}

// Draw emits stroke as a down, moves and an up. A single point stroke is a
// tap: down and up at the same place.
func (p *ScriptedPointer) Draw(stroke domain.Stroke) error {
	if len(stroke) == 0 {
		return nil
	}

	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener == nil {
		return ErrNotListening
	}

	for i, point := range stroke {
		action := domain.PointerMove
		switch i {
		case 0:
			action = domain.PointerDown
		case len(stroke) - 1:
			action = domain.PointerUp
		}
		listener(domain.PointerSample{Action: action, X: point.X, Y: point.Y, OffsetMs: point.OffsetMs})
	}
	if len(stroke) == 1 {
		point := stroke[0]
		listener(domain.PointerSample{Action: domain.PointerUp, X: point.X, Y: point.Y, OffsetMs: point.OffsetMs})
	}
	return nil
}
