package subtests

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
)

const (
	TaskFigureRecall = "figure_recall"
	TaskClockDrawing = "clock_drawing"
)

type DrawingConfig struct {
	Task     string
	MaxScore int
}

func (c DrawingConfig) withDefaults() DrawingConfig {
	if c.Task == "" {
		c.Task = TaskFigureRecall
	}
	if c.MaxScore <= 0 {
		c.MaxScore = 3
	}
	return c
}

// Drawing is a freehand task scored by the examiner on an ordinal scale.
// Visual memory and visuospatial construction both use it.
type Drawing struct {
	*lifecycle.Machine
	capture *drawingCapture
}

type drawingCapture struct {
	cfg     DrawingConfig
	pointer ports.PointerInput

	mu      sync.Mutex
	strokes []domain.Stroke
	current domain.Stroke
	stop    func()
	score   int
	scored  bool
}

func NewDrawing(descriptor domain.SubtestDescriptor, cfg DrawingConfig, pointer ports.PointerInput, deps lifecycle.Deps) *Drawing {
	descriptor.OperatorScored = true
	capture := &drawingCapture{cfg: cfg.withDefaults(), pointer: pointer}

	return &Drawing{
		Machine: lifecycle.New(descriptor, lifecycle.PauseResume, capture, deps),
		capture: capture,
	}
}

func (d *Drawing) MaxScore() int {
	return d.capture.cfg.MaxScore
}

func (d *Drawing) Strokes() []domain.Stroke {
	d.capture.mu.Lock()
	defer d.capture.mu.Unlock()
	return append([]domain.Stroke(nil), d.capture.strokes...)
}

// Score records the examiner's ordinal rating while evaluating.
func (d *Drawing) Score(value int) error {
	if phase := d.Phase(); phase != lifecycle.PhaseEvaluating {
		return fmt.Errorf("score drawing in %s: %w", phase, domain.ErrInvalidPhase)
	}
	if value < 0 || value > d.capture.cfg.MaxScore {
		return fmt.Errorf("score %d outside 0..%d: %w", value, d.capture.cfg.MaxScore, domain.ErrValidation)
	}

	d.capture.mu.Lock()
	d.capture.score = value
	d.capture.scored = true
	d.capture.mu.Unlock()
	return nil
}

func (d *Drawing) ScoreAndFinalize(ctx context.Context, value int) error {
	if err := d.Score(value); err != nil {
		return err
	}
	return d.Finalize(ctx)
}

func (c *drawingCapture) Acquire(ctx context.Context) error {
	if c.pointer == nil {
		return ErrNoPointer
	}

	stop, err := c.pointer.Listen(ctx, c.onSample)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()
	return nil
}

func (c *drawingCapture) onSample(sample domain.PointerSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	point := domain.Point{X: sample.X, Y: sample.Y, OffsetMs: sample.OffsetMs}
	switch sample.Action {
	case domain.PointerDown:
		c.commit()
		c.current = domain.Stroke{point}
	case domain.PointerMove:
		if c.current != nil {
			c.current = append(c.current, point)
		}
	case domain.PointerUp:
		if c.current != nil {
			c.current = append(c.current, point)
			c.commit()
		}
	}
}

// commit must be called with mu held.
func (c *drawingCapture) commit() {
	if len(c.current) > 0 {
		c.strokes = append(c.strokes, c.current)
	}
	c.current = nil
}

func (c *drawingCapture) Release() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}

	c.mu.Lock()
	c.commit()
	c.mu.Unlock()
}

func (c *drawingCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strokes = nil
	c.current = nil
	c.score = 0
	c.scored = false
}

func (c *drawingCapture) Validate(phase lifecycle.Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if phase == lifecycle.PhaseEvaluating {
		if !c.scored {
			return fmt.Errorf("operator score missing: %w", domain.ErrValidation)
		}
		return nil
	}
	if len(c.strokes) == 0 && len(c.current) == 0 {
		return fmt.Errorf("no strokes drawn: %w", domain.ErrValidation)
	}
	return nil
}

func (c *drawingCapture) Outcome(meta lifecycle.Meta) (lifecycle.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return lifecycle.Outcome{
		Score: float64(c.score),
		Body: domain.DrawingPayload{
			EvaluationID:  meta.EvaluationID,
			Task:          c.cfg.Task,
			Strokes:       append([]domain.Stroke(nil), c.strokes...),
			OperatorScore: c.score,
			MaxScore:      c.cfg.MaxScore,
			ElapsedMs:     millis(meta.Elapsed()),
		},
	}, nil
}
