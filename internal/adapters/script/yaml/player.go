package yaml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/neurobattery/internal/application"
	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/subtests"
	"go.uber.org/zap"
)

const settlePollInterval = 10 * time.Millisecond

var ErrStepMismatch = errors.New("script step does not match current subtest")

// Waiter lets session time pass. The virtual clock advances instantly, the
// realtime clock sleeps.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// StrokeDrawer feeds recorded strokes into the active drawing surface.
type StrokeDrawer interface {
	Draw(stroke domain.Stroke) error
}

type Player struct {
	Runner  *application.Runner
	Pointer StrokeDrawer
	Waiter  Waiter
	// Retries bounds re-submissions of a blocked subtest before the replay
	// gives up.
	Retries int
	Logger  *zap.Logger
	// OnStep is called before each step is played.
	OnStep func(index int, step Step)
}

// Play replays script on the runner's current session, which must already
// be started. It returns once every step ran or the session completed.
func (p *Player) Play(ctx context.Context, script Script) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for i, step := range script.Steps {
		if p.Runner.Session().Status == domain.SessionCompleted {
			logger.Warn("session completed before script ended", zap.Int("remaining_steps", len(script.Steps)-i))
			return nil
		}
		if p.OnStep != nil {
			p.OnStep(i, step)
		}

		subtest, err := p.Runner.Active()
		if err != nil {
			return fmt.Errorf("play step %d: %w", i, err)
		}
		if id := subtest.Descriptor().ID; id != step.Subtest {
			return fmt.Errorf("play step %d: %w: want %s, battery is at %s", i, ErrStepMismatch, step.Subtest, id)
		}

		if step.Skip {
			p.Runner.Next()
			logger.Info("subtest skipped", zap.String("subtest", string(step.Subtest)))
			continue
		}

		if err := p.playStep(ctx, subtest, step); err != nil {
			return fmt.Errorf("play step %d (%s): %w", i, step.Subtest, err)
		}
	}
	return nil
}

func (p *Player) playStep(ctx context.Context, subtest lifecycle.Subtest, step Step) error {
	if subtest.Phase() == lifecycle.PhaseInstructions {
		if err := subtest.Begin(ctx); err != nil {
			return err
		}
	}

	clicked := map[Cell]bool{}
	for j, action := range step.Actions {
		if err := p.apply(ctx, subtest, action, clicked); err != nil {
			return fmt.Errorf("action %d (%s): %w", j, action.Kind(), err)
		}
	}
	return p.settle(ctx, subtest)
}

func (p *Player) apply(ctx context.Context, subtest lifecycle.Subtest, action Action, clicked map[Cell]bool) error {
	switch action.Kind() {
	case "begin":
		return subtest.Begin(ctx)
	case "wait":
		return p.Waiter.Wait(ctx, action.Wait)
	case "pause":
		return p.Runner.Pause()
	case "resume":
		return p.Runner.Resume(ctx)
	case "evaluate":
		return subtest.Evaluate()
	case "finalize":
		return subtest.Finalize(ctx)
	case "click":
		attention, err := as[*subtests.Attention](subtest)
		if err != nil {
			return err
		}
		clicked[*action.Click] = true
		return attention.Click(ctx, action.Click.Row, action.Click.Col)
	case "find_targets":
		return p.clickCells(ctx, subtest, action.FindTargets, true, clicked)
	case "find_all":
		attention, err := as[*subtests.Attention](subtest)
		if err != nil {
			return err
		}
		return p.clickCells(ctx, subtest, attention.Grid().Targets(), true, clicked)
	case "miss":
		return p.clickCells(ctx, subtest, action.Miss, false, clicked)
	case "answer":
		recall, err := as[*subtests.Recall](subtest)
		if err != nil {
			return err
		}
		return recall.SubmitText(*action.Answer)
	case "node":
		executive, err := as[*subtests.Executive](subtest)
		if err != nil {
			return err
		}
		return executive.Click(ctx, action.Node)
	case "trail":
		return p.trail(ctx, subtest)
	case "stroke":
		if p.Pointer == nil {
			return subtests.ErrNoPointer
		}
		stroke := make(domain.Stroke, 0, len(action.Stroke))
		for _, point := range action.Stroke {
			stroke = append(stroke, point.toDomain())
		}
		return p.Pointer.Draw(stroke)
	case "score":
		drawing, err := as[*subtests.Drawing](subtest)
		if err != nil {
			return err
		}
		if drawing.Phase() != lifecycle.PhaseEvaluating {
			if err := drawing.Evaluate(); err != nil {
				return err
			}
		}
		return drawing.Score(*action.Score)
	default:
		return errors.New("unknown action")
	}
}

// clickCells clicks the next n unclicked cells that hold (or miss) the
// target letter, in reading order.
func (p *Player) clickCells(ctx context.Context, subtest lifecycle.Subtest, n int, targets bool, clicked map[Cell]bool) error {
	attention, err := as[*subtests.Attention](subtest)
	if err != nil {
		return err
	}

	grid := attention.Grid()
	for row := 0; row < grid.Rows && n > 0; row++ {
		for col := 0; col < grid.Cols && n > 0; col++ {
			cell := Cell{Row: row, Col: col}
			if clicked[cell] || (grid.Letters[row][col] == grid.Target) != targets {
				continue
			}
			if attention.Phase() != lifecycle.PhaseActive {
				return nil
			}
			clicked[cell] = true
			if err := attention.Click(ctx, row, col); err != nil {
				return err
			}
			n--
		}
	}
	if n > 0 && attention.Phase() == lifecycle.PhaseActive {
		return fmt.Errorf("grid has %d fewer matching cells than requested: %w", n, domain.ErrValidation)
	}
	return nil
}

// trail visits the expected nodes until the current part is done.
func (p *Player) trail(ctx context.Context, subtest lifecycle.Subtest) error {
	executive, err := as[*subtests.Executive](subtest)
	if err != nil {
		return err
	}

	part := executive.Part()
	for executive.Phase() == lifecycle.PhaseActive && executive.Part() == part {
		label := executive.Expected()
		if label == "" {
			return nil
		}
		if err := executive.Click(ctx, label); err != nil {
			return err
		}
	}
	return nil
}

// settle drives the subtest to completion once its scripted actions ran:
// it finalizes what is still open and retries blocked submissions.
func (p *Player) settle(ctx context.Context, subtest lifecycle.Subtest) error {
	retries := 0
	for {
		switch phase := subtest.Phase(); phase {
		case lifecycle.PhaseCompleted:
			return nil
		case lifecycle.PhaseActive, lifecycle.PhasePaused, lifecycle.PhaseEvaluating:
			err := subtest.Finalize(ctx)
			switch {
			case err == nil, errors.Is(err, domain.ErrSubmission):
			case errors.Is(err, domain.ErrInvalidPhase) && subtest.Phase() != phase:
			default:
				return err
			}
		case lifecycle.PhaseRetry:
			if retries >= p.Retries {
				return fmt.Errorf("%s not accepted after %d retries: %w", subtest.Descriptor().ID, retries, domain.ErrSubmission)
			}
			retries++
			if err := subtest.Retry(ctx); err != nil && !errors.Is(err, domain.ErrSubmission) {
				return err
			}
		case lifecycle.PhaseSubmitting:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-subtest.Done():
			case <-time.After(settlePollInterval):
			}
		default:
			return fmt.Errorf("%s left in %s: %w", subtest.Descriptor().ID, phase, domain.ErrInvalidPhase)
		}
	}
}

func as[T lifecycle.Subtest](subtest lifecycle.Subtest) (T, error) {
	typed, ok := subtest.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("action not supported by %s: %w", subtest.Descriptor().ID, domain.ErrValidation)
	}
	return typed, nil
}
