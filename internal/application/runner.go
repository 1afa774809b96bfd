package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
	"go.uber.org/zap"
)

type RunnerDeps struct {
	Sequencer     *Sequencer
	Identity      ports.EvaluationIdentity
	Scheduler     ports.Scheduler
	Clock         ports.Clock
	Sink          ports.SubmissionSink
	Logger        *zap.Logger
	OnTick        func(id domain.SubtestID, remaining time.Duration)
	OnSubmitError func(id domain.SubtestID, err error)
}

// Runner connects the sequencer to the machine of the current subtest. It
// builds machines on demand and forwards their results upward.
type Runner struct {
	deps      RunnerDeps
	sequencer *Sequencer
	logger    *zap.Logger

	mu          sync.Mutex
	active      lifecycle.Subtest
	activeIndex int
	activeGen   uint64
	built       []lifecycle.Subtest

	submissionsMu sync.Mutex
	failures      map[domain.SubtestID]error
	inFlight      map[domain.SubtestID]int
}

var _ ports.SubmissionSink = (*Runner)(nil)

func NewRunner(deps RunnerDeps) *Runner {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Runner{
		deps:      deps,
		sequencer: deps.Sequencer,
		logger:    deps.Logger,
		failures:  map[domain.SubtestID]error{},
		inFlight:  map[domain.SubtestID]int{},
	}
}

// Start opens a new session for patient. It refuses to start without an
// evaluation identity so no subtest can begin without one.
func (r *Runner) Start(patient domain.PatientRef) (domain.Session, error) {
	evaluationID, ok := "", false
	if r.deps.Identity != nil {
		evaluationID, ok = r.deps.Identity.EvaluationID()
	}
	if !ok {
		return domain.Session{}, fmt.Errorf("start session: %w", domain.ErrMissingEvaluationID)
	}

	r.discardActive()
	r.submissionsMu.Lock()
	r.failures = map[domain.SubtestID]error{}
	r.submissionsMu.Unlock()

	return r.sequencer.Start(patient, evaluationID), nil
}

// Active returns the machine of the current subtest, building it when the
// index moved or the previous instance finished.
func (r *Runner) Active() (lifecycle.Subtest, error) {
	_, index, ok := r.sequencer.Current()
	if !ok {
		return nil, fmt.Errorf("active subtest: %w", domain.ErrSessionNotStarted)
	}
	generation := r.sequencer.Generation()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.activeIndex == index && r.activeGen == generation {
		switch r.active.Phase() {
		case lifecycle.PhaseCompleted, lifecycle.PhaseAbandoned:
		default:
			return r.active, nil
		}
	}

	subtest, err := r.sequencer.Registry().build(index, r.machineDeps(generation, index))
	if err != nil {
		return nil, err
	}
	r.active = subtest
	r.activeIndex = index
	r.activeGen = generation
	r.built = append(r.built, subtest)

	r.logger.Debug("subtest ready",
		zap.String("subtest", string(subtest.Descriptor().ID)),
		zap.Int("index", index),
	)
	return subtest, nil
}

func (r *Runner) Session() domain.Session {
	return r.sequencer.Session()
}

func (r *Runner) Sequencer() *Sequencer {
	return r.sequencer
}

func (r *Runner) Previous() int {
	r.abandonActive()
	return r.sequencer.Previous()
}

func (r *Runner) Next() int {
	r.abandonActive()
	return r.sequencer.Next()
}

// Restart drops the current machines outright; completions they deliver
// later belong to an old generation and are ignored.
func (r *Runner) Restart(confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("restart session: %w", domain.ErrRestartNotConfirmed)
	}
	r.discardActive()
	return r.sequencer.Restart(true)
}

// Pause suspends the session clock and the active subtest when it is
// capturing.
func (r *Runner) Pause() error {
	r.sequencer.Pause()

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active != nil && active.Phase() == lifecycle.PhaseActive {
		if err := active.Pause(); err != nil {
			return fmt.Errorf("pause session: %w", err)
		}
	}
	return nil
}

func (r *Runner) Resume(ctx context.Context) error {
	r.sequencer.Resume()

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active != nil && active.Phase() == lifecycle.PhasePaused {
		if err := active.Resume(ctx); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
	}
	return nil
}

// SubmissionFailures lists fire-and-forget submissions that failed after
// local completion.
func (r *Runner) SubmissionFailures() map[domain.SubtestID]error {
	r.submissionsMu.Lock()
	defer r.submissionsMu.Unlock()

	failures := make(map[domain.SubtestID]error, len(r.failures))
	for id, err := range r.failures {
		failures[id] = err
	}
	return failures
}

// InFlight lists, in registry order, the subtests with a submission that
// has not returned yet.
func (r *Runner) InFlight() []domain.SubtestID {
	r.submissionsMu.Lock()
	pending := make(map[domain.SubtestID]bool, len(r.inFlight))
	for id, n := range r.inFlight {
		if n > 0 {
			pending[id] = true
		}
	}
	r.submissionsMu.Unlock()

	ids := make([]domain.SubtestID, 0, len(pending))
	for _, descriptor := range r.sequencer.Registry().Descriptors() {
		if pending[descriptor.ID] {
			ids = append(ids, descriptor.ID)
		}
	}
	return ids
}

// Submit forwards to the configured sink and tracks the request while it is
// in flight. Machines built by the runner submit through it.
func (r *Runner) Submit(ctx context.Context, submission ports.Submission) error {
	r.submissionsMu.Lock()
	r.inFlight[submission.SubtestID]++
	r.submissionsMu.Unlock()

	defer func() {
		r.submissionsMu.Lock()
		r.inFlight[submission.SubtestID]--
		r.submissionsMu.Unlock()
	}()
	return r.deps.Sink.Submit(ctx, submission)
}

// Wait blocks until every detached submission has returned.
func (r *Runner) Wait() {
	r.mu.Lock()
	built := append([]lifecycle.Subtest(nil), r.built...)
	r.mu.Unlock()

	for _, subtest := range built {
		subtest.Wait()
	}
}

// Close abandons the active machine. In-flight submissions keep running.
func (r *Runner) Close() {
	r.abandonActive()
}

func (r *Runner) machineDeps(generation uint64, index int) lifecycle.Deps {
	return lifecycle.Deps{
		Scheduler: r.deps.Scheduler,
		Clock:     r.deps.Clock,
		Sink:      r,
		Identity:  r.deps.Identity,
		Logger:    r.logger,
		OnComplete: func(result domain.SubtestResult) {
			r.complete(generation, index, result)
		},
		OnSubmitError: r.submitFailed,
		OnTick:        r.deps.OnTick,
	}
}

// complete hands result to the sequencer, which checks generation and index
// under its own lock so a restart or navigation cannot slip in between.
func (r *Runner) complete(generation uint64, index int, result domain.SubtestResult) {
	err := r.sequencer.AdvanceFrom(generation, index, result)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleResult):
		r.logger.Info("stale completion dropped",
			zap.String("subtest", string(result.SubtestID)),
			zap.Uint64("generation", generation),
		)
	default:
		r.logger.Warn("advance session failed", zap.String("subtest", string(result.SubtestID)), zap.Error(err))
	}
}

func (r *Runner) submitFailed(id domain.SubtestID, err error) {
	r.submissionsMu.Lock()
	r.failures[id] = err
	r.submissionsMu.Unlock()

	if r.deps.OnSubmitError != nil {
		r.deps.OnSubmitError(id, err)
	}
}

func (r *Runner) abandonActive() {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active != nil {
		active.Abandon()
	}
}

func (r *Runner) discardActive() {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.mu.Unlock()

	if active != nil {
		active.Abandon()
	}
}
