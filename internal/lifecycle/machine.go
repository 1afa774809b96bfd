package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Phase string

const (
	PhaseInstructions Phase = "instructions"
	PhaseActive       Phase = "active"
	PhasePaused       Phase = "paused"
	PhaseEvaluating   Phase = "evaluating"
	PhaseSubmitting   Phase = "submitting"
	PhaseRetry        Phase = "retry"
	PhaseCompleted    Phase = "completed"
	PhaseAbandoned    Phase = "abandoned"
)

type PauseMode int

const (
	// PauseResume suspends capture and keeps progress.
	PauseResume PauseMode = iota
	// PauseRestart ends the capture and returns to instructions.
	PauseRestart
)

// Meta describes the activation a Capture is asked to score.
type Meta struct {
	EvaluationID string
	StartedAt    time.Time
	EndedAt      time.Time
	TimedOut     bool
}

func (m Meta) Elapsed() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

type Outcome struct {
	Score      float64
	Errors     int
	Body       any
	Attachment *ports.Attachment
}

// Capture is the subtest-specific half of a Machine. Release must be
// idempotent, and implementations must not call back into the Machine from
// these methods.
type Capture interface {
	Acquire(ctx context.Context) error
	Release()
	Reset()
	Outcome(meta Meta) (Outcome, error)
}

// Validator is implemented by captures that can reject evaluate or finalize
// before their devices are released. phase is the machine's current phase.
type Validator interface {
	Validate(phase Phase) error
}

type Deps struct {
	Scheduler     ports.Scheduler
	Clock         ports.Clock
	Sink          ports.SubmissionSink
	Identity      ports.EvaluationIdentity
	Logger        *zap.Logger
	OnComplete    func(domain.SubtestResult)
	OnSubmitError func(domain.SubtestID, error)
	OnTick        func(id domain.SubtestID, remaining time.Duration)
}

// Subtest is the surface every concrete subtest exposes through its
// embedded Machine.
type Subtest interface {
	Descriptor() domain.SubtestDescriptor
	Phase() Phase
	Begin(ctx context.Context) error
	Pause() error
	Resume(ctx context.Context) error
	Evaluate() error
	Finalize(ctx context.Context) error
	Retry(ctx context.Context) error
	Abandon()
	Remaining() time.Duration
	Result() (domain.SubtestResult, bool)
	Done() <-chan struct{}
	Wait()
}

type Machine struct {
	descriptor domain.SubtestDescriptor
	pauseMode  PauseMode
	capture    Capture
	deps       Deps
	logger     *zap.Logger

	mu           sync.Mutex
	phase        Phase
	activation   domain.ActivationID
	evaluationID string
	startedAt    time.Time
	timedOut     bool
	timer        *Timer
	baseCtx      context.Context
	// finalizing is the submission guard; it is set before any network call.
	finalizing bool
	submission ports.Submission
	result     domain.SubtestResult
	done       chan struct{}

	inflight sync.WaitGroup
}

var _ Subtest = (*Machine)(nil)

func New(descriptor domain.SubtestDescriptor, pauseMode PauseMode, capture Capture, deps Deps) *Machine {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Machine{
		descriptor: descriptor,
		pauseMode:  pauseMode,
		capture:    capture,
		deps:       deps,
		logger:     logger.With(zap.String("subtest", string(descriptor.ID))),
		phase:      PhaseInstructions,
		done:       make(chan struct{}),
	}
}

func (m *Machine) Descriptor() domain.SubtestDescriptor {
	return m.descriptor
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) EvaluationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluationID
}

func (m *Machine) Now() time.Time {
	return m.deps.Clock.Now()
}

func (m *Machine) Scheduler() ports.Scheduler {
	return m.deps.Scheduler
}

func (m *Machine) Begin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseInstructions {
		return fmt.Errorf("begin %s from %s: %w", m.descriptor.ID, m.phase, domain.ErrInvalidPhase)
	}

	evaluationID, ok := "", false
	if m.deps.Identity != nil {
		evaluationID, ok = m.deps.Identity.EvaluationID()
	}
	if !ok {
		return fmt.Errorf("begin %s: %w", m.descriptor.ID, domain.ErrMissingEvaluationID)
	}

	m.capture.Reset()
	if err := m.capture.Acquire(ctx); err != nil {
		m.capture.Release()
		return fmt.Errorf("begin %s: %w: %w", m.descriptor.ID, domain.ErrCapability, err)
	}

	m.phase = PhaseActive
	m.activation = domain.ActivationID(uuid.NewString())
	m.evaluationID = evaluationID
	m.startedAt = m.deps.Clock.Now()
	m.timedOut = false
	m.baseCtx = context.WithoutCancel(ctx)

	if m.descriptor.Bounded() && m.deps.Scheduler != nil {
		m.timer = NewTimer(m.deps.Scheduler, m.descriptor.Duration,
			WithTick(func(remaining, _ time.Duration) {
				if m.deps.OnTick != nil {
					m.deps.OnTick(m.descriptor.ID, remaining)
				}
			}),
			WithExpiry(m.expire),
		)
		m.timer.Start()
	}

	m.logger.Debug("subtest started", zap.String("activation", string(m.activation)))
	return nil
}

func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseActive {
		return fmt.Errorf("pause %s from %s: %w", m.descriptor.ID, m.phase, domain.ErrInvalidPhase)
	}

	m.capture.Release()
	switch m.pauseMode {
	case PauseRestart:
		m.capture.Reset()
		m.stopTimer()
		m.timer = nil
		m.phase = PhaseInstructions
		m.logger.Debug("subtest capture discarded on pause")
	default:
		if m.timer != nil {
			m.timer.Pause()
		}
		m.phase = PhasePaused
	}

	return nil
}

func (m *Machine) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhasePaused {
		return fmt.Errorf("resume %s from %s: %w", m.descriptor.ID, m.phase, domain.ErrInvalidPhase)
	}

	if err := m.capture.Acquire(ctx); err != nil {
		m.capture.Release()
		return fmt.Errorf("resume %s: %w: %w", m.descriptor.ID, domain.ErrCapability, err)
	}
	if m.timer != nil {
		m.timer.Resume()
	}
	m.phase = PhaseActive

	return nil
}

// Evaluate hands an operator-scored subtest over to the examiner.
func (m *Machine) Evaluate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.descriptor.OperatorScored || (m.phase != PhaseActive && m.phase != PhasePaused) {
		return fmt.Errorf("evaluate %s from %s: %w", m.descriptor.ID, m.phase, domain.ErrInvalidPhase)
	}
	if validator, ok := m.capture.(Validator); ok {
		if err := validator.Validate(m.phase); err != nil {
			return fmt.Errorf("evaluate %s: %w", m.descriptor.ID, err)
		}
	}

	m.capture.Release()
	m.stopTimer()
	m.phase = PhaseEvaluating

	return nil
}

// Finalize scores the activation and submits it once. A call made while
// another finalize is in progress is a no-op; a call on a finished machine
// is rejected.
func (m *Machine) Finalize(ctx context.Context) error {
	m.mu.Lock()

	if m.finished() {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("finalize %s from %s: %w", m.descriptor.ID, phase, domain.ErrInvalidPhase)
	}
	if m.finalizing {
		m.mu.Unlock()
		return nil
	}
	if !m.finalizable() {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("finalize %s from %s: %w", m.descriptor.ID, phase, domain.ErrInvalidPhase)
	}
	if validator, ok := m.capture.(Validator); ok {
		if err := validator.Validate(m.phase); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("finalize %s: %w", m.descriptor.ID, err)
		}
	}

	m.finalizing = true
	m.capture.Release()
	m.stopTimer()

	meta := Meta{
		EvaluationID: m.evaluationID,
		StartedAt:    m.startedAt,
		EndedAt:      m.deps.Clock.Now(),
		TimedOut:     m.timedOut,
	}
	outcome, err := m.capture.Outcome(meta)
	if err != nil {
		m.capture.Reset()
		m.phase = PhaseInstructions
		m.finalizing = false
		m.mu.Unlock()
		return fmt.Errorf("finalize %s: %w", m.descriptor.ID, err)
	}

	m.result = domain.SubtestResult{
		SubtestID:    m.descriptor.ID,
		ActivationID: m.activation,
		StartedAt:    meta.StartedAt,
		EndedAt:      meta.EndedAt,
		Score:        outcome.Score,
		Errors:       outcome.Errors,
		Elapsed:      meta.Elapsed(),
		Payload:      outcome.Body,
	}
	m.submission = ports.Submission{
		SubtestID:    m.descriptor.ID,
		Path:         m.descriptor.Path,
		EvaluationID: m.evaluationID,
		Body:         outcome.Body,
		Attachment:   outcome.Attachment,
	}

	if m.descriptor.Policy == domain.PolicyFireAndForget {
		m.complete()
		result, submission := m.result, m.submission
		m.inflight.Add(1)
		m.mu.Unlock()

		go m.submitDetached(context.WithoutCancel(ctx), submission)
		m.notifyComplete(result)
		return nil
	}

	m.phase = PhaseSubmitting
	m.mu.Unlock()
	return m.submitBlocking(ctx)
}

// Retry re-issues a blocked submission after a sink failure.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.finished() {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("retry %s from %s: %w", m.descriptor.ID, phase, domain.ErrInvalidPhase)
	}
	if m.finalizing {
		m.mu.Unlock()
		return nil
	}
	if m.phase != PhaseRetry {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("retry %s from %s: %w", m.descriptor.ID, phase, domain.ErrInvalidPhase)
	}
	m.finalizing = true
	m.phase = PhaseSubmitting
	m.mu.Unlock()

	return m.submitBlocking(ctx)
}

// Abandon releases devices and stops the clock. In-flight submissions are
// left to finish on their own.
func (m *Machine) Abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseCompleted, PhaseAbandoned, PhaseSubmitting:
		return
	}
	m.capture.Release()
	m.stopTimer()
	m.phase = PhaseAbandoned
}

func (m *Machine) Remaining() time.Duration {
	m.mu.Lock()
	timer := m.timer
	m.mu.Unlock()

	if timer == nil {
		return m.descriptor.Duration
	}
	return timer.Remaining()
}

func (m *Machine) Result() (domain.SubtestResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.phase == PhaseCompleted
}

func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until detached submissions have returned.
func (m *Machine) Wait() {
	m.inflight.Wait()
}

func (m *Machine) finished() bool {
	return m.phase == PhaseCompleted || m.phase == PhaseAbandoned
}

func (m *Machine) finalizable() bool {
	switch m.phase {
	case PhaseEvaluating:
		return true
	case PhaseActive, PhasePaused:
		return !m.descriptor.OperatorScored
	default:
		return false
	}
}

func (m *Machine) submitBlocking(ctx context.Context) error {
	m.mu.Lock()
	submission := m.submission
	m.mu.Unlock()

	err := m.deps.Sink.Submit(ctx, submission)

	m.mu.Lock()
	if err != nil {
		m.phase = PhaseRetry
		m.finalizing = false
		m.mu.Unlock()
		m.logger.Warn("blocking submission failed", zap.Error(err))
		return fmt.Errorf("submit %s: %w: %w", m.descriptor.ID, domain.ErrSubmission, err)
	}

	m.complete()
	result := m.result
	m.mu.Unlock()

	m.notifyComplete(result)
	return nil
}

func (m *Machine) submitDetached(ctx context.Context, submission ports.Submission) {
	defer m.inflight.Done()

	if err := m.deps.Sink.Submit(ctx, submission); err != nil {
		m.logger.Warn("submission failed after local completion", zap.Error(err))
		if m.deps.OnSubmitError != nil {
			m.deps.OnSubmitError(m.descriptor.ID, err)
		}
		return
	}
	m.logger.Debug("submission accepted")
}

func (m *Machine) expire() {
	m.mu.Lock()
	if m.phase != PhaseActive {
		m.mu.Unlock()
		return
	}
	m.timedOut = true
	if m.descriptor.OperatorScored {
		m.capture.Release()
		m.stopTimer()
		m.phase = PhaseEvaluating
		m.mu.Unlock()
		m.logger.Debug("subtest time limit reached, awaiting operator score")
		return
	}
	ctx := m.baseCtx
	m.mu.Unlock()

	m.Conclude(ctx, "time limit")
}

// Conclude finalizes on behalf of a timer or device event rather than the
// operator. Failures are logged since there is no caller to return them to.
func (m *Machine) Conclude(ctx context.Context, reason string) {
	m.logger.Debug("subtest concluding", zap.String("reason", reason))

	err := m.Finalize(ctx)
	switch {
	case err == nil, errors.Is(err, domain.ErrSubmission):
		// blocking failures are logged by the submission path
	case errors.Is(err, domain.ErrInvalidPhase):
		m.logger.Debug("subtest already concluded", zap.String("reason", reason))
	default:
		m.logger.Warn("finalize failed", zap.String("reason", reason), zap.Error(err))
	}
}

// complete must be called with mu held.
func (m *Machine) complete() {
	m.phase = PhaseCompleted
	close(m.done)
}

func (m *Machine) notifyComplete(result domain.SubtestResult) {
	m.logger.Debug("subtest completed",
		zap.Float64("score", result.Score),
		zap.Int("errors", result.Errors),
		zap.Duration("elapsed", result.Elapsed),
	)
	if m.deps.OnComplete != nil {
		m.deps.OnComplete(result)
	}
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
	}
}
