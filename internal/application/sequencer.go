package application

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompletionListener is told once when a session runs past its last
// subtest.
type CompletionListener interface {
	SessionCompleted()
}

type SequencerDeps struct {
	Scheduler ports.Scheduler
	Clock     ports.Clock
	Listener  CompletionListener
	Logger    *zap.Logger
}

// Sequencer owns the session: its index, its results and its elapsed
// clock. Subtest machines never touch it directly.
type Sequencer struct {
	registry   *Registry
	aggregator *Aggregator
	scheduler  ports.Scheduler
	clock      ports.Clock
	listener   CompletionListener
	logger     *zap.Logger

	mu         sync.Mutex
	session    domain.Session
	generation uint64
	elapsed    *lifecycle.Timer
	paused     bool
}

func NewSequencer(registry *Registry, aggregator *Aggregator, deps SequencerDeps) *Sequencer {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if aggregator == nil {
		aggregator = NewAggregator()
	}

	return &Sequencer{
		registry:   registry,
		aggregator: aggregator,
		scheduler:  deps.Scheduler,
		clock:      deps.Clock,
		listener:   deps.Listener,
		logger:     deps.Logger,
		session:    domain.Session{Status: domain.SessionNotStarted},
	}
}

// Start discards any previous session and opens a new one at index 0.
func (s *Sequencer) Start(patient domain.PatientRef, evaluationID string) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopClock()
	s.aggregator.Reset()
	s.generation++
	s.session = domain.Session{
		ID:           domain.SessionID(uuid.NewString()),
		Patient:      patient,
		EvaluationID: evaluationID,
		StartedAt:    s.clock.Now(),
		Status:       domain.SessionInProgress,
		Generation:   s.generation,
	}
	s.startClock()

	s.logger.Info("session started",
		zap.String("session", string(s.session.ID)),
		zap.String("patient", patient.ID),
		zap.Int("subtests", s.registry.Len()),
	)
	return s.snapshot()
}

// origin identifies the activation a result came from: the session run and
// the index that was current when the subtest was built.
type origin struct {
	generation uint64
	index      int
}

// Advance records result and moves to the next subtest. A result for a
// subtest that already has one is dropped but still advances. Advancing a
// completed session is a no-op.
func (s *Sequencer) Advance(result domain.SubtestResult) error {
	return s.advance(result, nil)
}

// AdvanceFrom is Advance for a result produced at index during generation.
// Results from an older generation are rejected with ErrStaleResult. When
// the operator has since navigated away from index, the result is recorded
// and the session stays where it is.
func (s *Sequencer) AdvanceFrom(generation uint64, index int, result domain.SubtestResult) error {
	return s.advance(result, &origin{generation: generation, index: index})
}

func (s *Sequencer) advance(result domain.SubtestResult, from *origin) error {
	s.mu.Lock()

	if from != nil && from.generation != s.generation {
		current := s.generation
		s.mu.Unlock()
		return fmt.Errorf("advance session with %s from generation %d (current %d): %w",
			result.SubtestID, from.generation, current, domain.ErrStaleResult)
	}

	switch s.session.Status {
	case domain.SessionCompleted:
		s.mu.Unlock()
		return nil
	case domain.SessionNotStarted:
		s.mu.Unlock()
		return fmt.Errorf("advance session: %w", domain.ErrSessionNotStarted)
	}

	if from != nil && from.index != s.session.CurrentIndex {
		err := s.aggregator.Append(result)
		s.session.Results = s.aggregator.InSubmissionOrder()
		index := s.session.CurrentIndex
		s.mu.Unlock()

		if err != nil && !errors.Is(err, domain.ErrDuplicateResult) {
			return fmt.Errorf("advance session: %w", err)
		}
		s.logger.Debug("result recorded after navigation",
			zap.String("subtest", string(result.SubtestID)),
			zap.Int("from", from.index),
			zap.Int("current", index),
		)
		return nil
	}

	if err := s.aggregator.Append(result); err != nil {
		if !errors.Is(err, domain.ErrDuplicateResult) {
			s.mu.Unlock()
			return fmt.Errorf("advance session: %w", err)
		}
		s.logger.Debug("duplicate result dropped", zap.String("subtest", string(result.SubtestID)))
	}
	s.session.Results = s.aggregator.InSubmissionOrder()
	s.session.CurrentIndex++

	completed := s.session.CurrentIndex >= s.registry.Len()
	if completed {
		s.session.CurrentIndex = s.registry.Len()
		s.session.Status = domain.SessionCompleted
		if s.elapsed != nil {
			s.session.Elapsed = s.elapsed.Elapsed()
		}
		s.stopClock()
	}
	listener := s.listener
	s.mu.Unlock()

	if completed {
		s.logger.Info("session completed", zap.Int("results", s.aggregator.Len()))
		if listener != nil {
			listener.SessionCompleted()
		}
	}
	return nil
}

// Previous moves back one subtest without touching results.
func (s *Sequencer) Previous() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status == domain.SessionInProgress && s.session.CurrentIndex > 0 {
		s.session.CurrentIndex--
	}
	return s.session.CurrentIndex
}

// Next moves forward one subtest without recording a result.
func (s *Sequencer) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status == domain.SessionInProgress && s.session.CurrentIndex < s.registry.Len()-1 {
		s.session.CurrentIndex++
	}
	return s.session.CurrentIndex
}

// Restart clears results and returns to the first subtest. It is
// destructive, so callers must confirm.
func (s *Sequencer) Restart(confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("restart session: %w", domain.ErrRestartNotConfirmed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregator.Reset()
	s.session.CurrentIndex = 0
	s.session.Results = nil
	s.session.Elapsed = 0
	s.stopClock()

	if s.session.Status != domain.SessionNotStarted {
		s.generation++
		s.session.Generation = s.generation
		s.session.Status = domain.SessionInProgress
		s.startClock()
		s.logger.Info("session restarted", zap.String("session", string(s.session.ID)))
	}
	return nil
}

// Pause suspends the session clock. Subtest clocks are paused separately.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status != domain.SessionInProgress || s.paused {
		return
	}
	s.paused = true
	if s.elapsed != nil {
		s.elapsed.Pause()
	}
}

func (s *Sequencer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.paused {
		return
	}
	s.paused = false
	if s.elapsed != nil && s.session.Status == domain.SessionInProgress {
		s.elapsed.Resume()
	}
}

func (s *Sequencer) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Sequencer) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Sequencer) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Current returns the descriptor at the session index while the session is
// in progress.
func (s *Sequencer) Current() (domain.SubtestDescriptor, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status != domain.SessionInProgress {
		return domain.SubtestDescriptor{}, s.session.CurrentIndex, false
	}
	descriptor, ok := s.registry.At(s.session.CurrentIndex)
	return descriptor, s.session.CurrentIndex, ok
}

func (s *Sequencer) Registry() *Registry {
	return s.registry
}

func (s *Sequencer) Aggregator() *Aggregator {
	return s.aggregator
}

// snapshot must be called with mu held.
func (s *Sequencer) snapshot() domain.Session {
	session := s.session.Clone()
	if s.elapsed != nil && session.Status == domain.SessionInProgress {
		session.Elapsed = s.elapsed.Elapsed()
	}
	return session
}

// startClock must be called with mu held.
func (s *Sequencer) startClock() {
	s.paused = false
	if s.scheduler == nil {
		return
	}
	s.elapsed = lifecycle.NewTimer(s.scheduler, 0)
	s.elapsed.Start()
}

// stopClock must be called with mu held.
func (s *Sequencer) stopClock() {
	if s.elapsed != nil {
		s.elapsed.Stop()
	}
}
