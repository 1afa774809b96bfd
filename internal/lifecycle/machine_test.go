package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/neurobattery/internal/adapters/clock"
	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/ports"
	"github.com/bnema/neurobattery/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct {
	mu         sync.Mutex
	acquireErr error
	acquired   bool
	acquires   int
	releases   int
	resets     int
	items      int
	lastMeta   Meta
}

func (c *fakeCapture) Acquire(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquires++
	if c.acquireErr != nil {
		return c.acquireErr
	}
	c.acquired = true
	return nil
}

func (c *fakeCapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acquired {
		c.releases++
	}
	c.acquired = false
}

func (c *fakeCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	c.items = 0
}

func (c *fakeCapture) Validate(Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == 0 {
		return domain.ErrValidation
	}
	return nil
}

func (c *fakeCapture) Outcome(meta Meta) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMeta = meta
	return Outcome{Score: float64(c.items), Body: map[string]any{"evaluationId": meta.EvaluationID, "items": c.items}}, nil
}

func (c *fakeCapture) add() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items++
}

type harness struct {
	sched     *clock.Virtual
	sink      *mocks.MockSubmissionSink
	capture   *fakeCapture
	machine   *Machine
	mu        sync.Mutex
	completed []domain.SubtestResult
}

func newHarness(t *testing.T, descriptor domain.SubtestDescriptor, mode PauseMode, identity ports.EvaluationIdentity) *harness {
	t.Helper()

	h := &harness{
		sched:   clock.NewVirtual(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)),
		sink:    mocks.NewMockSubmissionSink(t),
		capture: &fakeCapture{},
	}
	h.machine = New(descriptor, mode, h.capture, Deps{
		Scheduler: h.sched,
		Clock:     h.sched,
		Sink:      h.sink,
		Identity:  identity,
		OnComplete: func(result domain.SubtestResult) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.completed = append(h.completed, result)
		},
	})
	return h
}

func (h *harness) results() []domain.SubtestResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.SubtestResult(nil), h.completed...)
}

func descriptor(policy domain.SubmissionPolicy, duration time.Duration) domain.SubtestDescriptor {
	return domain.SubtestDescriptor{
		ID:       "sample",
		Duration: duration,
		Policy:   policy,
		Path:     "/evaluations/sample",
	}
}

func TestMachineBeginRequiresEvaluationIdentity(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 0), PauseResume, ports.StaticEvaluationIdentity(""))

	err := h.machine.Begin(context.Background())
	require.ErrorIs(t, err, domain.ErrMissingEvaluationID)
	assert.Equal(t, PhaseInstructions, h.machine.Phase())
	assert.Zero(t, h.capture.acquires)
}

func TestMachineBeginCapabilityErrorStaysInInstructions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyBlocking, 0), PauseRestart, ports.StaticEvaluationIdentity("eval-1"))
	h.capture.acquireErr = errors.New("permission denied")

	err := h.machine.Begin(context.Background())
	require.ErrorIs(t, err, domain.ErrCapability)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, PhaseInstructions, h.machine.Phase())
}

func TestMachineFinalizeRejectsEmptyInputWithoutTransition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 0), PauseResume, ports.StaticEvaluationIdentity("eval-1"))
	require.NoError(t, h.machine.Begin(context.Background()))

	err := h.machine.Finalize(context.Background())
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, PhaseActive, h.machine.Phase())
	assert.True(t, h.capture.acquired)
}

func TestMachineConcurrentFinalizeSubmitsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 0), PauseResume, ports.StaticEvaluationIdentity("eval-1"))
	h.sink.EXPECT().Submit(mock.Anything, mock.MatchedBy(func(s ports.Submission) bool {
		return s.EvaluationID == "eval-1" && s.Path == "/evaluations/sample"
	})).Return(nil).Once()

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()

	var (
		wg        sync.WaitGroup
		errsMu    sync.Mutex
		succeeded int
	)
	start := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := h.machine.Finalize(context.Background())
			errsMu.Lock()
			defer errsMu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidPhase)
		}()
	}
	close(start)
	wg.Wait()
	h.machine.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, h.results(), 1)
	assert.Equal(t, PhaseCompleted, h.machine.Phase())
	assert.Equal(t, 1, h.capture.releases)
}

func TestMachineFireAndForgetCompletesDespiteSinkFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 0), PauseResume, ports.StaticEvaluationIdentity("eval-1"))
	var reported error
	var reportMu sync.Mutex
	h.machine.deps.OnSubmitError = func(_ domain.SubtestID, err error) {
		reportMu.Lock()
		defer reportMu.Unlock()
		reported = err
	}
	h.sink.EXPECT().Submit(mock.Anything, mock.Anything).Return(errors.New("status 500")).Once()

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()
	require.NoError(t, h.machine.Finalize(context.Background()))
	h.machine.Wait()

	assert.Len(t, h.results(), 1)
	assert.Equal(t, PhaseCompleted, h.machine.Phase())
	reportMu.Lock()
	assert.EqualError(t, reported, "status 500")
	reportMu.Unlock()

	select {
	case <-h.machine.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestMachineBlockingFailureWaitsForRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyBlocking, 0), PauseRestart, ports.StaticEvaluationIdentity("eval-1"))
	h.sink.EXPECT().Submit(mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()

	err := h.machine.Finalize(context.Background())
	require.ErrorIs(t, err, domain.ErrSubmission)
	assert.Equal(t, PhaseRetry, h.machine.Phase())
	assert.Empty(t, h.results())

	require.ErrorIs(t, h.machine.Finalize(context.Background()), domain.ErrInvalidPhase)

	h.sink.EXPECT().Submit(mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, h.machine.Retry(context.Background()))
	assert.Equal(t, PhaseCompleted, h.machine.Phase())
	require.Len(t, h.results(), 1)

	require.ErrorIs(t, h.machine.Retry(context.Background()), domain.ErrInvalidPhase)
}

func TestMachineBlockingFinalizeDuringSubmissionIsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyBlocking, 0), PauseResume, ports.StaticEvaluationIdentity("eval-1"))
	entered := make(chan struct{})
	release := make(chan struct{})
	h.sink.EXPECT().Submit(mock.Anything, mock.Anything).RunAndReturn(func(context.Context, ports.Submission) error {
		close(entered)
		<-release
		return nil
	}).Once()

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()

	finished := make(chan error, 1)
	go func() { finished <- h.machine.Finalize(context.Background()) }()
	<-entered

	assert.Equal(t, PhaseSubmitting, h.machine.Phase())
	require.NoError(t, h.machine.Finalize(context.Background()))
	require.NoError(t, h.machine.Retry(context.Background()))

	close(release)
	require.NoError(t, <-finished)
	assert.Equal(t, PhaseCompleted, h.machine.Phase())
	assert.Len(t, h.results(), 1)

	require.ErrorIs(t, h.machine.Finalize(context.Background()), domain.ErrInvalidPhase)
	require.ErrorIs(t, h.machine.Retry(context.Background()), domain.ErrInvalidPhase)
}

func TestMachineFinalizeAfterAbandonIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 0), PauseResume, ports.StaticEvaluationIdentity("eval-1"))
	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()
	h.machine.Abandon()

	require.ErrorIs(t, h.machine.Finalize(context.Background()), domain.ErrInvalidPhase)
	assert.Empty(t, h.results())
}

func TestMachineExpiryHandsOperatorScoredSubtestToExaminer(t *testing.T) {
	t.Parallel()

	d := descriptor(domain.PolicyBlocking, 10*time.Second)
	d.OperatorScored = true
	h := newHarness(t, d, PauseResume, ports.StaticEvaluationIdentity("eval-1"))

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()
	h.sched.Advance(10 * time.Second)

	assert.Equal(t, PhaseEvaluating, h.machine.Phase())
	assert.False(t, h.capture.acquired, "devices are released when time is up")
	assert.Zero(t, h.sched.Pending())
	assert.Empty(t, h.results())

	h.sink.EXPECT().Submit(mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, h.machine.Finalize(context.Background()))
	assert.True(t, h.capture.lastMeta.TimedOut)
	assert.Len(t, h.results(), 1)
}

func TestMachineExpiryFinalizesTimedSubtest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 5*time.Second), PauseResume, ports.StaticEvaluationIdentity("eval-1"))
	h.sink.EXPECT().Submit(mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()
	h.sched.Advance(4 * time.Second)
	assert.Equal(t, PhaseActive, h.machine.Phase())
	assert.Equal(t, time.Second, h.machine.Remaining())

	h.sched.Advance(time.Second)
	h.machine.Wait()

	assert.Equal(t, PhaseCompleted, h.machine.Phase())
	assert.True(t, h.capture.lastMeta.TimedOut)
	result, ok := h.machine.Result()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, result.Elapsed)
	assert.Zero(t, h.sched.Pending())
}

func TestMachinePauseResumeKeepsProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 10*time.Second), PauseResume, ports.StaticEvaluationIdentity("eval-1"))

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()
	h.sched.Advance(3 * time.Second)

	require.NoError(t, h.machine.Pause())
	assert.Equal(t, PhasePaused, h.machine.Phase())
	assert.False(t, h.capture.acquired, "devices are released on pause")
	h.sched.Advance(time.Minute)
	assert.Equal(t, 7*time.Second, h.machine.Remaining())

	require.NoError(t, h.machine.Resume(context.Background()))
	assert.Equal(t, PhaseActive, h.machine.Phase())
	assert.True(t, h.capture.acquired)
	assert.Equal(t, 1, h.capture.items)
}

func TestMachinePauseRestartDiscardsCapture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyBlocking, 60*time.Second), PauseRestart, ports.StaticEvaluationIdentity("eval-1"))

	require.NoError(t, h.machine.Begin(context.Background()))
	h.capture.add()
	h.sched.Advance(20 * time.Second)

	require.NoError(t, h.machine.Pause())
	assert.Equal(t, PhaseInstructions, h.machine.Phase())
	assert.Zero(t, h.capture.items)
	assert.False(t, h.capture.acquired)
	assert.Zero(t, h.sched.Pending())
	require.ErrorIs(t, h.machine.Resume(context.Background()), domain.ErrInvalidPhase)

	require.NoError(t, h.machine.Begin(context.Background()))
	assert.Equal(t, 60*time.Second, h.machine.Remaining())
}

func TestMachineOperatorScoredRequiresEvaluation(t *testing.T) {
	t.Parallel()

	d := descriptor(domain.PolicyBlocking, 0)
	d.OperatorScored = true
	h := newHarness(t, d, PauseResume, ports.StaticEvaluationIdentity("eval-1"))

	require.NoError(t, h.machine.Begin(context.Background()))
	require.ErrorIs(t, h.machine.Evaluate(), domain.ErrValidation)
	h.capture.add()
	require.ErrorIs(t, h.machine.Finalize(context.Background()), domain.ErrInvalidPhase)

	require.NoError(t, h.machine.Evaluate())
	assert.Equal(t, PhaseEvaluating, h.machine.Phase())
	assert.False(t, h.capture.acquired)

	h.sink.EXPECT().Submit(mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, h.machine.Finalize(context.Background()))
	assert.Equal(t, PhaseCompleted, h.machine.Phase())
	assert.Len(t, h.results(), 1)
}

func TestMachineAbandonReleasesDevices(t *testing.T) {
	t.Parallel()

	h := newHarness(t, descriptor(domain.PolicyFireAndForget, 30*time.Second), PauseResume, ports.StaticEvaluationIdentity("eval-1"))
	require.NoError(t, h.machine.Begin(context.Background()))

	h.machine.Abandon()

	assert.Equal(t, PhaseAbandoned, h.machine.Phase())
	assert.False(t, h.capture.acquired)
	assert.Zero(t, h.sched.Pending())
	require.ErrorIs(t, h.machine.Begin(context.Background()), domain.ErrInvalidPhase)
}
