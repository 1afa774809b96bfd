package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/neurobattery/internal/adapters/clock"
	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

// stubCapture accepts any activation and scores it 1.
type stubCapture struct{}

func (stubCapture) Acquire(context.Context) error { return nil }
func (stubCapture) Release()                      {}
func (stubCapture) Reset()                        {}
func (stubCapture) Outcome(meta lifecycle.Meta) (lifecycle.Outcome, error) {
	return lifecycle.Outcome{Score: 1, Body: map[string]any{"evaluationId": meta.EvaluationID}}, nil
}

func stubDescriptor(id string, policy domain.SubmissionPolicy) domain.SubtestDescriptor {
	return domain.SubtestDescriptor{ID: domain.SubtestID(id), Policy: policy, Path: "/evaluations/" + id}
}

func stubEntry(id string, policy domain.SubmissionPolicy) RegistryEntry {
	descriptor := stubDescriptor(id, policy)
	return Entry(descriptor, func(deps lifecycle.Deps) lifecycle.Subtest {
		return lifecycle.New(descriptor, lifecycle.PauseResume, stubCapture{}, deps)
	})
}

func stubRegistry(t *testing.T, ids ...string) *Registry {
	t.Helper()

	entries := make([]RegistryEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, stubEntry(id, domain.PolicyFireAndForget))
	}
	registry, err := NewRegistry(entries...)
	require.NoError(t, err)
	return registry
}

type countingListener struct {
	mu    sync.Mutex
	calls int
}

func (l *countingListener) SessionCompleted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
}

func (l *countingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func newTestSequencer(t *testing.T, registry *Registry, listener CompletionListener) (*Sequencer, *clock.Virtual) {
	t.Helper()

	virtual := clock.NewVirtual(epoch)
	return NewSequencer(registry, NewAggregator(), SequencerDeps{
		Scheduler: virtual,
		Clock:     virtual,
		Listener:  listener,
	}), virtual
}

func resultFor(id domain.SubtestID, activation string) domain.SubtestResult {
	return domain.SubtestResult{SubtestID: id, ActivationID: domain.ActivationID(activation), Score: 1}
}
