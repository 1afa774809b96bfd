package cmd

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTracker struct {
	mu       sync.Mutex
	pending  []domain.SubtestID
	failures map[domain.SubtestID]error
	waits    int
}

func (s *stubTracker) InFlight() []domain.SubtestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SubtestID(nil), s.pending...)
}

func (s *stubTracker) SubmissionFailures() map[domain.SubtestID]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	failures := make(map[domain.SubtestID]error, len(s.failures))
	for id, err := range s.failures {
		failures[id] = err
	}
	return failures
}

func (s *stubTracker) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits++
}

func TestDescribePending(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pending []domain.SubtestID
		failed  int
		want    string
	}{
		{name: "none", want: "Waiting for submissions..."},
		{name: "one", pending: []domain.SubtestID{"attention"}, want: "Waiting for the attention submission..."},
		{
			name:    "several with failures",
			pending: []domain.SubtestID{"attention", "executive"},
			failed:  1,
			want:    "Waiting for 2 submissions: attention, executive (1 failed)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, describePending(tt.pending, tt.failed))
		})
	}
}

func TestSubmissionProgressRefreshesOnTick(t *testing.T) {
	t.Parallel()

	tracker := &stubTracker{pending: []domain.SubtestID{"attention"}}
	model := newSubmissionProgressModel(tracker)
	assert.Contains(t, model.View(), "Waiting for the attention submission...")

	tracker.mu.Lock()
	tracker.pending = []domain.SubtestID{"attention", "verbal_immediate"}
	tracker.failures = map[domain.SubtestID]error{"executive": errors.New("status 500")}
	tracker.mu.Unlock()

	updated, _ := model.Update(spinner.TickMsg{ID: model.spinner.ID()})
	assert.Contains(t, updated.View(), "Waiting for 2 submissions: attention, verbal_immediate (1 failed)")

	settled, cmd := updated.Update(submissionsSettledMsg{})
	require.NotNil(t, cmd)
	assert.Empty(t, settled.View())
}

func TestRunSubmissionProgressWaitsForTracker(t *testing.T) {
	t.Parallel()

	tracker := &stubTracker{}
	var out bytes.Buffer
	require.NoError(t, runSubmissionProgress(context.Background(), &out, tracker))
	assert.Equal(t, 1, tracker.waits)
}
