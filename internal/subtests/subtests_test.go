package subtests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/neurobattery/internal/adapters/clock"
	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
	"github.com/bnema/neurobattery/internal/ports/mocks"
	"github.com/stretchr/testify/mock"
)

var testStart = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type fixture struct {
	clock *clock.Virtual
	sink  *mocks.MockSubmissionSink

	mu          sync.Mutex
	submissions []ports.Submission
	completed   []domain.SubtestResult
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		clock: clock.NewVirtual(testStart),
		sink:  mocks.NewMockSubmissionSink(t),
	}
}

// accept makes the sink record and accept every submission.
func (f *fixture) accept() {
	f.sink.EXPECT().Submit(mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, submission ports.Submission) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.submissions = append(f.submissions, submission)
			return nil
		}).Maybe()
}

func (f *fixture) deps() lifecycle.Deps {
	return lifecycle.Deps{
		Scheduler: f.clock,
		Clock:     f.clock,
		Sink:      f.sink,
		Identity:  ports.StaticEvaluationIdentity("eval-42"),
		OnComplete: func(result domain.SubtestResult) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.completed = append(f.completed, result)
		},
	}
}

func (f *fixture) sent() []ports.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.Submission(nil), f.submissions...)
}

func (f *fixture) results() []domain.SubtestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SubtestResult(nil), f.completed...)
}

func testDescriptor(id domain.SubtestID, policy domain.SubmissionPolicy, duration time.Duration) domain.SubtestDescriptor {
	return domain.SubtestDescriptor{
		ID:       id,
		Duration: duration,
		Policy:   policy,
		Path:     "/evaluations/" + string(id),
	}
}
