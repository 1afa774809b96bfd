package summary

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptors() []domain.SubtestDescriptor {
	return []domain.SubtestDescriptor{
		{ID: domain.SubtestAttention, Duration: time.Minute, Policy: domain.PolicyFireAndForget, Modality: domain.ModalityGridClick, Path: "/evaluations/attention"},
		{ID: domain.SubtestVisualMemory, Policy: domain.PolicyBlocking, Modality: domain.ModalityDrawing, OperatorScored: true, Path: "/evaluations/visual_memory"},
		{ID: domain.SubtestExecutive, Policy: domain.PolicyFireAndForget, Modality: domain.ModalityNodePath, Path: "/evaluations/executive"},
	}
}

func TestRenderBatteryListsSubtestsInOrder(t *testing.T) {
	output, err := RenderBattery(Battery{Descriptors: testDescriptors(), Source: "/etc/nb/config.toml"})

	require.NoError(t, err)
	assert.Contains(t, output, "subtests: 3")
	assert.Contains(t, output, "config: /etc/nb/config.toml")
	assert.Contains(t, output, "1. Attention")
	assert.Contains(t, output, "2. Visual memory")
	assert.Contains(t, output, "limit: 1m0s")
	assert.Contains(t, output, "limit: untimed")
	assert.Contains(t, output, "submit: blocking")
	assert.Contains(t, output, "operator scored")
	assert.Contains(t, output, "path: /evaluations/executive")
	assert.Contains(t, output, "timed total: 1m0s")
	assert.Less(t, strings.Index(output, "Attention"), strings.Index(output, "Executive function"))
}

func TestRenderBatteryEmpty(t *testing.T) {
	output, err := RenderBattery(Battery{})

	require.NoError(t, err)
	assert.Contains(t, output, "subtests: 0")
	assert.Contains(t, output, "No subtests configured.")
}

func TestRenderSessionShowsResultsAndFailures(t *testing.T) {
	session := domain.Session{
		ID:           "s-1",
		Patient:      domain.PatientRef{ID: "p-1", Name: "Ana"},
		EvaluationID: "eval-42",
		Status:       domain.SessionCompleted,
		Elapsed:      95 * time.Second,
	}
	results := []domain.SubtestResult{
		{
			SubtestID: domain.SubtestAttention,
			Score:     75,
			Errors:    2,
			Elapsed:   60 * time.Second,
			Payload: domain.AttentionPayload{
				TargetLetter: "K", TotalTargets: 4, CorrectClicks: 3, Errors: 2, TimedOut: true, MeanLatencyMs: 812,
			},
		},
		{
			SubtestID: domain.SubtestVisualMemory,
			Score:     2,
			Elapsed:   20 * time.Second,
			Payload: domain.DrawingPayload{
				Task: "figure_recall", Strokes: []domain.Stroke{{{X: 1, Y: 1}}}, OperatorScore: 2, MaxScore: 3,
			},
		},
	}
	failures := map[domain.SubtestID]error{
		domain.SubtestAttention: errors.New("status 500: boom"),
		"reading":               errors.New("gone"),
	}

	output, err := RenderSession(NewReport(session, testDescriptors(), results, failures))

	require.NoError(t, err)
	assert.Contains(t, output, "patient: Ana (p-1)  evaluation: eval-42")
	assert.Contains(t, output, "elapsed: 95.0s  results: 2/3")
	assert.Contains(t, output, " 75%")
	assert.Contains(t, output, "target K: 3/4  mean latency: 812ms")
	assert.Contains(t, output, "[timed out]")
	assert.Contains(t, output, "2/3")
	assert.Contains(t, output, "figure_recall  strokes: 1")
	assert.Contains(t, output, "not administered")
	assert.Contains(t, output, "[submission failed] status 500: boom")
	assert.Contains(t, output, "failed submissions for unlisted subtests: reading")
}

func TestNewReportKeepsFirstResult(t *testing.T) {
	t.Parallel()

	report := NewReport(domain.Session{}, nil, []domain.SubtestResult{
		{SubtestID: domain.SubtestExecutive, Score: 10},
		{SubtestID: domain.SubtestExecutive, Score: 99},
	}, nil)

	assert.Equal(t, float64(10), report.Results[domain.SubtestExecutive].Score)
}

func TestRenderProgressBar(t *testing.T) {
	t.Parallel()

	s := newStyles()
	assert.Empty(t, renderProgressBar(50, 0, s))
	assert.Contains(t, renderProgressBar(50, 4, s), "==")
	assert.NotContains(t, renderProgressBar(0, 4, s), "=")
	assert.NotContains(t, renderProgressBar(150, 4, s), "-")
}
