package subtests

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateGridAlwaysContainsTarget(t *testing.T) {
	t.Parallel()

	for seed := uint64(1); seed <= 500; seed++ {
		rng := newRand(seed)
		grid, attempts := GenerateGrid(2, 2, rng)

		require.GreaterOrEqual(t, grid.Targets(), 1, "seed %d", seed)
		require.LessOrEqual(t, attempts, maxGridAttempts, "seed %d", seed)
		require.Len(t, grid.Letters, 2)
		require.Len(t, grid.Letters[0], 2)
	}
}

func TestGenerateGridForcesTargetOnOneByOne(t *testing.T) {
	t.Parallel()

	for seed := uint64(1); seed <= 200; seed++ {
		grid, _ := GenerateGrid(1, 1, newRand(seed))
		assert.Equal(t, grid.Target, grid.Letters[0][0])
	}
}

func TestAttentionFindingAllTargetsScoresFullMarks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.accept()
	a := NewAttention(testDescriptor(domain.SubtestAttention, domain.PolicyFireAndForget, 120*time.Second),
		AttentionConfig{Seed: 7}, f.deps())

	ctx := context.Background()
	require.NoError(t, a.Begin(ctx))

	grid := a.Grid()
	require.Equal(t, DefaultAttentionRows, grid.Rows)
	require.Equal(t, DefaultAttentionColumns, grid.Cols)

	for r, row := range grid.Letters {
		for c, letter := range row {
			if letter != grid.Target {
				continue
			}
			f.clock.Advance(200 * time.Millisecond)
			require.NoError(t, a.Click(ctx, r, c))
		}
	}
	a.Wait()

	assert.Equal(t, lifecycle.PhaseCompleted, a.Phase())
	result, ok := a.Result()
	require.True(t, ok)
	assert.InDelta(t, 100.0, result.Score, 0.001)
	assert.Zero(t, result.Errors)

	payload, ok := result.Payload.(domain.AttentionPayload)
	require.True(t, ok)
	assert.Equal(t, "eval-42", payload.EvaluationID)
	assert.Equal(t, grid.Targets(), payload.CorrectClicks)
	assert.False(t, payload.TimedOut)
	assert.InDelta(t, 200.0, payload.MeanLatencyMs, 0.001)
	require.Len(t, f.sent(), 1)
}

func TestAttentionWrongClickCountsErrorAndLocksCell(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := NewAttention(testDescriptor(domain.SubtestAttention, domain.PolicyFireAndForget, 0),
		AttentionConfig{Rows: 3, Cols: 3, Seed: 11}, f.deps())

	ctx := context.Background()
	require.NoError(t, a.Begin(ctx))

	grid := a.Grid()
	row, col := -1, -1
	for r := range grid.Letters {
		for c := range grid.Letters[r] {
			if grid.Letters[r][c] != grid.Target && row < 0 {
				row, col = r, c
			}
		}
	}
	if row < 0 {
		t.Skip("grid is all targets for this seed")
	}

	require.NoError(t, a.Click(ctx, row, col))
	require.ErrorIs(t, a.Click(ctx, row, col), domain.ErrCellResolved)
	require.ErrorIs(t, a.Click(ctx, 5, 0), domain.ErrValidation)
	assert.Equal(t, lifecycle.PhaseActive, a.Phase())

	a.Abandon()
	require.ErrorIs(t, a.Click(ctx, 0, 0), domain.ErrInvalidPhase)
}

func TestAttentionTimeoutSubmitsPartialResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.accept()
	a := NewAttention(testDescriptor(domain.SubtestAttention, domain.PolicyFireAndForget, 60*time.Second),
		AttentionConfig{Seed: 3}, f.deps())

	require.NoError(t, a.Begin(context.Background()))
	f.clock.Advance(60 * time.Second)
	a.Wait()

	result, ok := a.Result()
	require.True(t, ok)
	assert.Zero(t, result.Score)
	assert.Equal(t, 60*time.Second, result.Elapsed)

	payload := result.Payload.(domain.AttentionPayload)
	assert.True(t, payload.TimedOut)
	assert.Equal(t, int64(60000), payload.ElapsedMs)
}

func TestAttentionLatencyLeavesOutPausedTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.accept()
	a := NewAttention(testDescriptor(domain.SubtestAttention, domain.PolicyFireAndForget, 120*time.Second),
		AttentionConfig{Seed: 7}, f.deps())

	ctx := context.Background()
	require.NoError(t, a.Begin(ctx))

	grid := a.Grid()
	paused := false
	for r, row := range grid.Letters {
		for c, letter := range row {
			if letter != grid.Target {
				continue
			}
			if !paused {
				f.clock.Advance(100 * time.Millisecond)
				require.NoError(t, a.Pause())
				f.clock.Advance(30 * time.Second)
				require.NoError(t, a.Resume(ctx))
				f.clock.Advance(100 * time.Millisecond)
				paused = true
			} else {
				f.clock.Advance(200 * time.Millisecond)
			}
			require.NoError(t, a.Click(ctx, r, c))
		}
	}
	a.Wait()

	result, ok := a.Result()
	require.True(t, ok)
	payload := result.Payload.(domain.AttentionPayload)
	assert.InDelta(t, 200.0, payload.MeanLatencyMs, 0.001)
}
