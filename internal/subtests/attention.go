package subtests

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
)

const (
	alphabet                = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxGridAttempts         = 10
	DefaultAttentionRows    = 14
	DefaultAttentionColumns = 22
)

type AttentionConfig struct {
	Rows int
	Cols int
	Seed uint64
}

func (c AttentionConfig) withDefaults() AttentionConfig {
	if c.Rows <= 0 {
		c.Rows = DefaultAttentionRows
	}
	if c.Cols <= 0 {
		c.Cols = DefaultAttentionColumns
	}
	return c
}

type Grid struct {
	Rows    int
	Cols    int
	Target  byte
	Letters [][]byte
}

func (g Grid) Targets() int {
	count := 0
	for _, row := range g.Letters {
		for _, letter := range row {
			if letter == g.Target {
				count++
			}
		}
	}
	return count
}

// GenerateGrid fills a rows×cols grid with uniform random letters and picks a
// target, regenerating up to ten times until the target appears. If every
// attempt misses, one random cell is overwritten with the target.
func GenerateGrid(rows, cols int, rng *rand.Rand) (Grid, int) {
	target := alphabet[rng.IntN(len(alphabet))]

	var grid Grid
	for attempt := 1; attempt <= maxGridAttempts; attempt++ {
		grid = randomGrid(rows, cols, target, rng)
		if grid.Targets() > 0 {
			return grid, attempt
		}
	}

	grid.Letters[rng.IntN(rows)][rng.IntN(cols)] = target
	return grid, maxGridAttempts
}

func randomGrid(rows, cols int, target byte, rng *rand.Rand) Grid {
	letters := make([][]byte, rows)
	for r := range letters {
		letters[r] = make([]byte, cols)
		for c := range letters[r] {
			letters[r][c] = alphabet[rng.IntN(len(alphabet))]
		}
	}
	return Grid{Rows: rows, Cols: cols, Target: target, Letters: letters}
}

// Attention is the letter-matrix scan: find every occurrence of the target
// before the countdown runs out.
type Attention struct {
	*lifecycle.Machine
	capture *attentionCapture
}

type attentionCapture struct {
	cfg   AttentionConfig
	clock ports.Clock
	rng   *rand.Rand

	mu        sync.Mutex
	grid      Grid
	resolved  [][]bool
	total     int
	found     int
	errors    int
	latencies []time.Duration
	lastHit   time.Time
	acquired  bool
	// releasedAt is set while paused so the gap can be left out of latencies.
	releasedAt time.Time
}

func NewAttention(descriptor domain.SubtestDescriptor, cfg AttentionConfig, deps lifecycle.Deps) *Attention {
	cfg = cfg.withDefaults()
	capture := &attentionCapture{cfg: cfg, clock: clockOf(deps), rng: newRand(cfg.Seed)}
	capture.Reset()

	return &Attention{
		Machine: lifecycle.New(descriptor, lifecycle.PauseResume, capture, deps),
		capture: capture,
	}
}

func (a *Attention) Grid() Grid {
	a.capture.mu.Lock()
	defer a.capture.mu.Unlock()
	return a.capture.grid
}

// Click resolves one cell. The subtest finalizes itself once every target
// has been found.
func (a *Attention) Click(ctx context.Context, row, col int) error {
	if phase := a.Phase(); phase != lifecycle.PhaseActive {
		return fmt.Errorf("click in %s: %w", phase, domain.ErrInvalidPhase)
	}

	c := a.capture
	c.mu.Lock()
	if row < 0 || row >= c.grid.Rows || col < 0 || col >= c.grid.Cols {
		c.mu.Unlock()
		return fmt.Errorf("click %d,%d outside grid: %w", row, col, domain.ErrValidation)
	}
	if c.resolved[row][col] {
		c.mu.Unlock()
		return fmt.Errorf("click %d,%d: %w", row, col, domain.ErrCellResolved)
	}

	c.resolved[row][col] = true
	if c.grid.Letters[row][col] == c.grid.Target {
		now := c.clock.Now()
		c.latencies = append(c.latencies, now.Sub(c.lastHit))
		c.lastHit = now
		c.found++
	} else {
		c.errors++
	}
	allFound := c.found == c.total
	c.mu.Unlock()

	if allFound {
		return a.Finalize(ctx)
	}
	return nil
}

func (c *attentionCapture) Acquire(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	switch {
	case !c.acquired:
		c.lastHit = now
	case !c.releasedAt.IsZero():
		c.lastHit = c.lastHit.Add(now.Sub(c.releasedAt))
	}
	c.releasedAt = time.Time{}
	c.acquired = true
	return nil
}

func (c *attentionCapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acquired && c.releasedAt.IsZero() {
		c.releasedAt = c.clock.Now()
	}
}

func (c *attentionCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.grid, _ = GenerateGrid(c.cfg.Rows, c.cfg.Cols, c.rng)
	c.resolved = make([][]bool, c.grid.Rows)
	for r := range c.resolved {
		c.resolved[r] = make([]bool, c.grid.Cols)
	}
	c.total = c.grid.Targets()
	c.found = 0
	c.errors = 0
	c.latencies = nil
	c.acquired = false
	c.releasedAt = time.Time{}
}

func (c *attentionCapture) Outcome(meta lifecycle.Meta) (lifecycle.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	score := 0.0
	if c.total > 0 {
		score = float64(c.found) / float64(c.total) * 100
	}

	var meanLatency float64
	if len(c.latencies) > 0 {
		var sum time.Duration
		for _, latency := range c.latencies {
			sum += latency
		}
		meanLatency = float64(sum.Milliseconds()) / float64(len(c.latencies))
	}

	return lifecycle.Outcome{
		Score:  score,
		Errors: c.errors,
		Body: domain.AttentionPayload{
			EvaluationID:  meta.EvaluationID,
			TargetLetter:  string(c.grid.Target),
			Rows:          c.grid.Rows,
			Cols:          c.grid.Cols,
			TotalTargets:  c.total,
			CorrectClicks: c.found,
			Errors:        c.errors,
			TimedOut:      meta.TimedOut,
			ElapsedMs:     millis(meta.Elapsed()),
			MeanLatencyMs: meanLatency,
		},
	}, nil
}
