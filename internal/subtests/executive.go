package subtests

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
)

const maxPlacementAttempts = 100

type ExecutiveConfig struct {
	NodeCount   int
	Width       float64
	Height      float64
	Margin      float64
	MinDistance float64
	ErrorDelay  time.Duration
	Seed        uint64
}

func (c ExecutiveConfig) withDefaults() ExecutiveConfig {
	if c.NodeCount <= 0 {
		c.NodeCount = 8
	}
	if c.Width <= 0 {
		c.Width = 800
	}
	if c.Height <= 0 {
		c.Height = 600
	}
	if c.Margin <= 0 {
		c.Margin = 30
	}
	if c.MinDistance <= 0 {
		c.MinDistance = 80
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = 500 * time.Millisecond
	}
	return c
}

type Node struct {
	Label string
	X     float64
	Y     float64
}

// NumericSequence returns 1..n.
func NumericSequence(n int) []string {
	labels := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		labels = append(labels, strconv.Itoa(i))
	}
	return labels
}

// AlternatingSequence returns n labels alternating numbers and letters:
// 1, A, 2, B, ...
func AlternatingSequence(n int) []string {
	labels := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			labels = append(labels, strconv.Itoa(i/2+1))
		} else {
			labels = append(labels, string(rune('A'+i/2)))
		}
	}
	return labels
}

// PlaceNodes scatters labels over the canvas keeping MinDistance between
// nodes. Each node gets up to 100 candidates; the last one is kept if none
// fits.
func PlaceNodes(labels []string, cfg ExecutiveConfig, rng *rand.Rand) []Node {
	cfg = cfg.withDefaults()
	nodes := make([]Node, 0, len(labels))

	for _, label := range labels {
		var candidate Node
		for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
			candidate = Node{
				Label: label,
				X:     cfg.Margin + rng.Float64()*(cfg.Width-2*cfg.Margin),
				Y:     cfg.Margin + rng.Float64()*(cfg.Height-2*cfg.Margin),
			}
			if farEnough(candidate, nodes, cfg.MinDistance) {
				break
			}
		}
		nodes = append(nodes, candidate)
	}
	return nodes
}

func farEnough(candidate Node, placed []Node, minDistance float64) bool {
	for _, node := range placed {
		if math.Hypot(candidate.X-node.X, candidate.Y-node.Y) < minDistance {
			return false
		}
	}
	return true
}

// Executive is the two-part trail-making task.
type Executive struct {
	*lifecycle.Machine
	capture *executiveCapture
}

type executiveCapture struct {
	cfg       ExecutiveConfig
	clock     ports.Clock
	scheduler ports.Scheduler
	rng       *rand.Rand

	mu          sync.Mutex
	part        int
	nodes       []Node
	next        int
	errors      [2]int
	times       [2]time.Duration
	partStart   time.Time
	releasedAt  time.Time
	started     bool
	locked      bool
	cancelDelay func()
}

func NewExecutive(descriptor domain.SubtestDescriptor, cfg ExecutiveConfig, deps lifecycle.Deps) *Executive {
	cfg = cfg.withDefaults()
	capture := &executiveCapture{
		cfg:       cfg,
		clock:     clockOf(deps),
		scheduler: deps.Scheduler,
		rng:       newRand(cfg.Seed),
	}
	capture.Reset()

	return &Executive{
		Machine: lifecycle.New(descriptor, lifecycle.PauseResume, capture, deps),
		capture: capture,
	}
}

// Part is 0 for the numeric sequence and 1 for the alternating one.
func (e *Executive) Part() int {
	e.capture.mu.Lock()
	defer e.capture.mu.Unlock()
	return e.capture.part
}

func (e *Executive) Nodes() []Node {
	e.capture.mu.Lock()
	defer e.capture.mu.Unlock()
	return append([]Node(nil), e.capture.nodes...)
}

func (e *Executive) Expected() string {
	e.capture.mu.Lock()
	defer e.capture.mu.Unlock()
	if e.capture.next >= len(e.capture.nodes) {
		return ""
	}
	return e.capture.nodes[e.capture.next].Label
}

// Click visits a node. A wrong node counts an error and locks input until
// the error delay has elapsed; progress made so far is kept.
func (e *Executive) Click(ctx context.Context, label string) error {
	if phase := e.Phase(); phase != lifecycle.PhaseActive {
		return fmt.Errorf("click in %s: %w", phase, domain.ErrInvalidPhase)
	}

	c := e.capture
	c.mu.Lock()
	if c.locked {
		c.mu.Unlock()
		return ErrNodeLocked
	}
	if c.next >= len(c.nodes) {
		c.mu.Unlock()
		return fmt.Errorf("click after last node: %w", domain.ErrInvalidPhase)
	}

	if c.nodes[c.next].Label != label {
		c.errors[c.part]++
		c.locked = true
		if c.scheduler != nil {
			c.cancelDelay = c.scheduler.After(c.cfg.ErrorDelay, c.unlock)
		} else {
			c.locked = false
		}
		c.mu.Unlock()
		return nil
	}

	c.next++
	finished := false
	if c.next == len(c.nodes) {
		now := c.clock.Now()
		c.times[c.part] = now.Sub(c.partStart)
		if c.part == 0 {
			c.part = 1
			c.nodes = PlaceNodes(AlternatingSequence(c.cfg.NodeCount), c.cfg, c.rng)
			c.next = 0
			c.partStart = now
		} else {
			finished = true
		}
	}
	c.mu.Unlock()

	if finished {
		return e.Finalize(ctx)
	}
	return nil
}

func (c *executiveCapture) unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
	c.cancelDelay = nil
}

func (c *executiveCapture) Acquire(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	switch {
	case !c.started:
		c.partStart = now
		c.started = true
	case !c.releasedAt.IsZero():
		c.partStart = c.partStart.Add(now.Sub(c.releasedAt))
	}
	c.releasedAt = time.Time{}
	return nil
}

func (c *executiveCapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelDelay != nil {
		c.cancelDelay()
		c.cancelDelay = nil
	}
	c.locked = false
	if c.started && c.releasedAt.IsZero() {
		c.releasedAt = c.clock.Now()
	}
}

func (c *executiveCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.part = 0
	c.nodes = PlaceNodes(NumericSequence(c.cfg.NodeCount), c.cfg, c.rng)
	c.next = 0
	c.errors = [2]int{}
	c.times = [2]time.Duration{}
	c.started = false
	c.releasedAt = time.Time{}
	c.locked = false
}

func (c *executiveCapture) Outcome(meta lifecycle.Meta) (lifecycle.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := meta.EndedAt
	if !c.releasedAt.IsZero() {
		end = c.releasedAt
	}
	if c.part == 1 && c.next < len(c.nodes) {
		c.times[1] = end.Sub(c.partStart)
	} else if c.part == 0 {
		c.times[0] = end.Sub(c.partStart)
	}

	total := c.times[0] + c.times[1]
	return lifecycle.Outcome{
		Score:  total.Seconds(),
		Errors: c.errors[0] + c.errors[1],
		Body: domain.ExecutivePayload{
			EvaluationID: meta.EvaluationID,
			NodeCount:    c.cfg.NodeCount,
			PartATimeMs:  millis(c.times[0]),
			PartAErrors:  c.errors[0],
			PartBTimeMs:  millis(c.times[1]),
			PartBErrors:  c.errors[1],
		},
	}, nil
}
