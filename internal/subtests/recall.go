package subtests

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
)

const (
	RecallImmediate = "immediate"
	RecallDelayed   = "delayed"
)

var DefaultReferenceWords = []string{"gato", "perro", "vaca", "mesa", "rosa", "libro"}

type RecallConfig struct {
	Phase     string
	Reference []string
}

func (c RecallConfig) withDefaults() RecallConfig {
	if c.Phase == "" {
		c.Phase = RecallImmediate
	}
	if len(c.Reference) == 0 {
		c.Reference = DefaultReferenceWords
	}
	normalized := make([]string, 0, len(c.Reference))
	for _, word := range c.Reference {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(word)))
	}
	c.Reference = normalized
	return c
}

// ParseRecall splits free text into lowercase tokens. Repeated words are kept
// so perseverations survive into scoring.
func ParseRecall(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '.'
	})

	words := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.ToLower(strings.TrimSpace(field))
		if word != "" {
			words = append(words, word)
		}
	}
	return words
}

type RecallScore struct {
	Correct        int
	Intrusions     int
	Perseverations int
}

func ScoreRecall(words, reference []string) RecallScore {
	inReference := make(map[string]struct{}, len(reference))
	for _, word := range reference {
		inReference[word] = struct{}{}
	}

	var score RecallScore
	seen := make(map[string]struct{}, len(words))
	for _, word := range words {
		if _, ok := seen[word]; ok {
			score.Perseverations++
			continue
		}
		seen[word] = struct{}{}
		if _, ok := inReference[word]; ok {
			score.Correct++
		} else {
			score.Intrusions++
		}
	}
	return score
}

// Recall is the verbal memory subtest, used for both the immediate and the
// delayed trial.
type Recall struct {
	*lifecycle.Machine
	capture *recallCapture
}

type recallCapture struct {
	cfg RecallConfig

	mu    sync.Mutex
	words []string
}

func NewRecall(descriptor domain.SubtestDescriptor, cfg RecallConfig, deps lifecycle.Deps) *Recall {
	capture := &recallCapture{cfg: cfg.withDefaults()}

	return &Recall{
		Machine: lifecycle.New(descriptor, lifecycle.PauseResume, capture, deps),
		capture: capture,
	}
}

func (r *Recall) Reference() []string {
	return append([]string(nil), r.capture.cfg.Reference...)
}

// SubmitText records the examinee's recalled words, replacing any earlier
// entry for this activation.
func (r *Recall) SubmitText(text string) error {
	if phase := r.Phase(); phase != lifecycle.PhaseActive {
		return fmt.Errorf("submit recall in %s: %w", phase, domain.ErrInvalidPhase)
	}

	words := ParseRecall(text)
	if len(words) == 0 {
		return fmt.Errorf("recall needs at least one word: %w", domain.ErrValidation)
	}

	r.capture.mu.Lock()
	r.capture.words = words
	r.capture.mu.Unlock()
	return nil
}

func (r *Recall) Words() []string {
	r.capture.mu.Lock()
	defer r.capture.mu.Unlock()
	return append([]string(nil), r.capture.words...)
}

// SubmitAndFinalize is the usual operator path: record the answer and close
// the subtest.
func (r *Recall) SubmitAndFinalize(ctx context.Context, text string) error {
	if err := r.SubmitText(text); err != nil {
		return err
	}
	return r.Finalize(ctx)
}

func (c *recallCapture) Acquire(context.Context) error { return nil }

func (c *recallCapture) Release() {}

func (c *recallCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.words = nil
}

func (c *recallCapture) Validate(lifecycle.Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.words) == 0 {
		return fmt.Errorf("no recalled words: %w", domain.ErrValidation)
	}
	return nil
}

func (c *recallCapture) Outcome(meta lifecycle.Meta) (lifecycle.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	score := ScoreRecall(c.words, c.cfg.Reference)
	normalized := 0.0
	if len(c.cfg.Reference) > 0 {
		normalized = float64(score.Correct) / float64(len(c.cfg.Reference)) * 100
	}

	return lifecycle.Outcome{
		Score:  normalized,
		Errors: score.Intrusions,
		Body: domain.RecallPayload{
			EvaluationID:   meta.EvaluationID,
			Phase:          c.cfg.Phase,
			Words:          append([]string(nil), c.words...),
			Correct:        score.Correct,
			Intrusions:     score.Intrusions,
			Perseverations: score.Perseverations,
			ElapsedMs:      millis(meta.Elapsed()),
		},
	}, nil
}
