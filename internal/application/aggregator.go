package application

import (
	"fmt"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
)

// Aggregator is the append-only result log of one session. Results are
// keyed by subtest; the first result recorded for a subtest wins.
type Aggregator struct {
	mu          sync.Mutex
	results     []domain.SubtestResult
	bySubtest   map[domain.SubtestID]int
	activations map[domain.ActivationID]struct{}
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		bySubtest:   map[domain.SubtestID]int{},
		activations: map[domain.ActivationID]struct{}{},
	}
}

func (a *Aggregator) Append(result domain.SubtestResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if result.ActivationID != "" {
		if _, seen := a.activations[result.ActivationID]; seen {
			return fmt.Errorf("append activation %s: %w", result.ActivationID, domain.ErrDuplicateResult)
		}
	}
	if _, seen := a.bySubtest[result.SubtestID]; seen {
		return fmt.Errorf("append subtest %s: %w", result.SubtestID, domain.ErrDuplicateResult)
	}

	a.bySubtest[result.SubtestID] = len(a.results)
	if result.ActivationID != "" {
		a.activations[result.ActivationID] = struct{}{}
	}
	a.results = append(a.results, result)
	return nil
}

func (a *Aggregator) InSubmissionOrder() []domain.SubtestResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.SubtestResult(nil), a.results...)
}

// ByRegistryOrder lists recorded results in battery order, skipping
// subtests without a result.
func (a *Aggregator) ByRegistryOrder(registry *Registry) []domain.SubtestResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := make([]domain.SubtestResult, 0, len(a.results))
	for _, descriptor := range registry.Descriptors() {
		if i, ok := a.bySubtest[descriptor.ID]; ok {
			ordered = append(ordered, a.results[i])
		}
	}
	return ordered
}

func (a *Aggregator) Get(id domain.SubtestID) (domain.SubtestResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.bySubtest[id]
	if !ok {
		return domain.SubtestResult{}, false
	}
	return a.results[i], true
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Reset discards every result. Only a session restart or a new session
// calls it.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results = nil
	a.bySubtest = map[domain.SubtestID]int{}
	a.activations = map[domain.ActivationID]struct{}{}
}
