package application

import (
	"fmt"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
)

// Factory builds a fresh lifecycle machine for one activation of a subtest.
type Factory func(deps lifecycle.Deps) lifecycle.Subtest

type RegistryEntry struct {
	Descriptor domain.SubtestDescriptor
	factory    Factory
}

func Entry(descriptor domain.SubtestDescriptor, factory Factory) RegistryEntry {
	return RegistryEntry{Descriptor: descriptor, factory: factory}
}

// Registry is the fixed, ordered battery. It is built once and never
// mutated.
type Registry struct {
	entries []RegistryEntry
	index   map[domain.SubtestID]int
}

func NewRegistry(entries ...RegistryEntry) (*Registry, error) {
	registry := &Registry{
		entries: make([]RegistryEntry, 0, len(entries)),
		index:   make(map[domain.SubtestID]int, len(entries)),
	}

	for _, entry := range entries {
		if err := entry.Descriptor.Validate(); err != nil {
			return nil, fmt.Errorf("register subtest %q: %w", entry.Descriptor.ID, err)
		}
		if entry.factory == nil {
			return nil, fmt.Errorf("register subtest %q: missing factory: %w", entry.Descriptor.ID, domain.ErrValidation)
		}
		if _, exists := registry.index[entry.Descriptor.ID]; exists {
			return nil, fmt.Errorf("register subtest %q: duplicate id: %w", entry.Descriptor.ID, domain.ErrValidation)
		}
		registry.index[entry.Descriptor.ID] = len(registry.entries)
		registry.entries = append(registry.entries, entry)
	}

	return registry, nil
}

func (r *Registry) Len() int {
	return len(r.entries)
}

func (r *Registry) At(i int) (domain.SubtestDescriptor, bool) {
	if i < 0 || i >= len(r.entries) {
		return domain.SubtestDescriptor{}, false
	}
	return r.entries[i].Descriptor, true
}

func (r *Registry) Descriptors() []domain.SubtestDescriptor {
	descriptors := make([]domain.SubtestDescriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		descriptors = append(descriptors, entry.Descriptor)
	}
	return descriptors
}

func (r *Registry) Index(id domain.SubtestID) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// TotalDuration sums the bounded durations of the battery.
func (r *Registry) TotalDuration() (total time.Duration) {
	for _, entry := range r.entries {
		total += entry.Descriptor.Duration
	}
	return total
}

func (r *Registry) build(i int, deps lifecycle.Deps) (lifecycle.Subtest, error) {
	if i < 0 || i >= len(r.entries) {
		return nil, fmt.Errorf("build subtest at %d: %w", i, domain.ErrUnknownSubtest)
	}
	return r.entries[i].factory(deps), nil
}
