package application

import (
	"fmt"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/subtests"
)

// SubtestSettings overrides the default descriptor of one subtest. Zero
// fields keep the default.
type SubtestSettings struct {
	Duration *time.Duration
	Policy   domain.SubmissionPolicy
	Path     string
}

type BatteryConfig struct {
	Subtests        map[domain.SubtestID]SubtestSettings
	Attention       subtests.AttentionConfig
	Executive       subtests.ExecutiveConfig
	ReferenceWords  []string
	DrawingMaxScore int
	FluencyCategory string
}

// DefaultDescriptors is the standard battery in administration order.
func DefaultDescriptors() []domain.SubtestDescriptor {
	descriptor := func(id domain.SubtestID, duration time.Duration, policy domain.SubmissionPolicy, modality domain.Modality, operatorScored bool) domain.SubtestDescriptor {
		return domain.SubtestDescriptor{
			ID:             id,
			NameKey:        "subtest." + string(id) + ".name",
			DescriptionKey: "subtest." + string(id) + ".description",
			Duration:       duration,
			Policy:         policy,
			Modality:       modality,
			OperatorScored: operatorScored,
			Path:           "/evaluations/" + string(id),
		}
	}

	return []domain.SubtestDescriptor{
		descriptor(domain.SubtestAttention, 60*time.Second, domain.PolicyFireAndForget, domain.ModalityGridClick, false),
		descriptor(domain.SubtestVerbalImmediate, 0, domain.PolicyFireAndForget, domain.ModalityFreeText, false),
		descriptor(domain.SubtestVisualMemory, 0, domain.PolicyBlocking, domain.ModalityDrawing, true),
		descriptor(domain.SubtestExecutive, 0, domain.PolicyFireAndForget, domain.ModalityNodePath, false),
		descriptor(domain.SubtestVisuospatial, 0, domain.PolicyBlocking, domain.ModalityDrawing, true),
		descriptor(domain.SubtestFluency, 60*time.Second, domain.PolicyBlocking, domain.ModalityAudio, false),
		descriptor(domain.SubtestVerbalDelayed, 0, domain.PolicyFireAndForget, domain.ModalityFreeText, false),
	}
}

// NewBattery resolves every subtest to its concrete machine once, so the
// runner never dispatches on subtest identity.
func NewBattery(cfg BatteryConfig, providers subtests.Providers) (*Registry, error) {
	descriptors := DefaultDescriptors()
	entries := make([]RegistryEntry, 0, len(descriptors))

	for _, descriptor := range descriptors {
		if settings, ok := cfg.Subtests[descriptor.ID]; ok {
			descriptor = applySettings(descriptor, settings)
		}

		factory, err := factoryFor(descriptor, cfg, providers)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry(descriptor, factory))
	}

	return NewRegistry(entries...)
}

func applySettings(descriptor domain.SubtestDescriptor, settings SubtestSettings) domain.SubtestDescriptor {
	if settings.Duration != nil {
		descriptor.Duration = *settings.Duration
	}
	if settings.Policy != "" {
		descriptor.Policy = settings.Policy
	}
	if settings.Path != "" {
		descriptor.Path = settings.Path
	}
	return descriptor
}

func factoryFor(descriptor domain.SubtestDescriptor, cfg BatteryConfig, providers subtests.Providers) (Factory, error) {
	switch descriptor.ID {
	case domain.SubtestAttention:
		return func(deps lifecycle.Deps) lifecycle.Subtest {
			return subtests.NewAttention(descriptor, cfg.Attention, deps)
		}, nil
	case domain.SubtestVerbalImmediate, domain.SubtestVerbalDelayed:
		phase := subtests.RecallImmediate
		if descriptor.ID == domain.SubtestVerbalDelayed {
			phase = subtests.RecallDelayed
		}
		recall := subtests.RecallConfig{Phase: phase, Reference: cfg.ReferenceWords}
		return func(deps lifecycle.Deps) lifecycle.Subtest {
			return subtests.NewRecall(descriptor, recall, deps)
		}, nil
	case domain.SubtestVisualMemory, domain.SubtestVisuospatial:
		task := subtests.TaskFigureRecall
		if descriptor.ID == domain.SubtestVisuospatial {
			task = subtests.TaskClockDrawing
		}
		drawing := subtests.DrawingConfig{Task: task, MaxScore: cfg.DrawingMaxScore}
		return func(deps lifecycle.Deps) lifecycle.Subtest {
			return subtests.NewDrawing(descriptor, drawing, providers.Pointer, deps)
		}, nil
	case domain.SubtestExecutive:
		return func(deps lifecycle.Deps) lifecycle.Subtest {
			return subtests.NewExecutive(descriptor, cfg.Executive, deps)
		}, nil
	case domain.SubtestFluency:
		fluency := subtests.FluencyConfig{Category: cfg.FluencyCategory}
		return func(deps lifecycle.Deps) lifecycle.Subtest {
			return subtests.NewFluency(descriptor, fluency, providers.Audio, deps)
		}, nil
	default:
		return nil, fmt.Errorf("resolve subtest %q: %w", descriptor.ID, domain.ErrUnknownSubtest)
	}
}
