package domain

import (
	"fmt"
	"strings"
	"time"
)

type SubtestID string
type SubmissionPolicy string
type Modality string

const (
	SubtestAttention       SubtestID = "attention"
	SubtestVerbalImmediate SubtestID = "verbal_immediate"
	SubtestVisualMemory    SubtestID = "visual_memory"
	SubtestExecutive       SubtestID = "executive"
	SubtestVisuospatial    SubtestID = "visuospatial"
	SubtestFluency         SubtestID = "fluency"
	SubtestVerbalDelayed   SubtestID = "verbal_delayed"
)

const (
	// PolicyFireAndForget reports local completion before the sink answers.
	PolicyFireAndForget SubmissionPolicy = "fire_and_forget"
	// PolicyBlocking holds completion until the sink confirms persistence.
	PolicyBlocking SubmissionPolicy = "blocking"
)

const (
	ModalityGridClick Modality = "grid_click"
	ModalityNodePath  Modality = "node_path"
	ModalityFreeText  Modality = "free_text"
	ModalityAudio     Modality = "audio"
	ModalityDrawing   Modality = "drawing"
)

func (p SubmissionPolicy) Valid() bool {
	switch p {
	case PolicyFireAndForget, PolicyBlocking:
		return true
	default:
		return false
	}
}

type SubtestDescriptor struct {
	ID             SubtestID
	NameKey        string
	DescriptionKey string
	// Duration is zero for subtests without a time limit.
	Duration       time.Duration
	Policy         SubmissionPolicy
	Modality       Modality
	OperatorScored bool
	Path           string
}

func (d SubtestDescriptor) Bounded() bool {
	return d.Duration > 0
}

func (d SubtestDescriptor) Validate() error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return fmt.Errorf("id is required")
	}
	if !d.Policy.Valid() {
		return fmt.Errorf("subtest %s: unsupported submission policy %q", d.ID, d.Policy)
	}
	if d.Duration < 0 {
		return fmt.Errorf("subtest %s: duration must be >= 0", d.ID)
	}
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("subtest %s: submission path is required", d.ID)
	}

	return nil
}
