// Package yaml reads administration scripts: a recorded sequence of examiner
// and examinee actions that can be replayed against a battery session.
package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"gopkg.in/yaml.v3"
)

const currentScriptVersion = 1

type Script struct {
	Version      int    `yaml:"version"`
	Patient      string `yaml:"patient"`
	PatientName  string `yaml:"patient_name"`
	EvaluationID string `yaml:"evaluation_id"`
	Operator     string `yaml:"operator"`
	Audio        Audio  `yaml:"audio"`
	Steps        []Step `yaml:"steps"`
}

// Audio is the recording served as the microphone during fluency.
type Audio struct {
	File string `yaml:"file"`
	// Length ends the stream on its own after this much session time.
	Length time.Duration `yaml:"length"`
}

type Step struct {
	Subtest domain.SubtestID `yaml:"subtest"`
	// Skip moves past the subtest without a result.
	Skip    bool     `yaml:"skip"`
	Actions []Action `yaml:"actions"`
}

// Action is one entry of a step. Exactly one field is set.
type Action struct {
	Begin       bool          `yaml:"begin,omitempty"`
	Wait        time.Duration `yaml:"wait,omitempty"`
	Pause       bool          `yaml:"pause,omitempty"`
	Resume      bool          `yaml:"resume,omitempty"`
	Click       *Cell         `yaml:"click,omitempty"`
	FindTargets int           `yaml:"find_targets,omitempty"`
	FindAll     bool          `yaml:"find_all,omitempty"`
	Miss        int           `yaml:"miss,omitempty"`
	Answer      *string       `yaml:"answer,omitempty"`
	Node        string        `yaml:"node,omitempty"`
	Trail       bool          `yaml:"trail,omitempty"`
	Stroke      []Point       `yaml:"stroke,omitempty"`
	Evaluate    bool          `yaml:"evaluate,omitempty"`
	Score       *int          `yaml:"score,omitempty"`
	Finalize    bool          `yaml:"finalize,omitempty"`
}

type Cell struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

type Point struct {
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
	Ms int64   `yaml:"t"`
}

func (a Action) kinds() []string {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(a.Begin, "begin")
	add(a.Wait != 0, "wait")
	add(a.Pause, "pause")
	add(a.Resume, "resume")
	add(a.Click != nil, "click")
	add(a.FindTargets != 0, "find_targets")
	add(a.FindAll, "find_all")
	add(a.Miss != 0, "miss")
	add(a.Answer != nil, "answer")
	add(a.Node != "", "node")
	add(a.Trail, "trail")
	add(len(a.Stroke) > 0, "stroke")
	add(a.Evaluate, "evaluate")
	add(a.Score != nil, "score")
	add(a.Finalize, "finalize")
	return kinds
}

// Kind names the single field set on a.
func (a Action) Kind() string {
	kinds := a.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (p Point) toDomain() domain.Point {
	return domain.Point{X: p.X, Y: p.Y, OffsetMs: p.Ms}
}

// Load reads a script file. A relative audio path is resolved against the
// script's directory.
func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script file: %w", err)
	}

	script, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Script{}, fmt.Errorf("parse script %s: %w", path, err)
	}
	if script.Audio.File != "" && !filepath.IsAbs(script.Audio.File) {
		script.Audio.File = filepath.Join(filepath.Dir(path), script.Audio.File)
	}
	return script, nil
}

func Parse(r io.Reader) (Script, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var script Script
	if err := decoder.Decode(&script); err != nil {
		if errors.Is(err, io.EOF) {
			return Script{}, errors.New("script is empty")
		}
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	if script.Version == 0 {
		script.Version = currentScriptVersion
	}
	if err := script.Validate(); err != nil {
		return Script{}, err
	}
	return script, nil
}

func (s Script) Validate() error {
	var errs []error

	if s.Version > currentScriptVersion {
		errs = append(errs, fmt.Errorf("unsupported script version %d (current %d)", s.Version, currentScriptVersion))
	}
	if s.Audio.Length < 0 {
		errs = append(errs, errors.New("audio.length must be >= 0"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("script has no steps"))
	}

	for i, step := range s.Steps {
		if strings.TrimSpace(string(step.Subtest)) == "" {
			errs = append(errs, fmt.Errorf("steps[%d]: subtest is required", i))
		}
		if step.Skip && len(step.Actions) > 0 {
			errs = append(errs, fmt.Errorf("steps[%d]: a skipped step takes no actions", i))
		}
		for j, action := range step.Actions {
			kinds := action.kinds()
			switch {
			case len(kinds) == 0:
				errs = append(errs, fmt.Errorf("steps[%d].actions[%d]: empty action", i, j))
			case len(kinds) > 1:
				errs = append(errs, fmt.Errorf("steps[%d].actions[%d]: one action per entry, got %s", i, j, strings.Join(kinds, ", ")))
			}
			if action.Wait < 0 || action.FindTargets < 0 || action.Miss < 0 {
				errs = append(errs, fmt.Errorf("steps[%d].actions[%d]: negative value", i, j))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid script: %w", errors.Join(errs...))
	}
	return nil
}
