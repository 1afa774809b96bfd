package subtests

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/lifecycle"
	"github.com/bnema/neurobattery/internal/ports"
)

const defaultAudioMimeType = "audio/webm"

type FluencyConfig struct {
	Category string
}

// Fluency records the examinee naming words of a category until the time
// limit. Pausing drops the recording; the examiner starts over.
type Fluency struct {
	*lifecycle.Machine
	capture *fluencyCapture
}

type fluencyCapture struct {
	category string
	audio    ports.AudioCapture
	onEnded  func()

	mu        sync.Mutex
	stream    ports.AudioStream
	watchDone chan struct{}
	recording ports.Recording
	stopErr   error
}

func NewFluency(descriptor domain.SubtestDescriptor, cfg FluencyConfig, audio ports.AudioCapture, deps lifecycle.Deps) *Fluency {
	category := cfg.Category
	if category == "" {
		category = "animals"
	}

	f := &Fluency{capture: &fluencyCapture{category: category, audio: audio}}
	f.Machine = lifecycle.New(descriptor, lifecycle.PauseRestart, f.capture, deps)
	f.capture.onEnded = func() {
		f.Conclude(context.Background(), "recording ended")
	}
	return f
}

func (f *Fluency) Category() string {
	return f.capture.category
}

func (c *fluencyCapture) Acquire(ctx context.Context) error {
	if c.audio == nil {
		return ErrNoMicrophone
	}

	stream, err := c.audio.Open(ctx)
	if err != nil {
		return err
	}

	watchDone := make(chan struct{})
	c.mu.Lock()
	c.stream = stream
	c.watchDone = watchDone
	c.mu.Unlock()

	go func() {
		select {
		case <-stream.Done():
			if c.current(stream) {
				c.onEnded()
			}
		case <-watchDone:
		}
	}()
	return nil
}

// current reports whether stream is still the open one, so a stream that
// ended after a pause cannot finalize a later activation.
func (c *fluencyCapture) current(stream ports.AudioStream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream == stream
}

func (c *fluencyCapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return
	}
	close(c.watchDone)
	recording, err := c.stream.Stop()
	c.stream = nil
	c.watchDone = nil
	if err != nil {
		c.stopErr = err
		return
	}
	c.recording.Data = append(c.recording.Data, recording.Data...)
	if recording.MimeType != "" {
		c.recording.MimeType = recording.MimeType
	}
}

func (c *fluencyCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recording = ports.Recording{}
	c.stopErr = nil
}

func (c *fluencyCapture) Validate(lifecycle.Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil && len(c.recording.Data) == 0 {
		return fmt.Errorf("no audio captured: %w", domain.ErrValidation)
	}
	return nil
}

func (c *fluencyCapture) Outcome(meta lifecycle.Meta) (lifecycle.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopErr != nil {
		return lifecycle.Outcome{}, fmt.Errorf("stop audio stream: %w: %w", domain.ErrCapability, c.stopErr)
	}
	if len(c.recording.Data) == 0 {
		return lifecycle.Outcome{}, fmt.Errorf("empty recording: %w", domain.ErrValidation)
	}

	mimeType := c.recording.MimeType
	if mimeType == "" {
		mimeType = defaultAudioMimeType
	}

	return lifecycle.Outcome{
		Body: domain.FluencyPayload{
			EvaluationID: meta.EvaluationID,
			Category:     c.category,
			DurationMs:   millis(meta.Elapsed()),
			AudioBytes:   len(c.recording.Data),
			MimeType:     mimeType,
		},
		Attachment: &ports.Attachment{
			FieldName: "audio",
			FileName:  "fluency" + extensionFor(mimeType),
			MimeType:  mimeType,
			Data:      append([]byte(nil), c.recording.Data...),
		},
	}, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".webm"
	}
}
