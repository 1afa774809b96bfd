// Package capture provides headless capture devices that replay recorded
// input, for scripted administrations and tests.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/neurobattery/internal/ports"
)

var ErrStreamStopped = errors.New("audio stream already stopped")

var mimeTypes = map[string]string{
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".webm": "audio/webm",
}

// MimeTypeFor maps a file extension to the audio mime type sent with the
// recording. Unknown extensions fall back to audio/webm.
func MimeTypeFor(path string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "audio/webm"
}

// AudioFile serves a recorded file as the microphone. When Length is set,
// the stream ends by itself after Length on the scheduler, the way a
// device that stops recording would.
type AudioFile struct {
	Path      string
	Length    time.Duration
	Scheduler ports.Scheduler
}

func (a *AudioFile) Open(ctx context.Context) (ports.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Path) == "" {
		return nil, errors.New("audio file path is required")
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	stream := &fileStream{
		recording: ports.Recording{Data: data, MimeType: MimeTypeFor(a.Path)},
		done:      make(chan struct{}),
	}
	if a.Length > 0 && a.Scheduler != nil {
		stream.cancel = a.Scheduler.After(a.Length, stream.end)
	}
	return stream, nil
}

type fileStream struct {
	mu        sync.Mutex
	recording ports.Recording
	done      chan struct{}
	ended     bool
	stopped   bool
	cancel    func()
}

func (s *fileStream) Done() <-chan struct{} {
	return s.done
}

func (s *fileStream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.ended = true
	close(s.done)
}

func (s *fileStream) Stop() (ports.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ports.Recording{}, ErrStreamStopped
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	return s.recording, nil
}
