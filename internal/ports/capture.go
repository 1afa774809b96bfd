package ports

import (
	"context"

	"github.com/bnema/neurobattery/internal/domain"
)

type Recording struct {
	Data     []byte
	MimeType string
}

type AudioStream interface {
	// Done is closed when the device ends the stream on its own.
	Done() <-chan struct{}
	Stop() (Recording, error)
}

type AudioCapture interface {
	Open(ctx context.Context) (AudioStream, error)
}

type PointerInput interface {
	Listen(ctx context.Context, onSample func(domain.PointerSample)) (stop func(), err error)
}

type EvaluationIdentity interface {
	EvaluationID() (string, bool)
}

type StaticEvaluationIdentity string

func (s StaticEvaluationIdentity) EvaluationID() (string, bool) {
	return string(s), s != ""
}
