package ports

import (
	"context"

	"github.com/bnema/neurobattery/internal/domain"
)

type Attachment struct {
	FieldName string
	FileName  string
	MimeType  string
	Data      []byte
}

type Submission struct {
	SubtestID    domain.SubtestID
	Path         string
	EvaluationID string
	// Body is marshaled as JSON; with an attachment it becomes the metadata part.
	Body       any
	Attachment *Attachment
}

type SubmissionSink interface {
	Submit(ctx context.Context, submission Submission) error
}
