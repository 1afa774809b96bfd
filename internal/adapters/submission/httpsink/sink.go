// Package httpsink posts subtest results to the evaluation service.
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/ports"
	"go.uber.org/zap"
)

const maxErrorBodyBytes = 4 << 10

type Sink struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Credentials    ports.CredentialStore
	TokenRef       string
	Contracts      *Contracts
	Logger         *zap.Logger
}

var _ ports.SubmissionSink = (*Sink)(nil)

func (s *Sink) Submit(ctx context.Context, submission ports.Submission) error {
	if strings.TrimSpace(submission.EvaluationID) == "" {
		return fmt.Errorf("submit %s: %w", submission.SubtestID, domain.ErrMissingEvaluationID)
	}

	endpoint, err := buildAPIURL(s.BaseURL, submission.Path)
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(submission.Body)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", submission.SubtestID, err)
	}
	if err := s.contracts().Validate(submission.SubtestID, metadata); err != nil {
		return err
	}

	body, contentType, err := encodeBody(metadata, submission.Attachment)
	if err != nil {
		return fmt.Errorf("encode %s submission: %w", submission.SubtestID, err)
	}

	requestCtx, cancel := s.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create submission request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("post %s submission: %w", submission.SubtestID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("post %s submission: %s", submission.SubtestID, formatStatus(resp.StatusCode, detail))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	s.logger().Debug("submission accepted",
		zap.String("subtest", string(submission.SubtestID)),
		zap.Int("status", resp.StatusCode),
		zap.Bool("multipart", submission.Attachment != nil),
	)
	return nil
}

func encodeBody(metadata []byte, attachment *ports.Attachment) (io.Reader, string, error) {
	if attachment == nil {
		return bytes.NewReader(metadata), "application/json", nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="metadata"`)
	header.Set("Content-Type", "application/json")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create metadata part: %w", err)
	}
	if _, err := part.Write(metadata); err != nil {
		return nil, "", fmt.Errorf("write metadata part: %w", err)
	}

	fieldName := attachment.FieldName
	if fieldName == "" {
		fieldName = "file"
	}
	header = textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, attachment.FileName))
	header.Set("Content-Type", attachment.MimeType)
	part, err = writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create %s part: %w", fieldName, err)
	}
	if _, err := part.Write(attachment.Data); err != nil {
		return nil, "", fmt.Errorf("write %s part: %w", fieldName, err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func (s *Sink) token(ctx context.Context) (string, error) {
	if s.Credentials == nil || strings.TrimSpace(s.TokenRef) == "" {
		return "", nil
	}

	token, err := s.Credentials.Get(ctx, s.TokenRef)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			s.logger().Debug("no sink token stored, posting unauthenticated", zap.String("ref", s.TokenRef))
			return "", nil
		}
		return "", fmt.Errorf("load sink token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func (s *Sink) contracts() *Contracts {
	if s.Contracts == nil {
		return defaultContracts
	}
	return s.Contracts
}

var defaultContracts = &Contracts{}

func (s *Sink) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Sink) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *Sink) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := s.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func formatStatus(statusCode int, detail []byte) string {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(detail, &apiErr); err == nil {
		switch {
		case apiErr.Message != "":
			return fmt.Sprintf("status %d: %s", statusCode, apiErr.Message)
		case apiErr.Error != "":
			return fmt.Sprintf("status %d: %s", statusCode, apiErr.Error)
		}
	}
	return fmt.Sprintf("status %d", statusCode)
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("sink base url is required")
	}
	if path == "" {
		return "", errors.New("submission path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse sink base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("sink base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("sink base url host is required")
	}

	// Submission paths are relative to the base path, so a service mounted
	// under /api keeps its prefix.
	return parsed.JoinPath(path).String(), nil
}
