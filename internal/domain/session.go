package domain

import "time"

type SessionID string
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not-started"
	SessionInProgress SessionStatus = "in-progress"
	SessionCompleted  SessionStatus = "completed"
)

type PatientRef struct {
	ID   string
	Name string
}

type Session struct {
	ID           SessionID
	Patient      PatientRef
	EvaluationID string
	StartedAt    time.Time
	CurrentIndex int
	Results      []SubtestResult
	Status       SessionStatus
	// Generation changes on every start and restart so completions from
	// discarded subtest instances can be recognised.
	Generation uint64
	Elapsed    time.Duration
}

func (s Session) Clone() Session {
	clone := s
	clone.Results = append([]SubtestResult(nil), s.Results...)
	return clone
}
