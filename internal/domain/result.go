package domain

import "time"

type ActivationID string

type SubtestResult struct {
	SubtestID    SubtestID
	ActivationID ActivationID
	StartedAt    time.Time
	EndedAt      time.Time
	Score        float64
	Errors       int
	Elapsed      time.Duration
	// Payload is the subtest-specific body sent to the evaluation service.
	Payload any
}
