package domain

import "errors"

var (
	ErrValidation          = errors.New("invalid captured input")
	ErrCapability          = errors.New("capture device unavailable")
	ErrSubmission          = errors.New("submission failed")
	ErrMissingEvaluationID = errors.New("evaluation id is required")
	ErrInvalidPhase        = errors.New("operation not allowed in current phase")
	ErrDuplicateResult     = errors.New("result already recorded")
	ErrSessionNotStarted   = errors.New("session not started")
	ErrRestartNotConfirmed = errors.New("restart requires confirmation")
	ErrInvalidTransition   = errors.New("invalid screen transition")
	ErrCellResolved        = errors.New("cell already resolved")
	ErrUnknownSubtest      = errors.New("unknown subtest")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrStaleResult         = errors.New("result belongs to a discarded session run")
)
