package application

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/ports"
)

type Operator struct {
	ID   string
	Name string
}

// SessionContext carries the operator, the selected patient, the evaluation
// and the runner of the current login. It is created on authentication and
// torn down on logout.
type SessionContext struct {
	mu           sync.Mutex
	created      bool
	operator     Operator
	patient      domain.PatientRef
	evaluationID string
	runner       *Runner
}

var _ ports.EvaluationIdentity = (*SessionContext)(nil)

func NewSessionContext() *SessionContext {
	return &SessionContext{}
}

func (c *SessionContext) Create(operator Operator) error {
	if strings.TrimSpace(operator.ID) == "" {
		return fmt.Errorf("create session context: operator id is required: %w", domain.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.created = true
	c.operator = operator
	c.patient = domain.PatientRef{}
	c.evaluationID = ""
	return nil
}

// Teardown abandons the running subtest and forgets everything.
func (c *SessionContext) Teardown() {
	c.mu.Lock()
	runner := c.runner
	c.created = false
	c.operator = Operator{}
	c.patient = domain.PatientRef{}
	c.evaluationID = ""
	c.runner = nil
	c.mu.Unlock()

	if runner != nil {
		runner.Close()
	}
}

func (c *SessionContext) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

func (c *SessionContext) Operator() Operator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operator
}

// SelectPatient binds the patient and the externally created evaluation
// every submission will carry.
func (c *SessionContext) SelectPatient(patient domain.PatientRef, evaluationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.created {
		return fmt.Errorf("select patient: %w", domain.ErrSessionNotStarted)
	}
	if strings.TrimSpace(evaluationID) == "" {
		return fmt.Errorf("select patient %s: %w", patient.ID, domain.ErrMissingEvaluationID)
	}

	c.patient = patient
	c.evaluationID = strings.TrimSpace(evaluationID)
	return nil
}

func (c *SessionContext) Patient() domain.PatientRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patient
}

func (c *SessionContext) EvaluationID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluationID, c.created && c.evaluationID != ""
}

func (c *SessionContext) Attach(runner *Runner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runner = runner
}

func (c *SessionContext) Runner() *Runner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runner
}
