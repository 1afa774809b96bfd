package application

import (
	"fmt"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
	"go.uber.org/zap"
)

type Screen string

const (
	ScreenLogin            Screen = "login"
	ScreenHome             Screen = "home"
	ScreenPatientSelection Screen = "patient-selection"
	ScreenTestRunner       Screen = "test-runner"
	ScreenResults          Screen = "results"
)

// ParseScreen maps unknown names to the login screen.
func ParseScreen(value string) Screen {
	switch screen := Screen(value); screen {
	case ScreenLogin, ScreenHome, ScreenPatientSelection, ScreenTestRunner, ScreenResults:
		return screen
	default:
		return ScreenLogin
	}
}

type Event string

const (
	EventAuthenticated    Event = "authenticated"
	EventGoHome           Event = "go-home"
	EventSelectPatient    Event = "select-patient"
	EventSessionStarted   Event = "session-started"
	EventSessionCompleted Event = "session-completed"
	EventLogout           Event = "logout"
)

var screenTransitions = map[Screen]map[Event]Screen{
	ScreenLogin: {
		EventAuthenticated: ScreenHome,
	},
	ScreenHome: {
		EventSelectPatient: ScreenPatientSelection,
	},
	ScreenPatientSelection: {
		EventGoHome:         ScreenHome,
		EventSessionStarted: ScreenTestRunner,
	},
	ScreenTestRunner: {
		EventGoHome:           ScreenHome,
		EventSessionCompleted: ScreenResults,
	},
	ScreenResults: {
		EventGoHome:        ScreenHome,
		EventSelectPatient: ScreenPatientSelection,
	},
}

// Screens is the top-level navigation machine. It has no timers; it only
// reacts to events.
type Screens struct {
	session  *SessionContext
	logger   *zap.Logger
	onChange func(from, to Screen)

	mu      sync.Mutex
	current Screen
}

var _ CompletionListener = (*Screens)(nil)

func NewScreens(session *SessionContext, logger *zap.Logger, onChange func(from, to Screen)) *Screens {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screens{session: session, logger: logger, onChange: onChange, current: ScreenLogin}
}

func (s *Screens) Current() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Fire applies event. Logout is accepted from every screen and tears the
// session context down.
func (s *Screens) Fire(event Event) error {
	s.mu.Lock()
	from := s.current
	to, ok := screenTransitions[from][event]
	if event == EventLogout {
		to, ok = ScreenLogin, true
	}
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("fire %s on %s: %w", event, from, domain.ErrInvalidTransition)
	}
	s.current = to
	s.mu.Unlock()

	if event == EventLogout && s.session != nil {
		s.session.Teardown()
	}

	s.logger.Debug("screen changed", zap.String("from", string(from)), zap.String("to", string(to)), zap.String("event", string(event)))
	if s.onChange != nil && from != to {
		s.onChange(from, to)
	}
	return nil
}

func (s *Screens) Authenticated(operator Operator) error {
	if current := s.Current(); current != ScreenLogin {
		return fmt.Errorf("fire %s on %s: %w", EventAuthenticated, current, domain.ErrInvalidTransition)
	}
	if s.session != nil {
		if err := s.session.Create(operator); err != nil {
			return err
		}
	}
	return s.Fire(EventAuthenticated)
}

func (s *Screens) SessionStarted() error {
	return s.Fire(EventSessionStarted)
}

func (s *Screens) SessionCompleted() {
	if err := s.Fire(EventSessionCompleted); err != nil {
		s.logger.Warn("session completion ignored", zap.Error(err))
	}
}

func (s *Screens) Logout() {
	_ = s.Fire(EventLogout)
}
