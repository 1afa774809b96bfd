package application

import (
	"testing"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScreenFallsBackToLogin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ScreenResults, ParseScreen("results"))
	assert.Equal(t, ScreenLogin, ParseScreen("settings"))
	assert.Equal(t, ScreenLogin, ParseScreen(""))
}

func TestScreensHappyPath(t *testing.T) {
	t.Parallel()

	var changes [][2]Screen
	session := NewSessionContext()
	screens := NewScreens(session, nil, func(from, to Screen) {
		changes = append(changes, [2]Screen{from, to})
	})

	require.NoError(t, screens.Authenticated(Operator{ID: "op-1", Name: "Dr. Vega"}))
	require.NoError(t, screens.Fire(EventSelectPatient))
	require.NoError(t, session.SelectPatient(domain.PatientRef{ID: "p-1"}, "eval-1"))
	require.NoError(t, screens.SessionStarted())
	screens.SessionCompleted()

	assert.Equal(t, ScreenResults, screens.Current())
	assert.Equal(t, [][2]Screen{
		{ScreenLogin, ScreenHome},
		{ScreenHome, ScreenPatientSelection},
		{ScreenPatientSelection, ScreenTestRunner},
		{ScreenTestRunner, ScreenResults},
	}, changes)
}

func TestScreensRejectInvalidTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []Event
		event Event
		want  Screen
	}{
		{name: "start session from login", event: EventSessionStarted, want: ScreenLogin},
		{name: "complete before running", setup: []Event{EventAuthenticated}, event: EventSessionCompleted, want: ScreenHome},
		{name: "authenticate twice", setup: []Event{EventAuthenticated}, event: EventAuthenticated, want: ScreenHome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			screens := NewScreens(nil, nil, nil)
			for _, event := range tt.setup {
				require.NoError(t, screens.Fire(event))
			}
			require.ErrorIs(t, screens.Fire(tt.event), domain.ErrInvalidTransition)
			assert.Equal(t, tt.want, screens.Current())
		})
	}
}

func TestScreensLogoutTearsDownSessionContext(t *testing.T) {
	t.Parallel()

	session := NewSessionContext()
	screens := NewScreens(session, nil, nil)
	require.NoError(t, screens.Authenticated(Operator{ID: "op-1"}))
	require.NoError(t, screens.Fire(EventSelectPatient))
	require.NoError(t, session.SelectPatient(domain.PatientRef{ID: "p-1"}, "eval-1"))

	screens.Logout()

	assert.Equal(t, ScreenLogin, screens.Current())
	assert.False(t, session.Active())
	_, ok := session.EvaluationID()
	assert.False(t, ok)
	assert.Equal(t, Operator{}, session.Operator())
}

func TestSessionContextRequiresEvaluation(t *testing.T) {
	t.Parallel()

	session := NewSessionContext()
	require.ErrorIs(t, session.SelectPatient(domain.PatientRef{ID: "p-1"}, "eval-1"), domain.ErrSessionNotStarted)

	require.ErrorIs(t, session.Create(Operator{}), domain.ErrValidation)
	require.NoError(t, session.Create(Operator{ID: "op-1"}))
	require.ErrorIs(t, session.SelectPatient(domain.PatientRef{ID: "p-1"}, "  "), domain.ErrMissingEvaluationID)

	require.NoError(t, session.SelectPatient(domain.PatientRef{ID: "p-1"}, " eval-1 "))
	id, ok := session.EvaluationID()
	require.True(t, ok)
	assert.Equal(t, "eval-1", id)
}
