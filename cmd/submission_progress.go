package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// submissionTracker is the part of the runner the progress view reads.
type submissionTracker interface {
	InFlight() []domain.SubtestID
	SubmissionFailures() map[domain.SubtestID]error
	Wait()
}

type submissionsSettledMsg struct{}

// submissionProgressModel names the submissions still in flight, refreshed
// on every spinner tick, until the runner has none left.
type submissionProgressModel struct {
	spinner spinner.Model
	tracker submissionTracker
	pending []domain.SubtestID
	failed  int
	settled bool
}

func newSubmissionProgressModel(tracker submissionTracker) submissionProgressModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	m := submissionProgressModel{spinner: s, tracker: tracker}
	return m.refresh()
}

func (m submissionProgressModel) Init() tea.Cmd {
	tracker := m.tracker
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		tracker.Wait()
		return submissionsSettledMsg{}
	})
}

func (m submissionProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m.refresh(), cmd
	case submissionsSettledMsg:
		m.settled = true
		return m.refresh(), tea.Quit
	default:
		return m, nil
	}
}

func (m submissionProgressModel) View() string {
	if m.settled {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), describePending(m.pending, m.failed))
}

func (m submissionProgressModel) refresh() submissionProgressModel {
	m.pending = m.tracker.InFlight()
	m.failed = len(m.tracker.SubmissionFailures())
	return m
}

func describePending(pending []domain.SubtestID, failed int) string {
	var b strings.Builder
	switch len(pending) {
	case 0:
		b.WriteString("Waiting for submissions...")
	case 1:
		fmt.Fprintf(&b, "Waiting for the %s submission...", pending[0])
	default:
		names := make([]string, len(pending))
		for i, id := range pending {
			names[i] = string(id)
		}
		fmt.Fprintf(&b, "Waiting for %d submissions: %s", len(pending), strings.Join(names, ", "))
	}
	if failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", failed)
	}
	return b.String()
}

func runSubmissionProgress(ctx context.Context, output io.Writer, tracker submissionTracker) error {
	p := tea.NewProgram(
		newSubmissionProgressModel(tracker),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}
	if _, ok := finalModel.(submissionProgressModel); !ok {
		return fmt.Errorf("unexpected final progress model type %T", finalModel)
	}
	return nil
}
