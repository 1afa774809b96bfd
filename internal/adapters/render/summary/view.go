package summary

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 24

type Report struct {
	Session     domain.Session
	Descriptors []domain.SubtestDescriptor
	// Results are keyed by subtest; subtests without one were not administered.
	Results  map[domain.SubtestID]domain.SubtestResult
	Failures map[domain.SubtestID]error
}

type Battery struct {
	Descriptors []domain.SubtestDescriptor
	// Source is the config file the battery was read from, if any.
	Source string
}

var labels = map[domain.SubtestID]string{
	domain.SubtestAttention:       "Attention",
	domain.SubtestVerbalImmediate: "Verbal memory (immediate)",
	domain.SubtestVisualMemory:    "Visual memory",
	domain.SubtestExecutive:       "Executive function",
	domain.SubtestVisuospatial:    "Visuospatial",
	domain.SubtestFluency:         "Verbal fluency",
	domain.SubtestVerbalDelayed:   "Verbal memory (delayed)",
}

func labelFor(id domain.SubtestID) string {
	if label, ok := labels[id]; ok {
		return label
	}
	return string(id)
}

func renderBattery(battery Battery, s styles) string {
	lines := []string{
		s.title.Render("Test Battery"),
		s.header.Render(fmt.Sprintf("subtests: %d", len(battery.Descriptors))),
	}
	if battery.Source != "" {
		lines = append(lines, s.header.Render("config: "+battery.Source))
	}

	if len(battery.Descriptors) == 0 {
		lines = append(lines, s.empty.Render("No subtests configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	var total time.Duration
	for i, descriptor := range battery.Descriptors {
		total += descriptor.Duration
		title := s.subtest.Render(fmt.Sprintf("%d. %s", i+1, labelFor(descriptor.ID)))
		meta := []string{
			"limit: " + formatLimit(descriptor.Duration),
			"input: " + string(descriptor.Modality),
			"submit: " + policyLabel(descriptor.Policy),
		}
		if descriptor.OperatorScored {
			meta = append(meta, "operator scored")
		}
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			s.meta.Render(strings.Join(meta, "  ")),
			s.detail.Render("path: "+descriptor.Path),
		)))
	}

	lines = append(lines, s.section.Render(s.header.Render("timed total: "+formatLimit(total))))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(report Report, s styles) string {
	session := report.Session
	lines := []string{
		s.title.Render("Session Summary"),
		s.header.Render(fmt.Sprintf("patient: %s  evaluation: %s", patientLabel(session.Patient), session.EvaluationID)),
		s.header.Render(fmt.Sprintf("status: %s  elapsed: %s  results: %d/%d",
			session.Status, formatElapsed(session.Elapsed), len(report.Results), len(report.Descriptors))),
	}

	if len(report.Descriptors) == 0 {
		lines = append(lines, s.empty.Render("No subtests configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, descriptor := range report.Descriptors {
		parts := []string{s.subtest.Render(labelFor(descriptor.ID))}

		result, ok := report.Results[descriptor.ID]
		if !ok {
			parts = append(parts, s.empty.Render("not administered"))
		} else {
			parts = append(parts, resultLines(result, s)...)
		}
		if err, failed := report.Failures[descriptor.ID]; failed {
			parts = append(parts, s.warning.Render("[submission failed] "+err.Error()))
		}

		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, parts...)))
	}

	if orphans := unknownFailures(report); len(orphans) > 0 {
		lines = append(lines, s.section.Render(s.warning.Render("failed submissions for unlisted subtests: "+strings.Join(orphans, ", "))))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func resultLines(result domain.SubtestResult, s styles) []string {
	timing := s.meta.Render(fmt.Sprintf("time: %s  errors: %d", formatElapsed(result.Elapsed), result.Errors))

	switch payload := result.Payload.(type) {
	case domain.AttentionPayload:
		line := percentLine("found", result.Score, s)
		detail := fmt.Sprintf("target %s: %d/%d  mean latency: %.0fms", payload.TargetLetter, payload.CorrectClicks, payload.TotalTargets, payload.MeanLatencyMs)
		if payload.TimedOut {
			detail += "  " + s.warning.Render("[timed out]")
		}
		return []string{line, s.detail.Render(detail), timing}
	case domain.RecallPayload:
		line := percentLine("recalled", result.Score, s)
		detail := fmt.Sprintf("correct: %d  intrusions: %d  perseverations: %d", payload.Correct, payload.Intrusions, payload.Perseverations)
		return []string{line, s.detail.Render(detail), timing}
	case domain.ExecutivePayload:
		detail := fmt.Sprintf("part A: %s (%d errors)  part B: %s (%d errors)",
			formatElapsed(time.Duration(payload.PartATimeMs)*time.Millisecond), payload.PartAErrors,
			formatElapsed(time.Duration(payload.PartBTimeMs)*time.Millisecond), payload.PartBErrors)
		return []string{s.key.Render(fmt.Sprintf("total: %.1fs", result.Score)), s.detail.Render(detail)}
	case domain.DrawingPayload:
		percent := 0.0
		if payload.MaxScore > 0 {
			percent = float64(payload.OperatorScore) / float64(payload.MaxScore) * 100
		}
		line := lipgloss.JoinHorizontal(lipgloss.Top,
			s.key.Render("score:"), " ", renderProgressBar(percent, barWidth, s), " ",
			s.detail.Render(fmt.Sprintf("%d/%d", payload.OperatorScore, payload.MaxScore)))
		return []string{line, s.detail.Render(fmt.Sprintf("%s  strokes: %d", payload.Task, len(payload.Strokes))), timing}
	case domain.FluencyPayload:
		detail := fmt.Sprintf("category: %s  audio: %d bytes (%s)", payload.Category, payload.AudioBytes, payload.MimeType)
		return []string{s.detail.Render(detail), timing}
	default:
		return []string{s.key.Render(fmt.Sprintf("score: %.1f", result.Score)), timing}
	}
}

func percentLine(label string, percent float64, s styles) string {
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render(label+":"),
		" ",
		renderProgressBar(percent, barWidth, s),
		" ",
		s.detail.Render(fmt.Sprintf("%3.0f%%", clampPercent(percent))),
	)
}

func renderProgressBar(percent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * clampPercent(percent) / 100))
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func unknownFailures(report Report) []string {
	listed := make(map[domain.SubtestID]bool, len(report.Descriptors))
	for _, descriptor := range report.Descriptors {
		listed[descriptor.ID] = true
	}

	var orphans []string
	for id := range report.Failures {
		if !listed[id] {
			orphans = append(orphans, string(id))
		}
	}
	sort.Strings(orphans)
	return orphans
}

func patientLabel(patient domain.PatientRef) string {
	name := strings.TrimSpace(patient.Name)
	if name == "" {
		return patient.ID
	}
	return fmt.Sprintf("%s (%s)", name, patient.ID)
}

func policyLabel(policy domain.SubmissionPolicy) string {
	switch policy {
	case domain.PolicyBlocking:
		return "blocking"
	case domain.PolicyFireAndForget:
		return "background"
	default:
		return "unknown"
	}
}

func formatLimit(d time.Duration) string {
	if d <= 0 {
		return "untimed"
	}
	return d.String()
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// NewReport keys results by subtest. The first result for a subtest wins.
func NewReport(session domain.Session, descriptors []domain.SubtestDescriptor, results []domain.SubtestResult, failures map[domain.SubtestID]error) Report {
	byID := make(map[domain.SubtestID]domain.SubtestResult, len(results))
	for _, result := range results {
		if _, ok := byID[result.SubtestID]; !ok {
			byID[result.SubtestID] = result
		}
	}
	return Report{Session: session, Descriptors: descriptors, Results: byID, Failures: failures}
}
