package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/harrison/dockpipe/internal/models"
)

// Score bands used for coloring, in kcal/mol.
const (
	StrongScore = -8.0
	WeakScore   = -5.0
)

// colorScheme defines consistent colors for result tables.
// Green: strong binders and successes
// Red: failures
// Yellow: weak binders
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
}

// scoreColor picks the color band for a docking score.
func scoreColor(score float64) *color.Color {
	s := newColorScheme()
	switch {
	case score <= StrongScore:
		return s.success
	case score >= WeakScore:
		return s.warn
	default:
		return s.value
	}
}

// FormatPoseTable renders the ranked poses as an aligned table.
// Colors are applied only when colorOutput is set.
//
//	rank  score (kcal/mol)
//	   1             -7.30
func FormatPoseTable(poses []models.Pose, colorOutput bool) string {
	scheme := newColorScheme()
	var b strings.Builder
	header := "rank  score (kcal/mol)"
	if colorOutput {
		header = scheme.label.Sprint(header)
	}
	b.WriteString(header + "\n")
	for _, p := range poses {
		score := fmt.Sprintf("%16.2f", p.Score)
		if colorOutput {
			score = scoreColor(p.Score).Sprint(score)
		}
		fmt.Fprintf(&b, "%4d  %s\n", p.Rank, score)
	}
	return b.String()
}

// FormatStatus colors a run status for terminal output.
func FormatStatus(status string, colorOutput bool) string {
	if !colorOutput {
		return status
	}
	scheme := newColorScheme()
	switch status {
	case "success":
		return scheme.success.Sprint(status)
	case "failed":
		return scheme.fail.Sprint(status)
	default:
		return status
	}
}

// formatColorizedMetric formats "label: value" with a cyan label.
func formatColorizedMetric(label string, value interface{}, scheme *colorScheme) string {
	return fmt.Sprintf("%s: %s", scheme.label.Sprint(label), scheme.value.Sprintf("%v", value))
}

// FormatTimings renders stage timings as "stage: 12ms, stage: 1.5s".
func FormatTimings(timings []models.StageTiming, colorOutput bool) string {
	scheme := newColorScheme()
	parts := make([]string, 0, len(timings))
	for _, t := range timings {
		if colorOutput {
			parts = append(parts, formatColorizedMetric(string(t.Stage), formatElapsed(t.Duration), scheme))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", t.Stage, formatElapsed(t.Duration)))
	}
	return strings.Join(parts, ", ")
}

// IsColorTerminal reports whether w should receive colored output.
func IsColorTerminal(w io.Writer) bool {
	return isTerminal(w)
}
