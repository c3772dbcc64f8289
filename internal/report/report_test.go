package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/history"
)

func sample() *Report {
	best := -7.25
	mean := -6.5
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	return &Report{
		Title:     "Docking history",
		Generated: at,
		Stats: []history.TargetStats{
			{Target: "ABL1", Runs: 3, Succeeded: 2, Failed: 1, Ligands: 2, BestScore: &best, MeanBest: &mean, LastRun: at},
		},
		Runs: []*history.Run{
			{ID: "0123456789abcdef", Target: "ABL1", Smiles: "CC(=O)[O-]", Status: history.StatusSuccess,
				Best: &best, Scores: []float64{-7.25, -7.0}, Duration: 1500 * time.Millisecond, StartedAt: at},
			{ID: "fedcba9876543210", Target: "ABL1", Smiles: "C1CC", Status: history.StatusFailed,
				ErrorKind: "invalid_smiles", StartedAt: at},
		},
	}
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sample().Markdown(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Docking history\n"))
	assert.Contains(t, out, "| ABL1 | 3 | 2 | 1 | 2 | -7.25 | -6.50 | 2026-05-04 10:30 |")
	assert.Contains(t, out, "| `01234567` |")
	assert.Contains(t, out, "failed (invalid_smiles)")
	assert.Contains(t, out, "| 2 | 1.5s |")
}

func TestMarkdownEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New("Empty", nil, nil).Markdown(&buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "No runs recorded."))
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	r := sample()
	r.Title = "History <ABL1>"
	require.NoError(t, r.HTML(&buf))
	out := buf.String()

	assert.Contains(t, out, "<title>History &lt;ABL1&gt;</title>")
	assert.Equal(t, 2, strings.Count(out, "<table>"), "both sections render as GFM tables")
	assert.Contains(t, out, "<td>ABL1</td>")
	assert.Contains(t, out, "<code>CC(=O)[O-]</code>")
}

func TestCellEscapesPipes(t *testing.T) {
	assert.Equal(t, `a\|b`, cell("a|b"))
}
