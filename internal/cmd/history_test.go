package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/history"
)

// seedHistory writes three runs: two recent ones against ABC and an old one
// against DEF.
func seedHistory(t *testing.T, e *env) {
	t.Helper()
	store, err := history.NewStore(e.historyDB)
	require.NoError(t, err)
	defer store.Close()

	best := -7.5
	now := time.Now()
	runs := []*history.Run{
		{ID: "aaaa1111-0000-0000-0000-000000000000", Target: "ABC", Smiles: "CCO", Canonical: "CCO",
			Status: history.StatusSuccess, Best: &best, Scores: []float64{-7.5, -7.1}, Formula: "C2H6O",
			Digest: "abc123", Duration: 2 * time.Second, StartedAt: now.Add(-time.Hour)},
		{ID: "bbbb2222-0000-0000-0000-000000000000", Target: "ABC", Smiles: "C1CC", Status: history.StatusFailed,
			ErrorKind: "invalid_smiles", ErrorMessage: "cannot parse", StartedAt: now.Add(-30 * time.Minute)},
		{ID: "cccc3333-0000-0000-0000-000000000000", Target: "DEF", Smiles: "CC", Status: history.StatusSuccess,
			Best: &best, Scores: []float64{-7.5}, StartedAt: now.Add(-60 * 24 * time.Hour)},
	}
	for _, r := range runs {
		require.NoError(t, store.Record(context.Background(), r))
	}
}

func TestHistoryNoDatabase(t *testing.T) {
	e := newEnv(t, "exit 1\n")

	stdout, _, err := e.run(t, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no docking history recorded yet")
	assert.NoFileExists(t, e.historyDB)
}

func TestHistoryList(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{name: "all", want: []string{"aaaa1111", "bbbb2222", "cccc3333", "-7.50"}},
		{name: "by target", args: []string{"--target", "DEF"}, want: []string{"cccc3333"}, notWant: []string{"aaaa1111"}},
		{name: "failed only", args: []string{"--status", "failed"}, want: []string{"bbbb2222"}, notWant: []string{"aaaa1111"}},
		{name: "since", args: []string{"--since", "24h"}, want: []string{"aaaa1111"}, notWant: []string{"cccc3333"}},
		{name: "limit", args: []string{"--limit", "1"}, want: []string{"bbbb2222"}, notWant: []string{"aaaa1111"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := e.run(t, append([]string{"history", "list"}, tt.args...)...)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, stdout, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, stdout, w)
			}
		})
	}
}

func TestHistoryListInvalidStatus(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	_, _, err := e.run(t, "history", "list", "--status", "running")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid status "running"`)
}

func TestHistoryListJSON(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	stdout, _, err := e.run(t, "history", "list", "--json", "--target", "ABC")
	require.NoError(t, err)

	var runs []history.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "invalid_smiles", runs[0].ErrorKind)
	assert.Equal(t, []float64{-7.5, -7.1}, runs[1].Scores)
}

func TestHistoryShow(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	stdout, _, err := e.run(t, "history", "show", "aaaa")
	require.NoError(t, err)
	assert.Contains(t, stdout, "aaaa1111-0000-0000-0000-000000000000")
	assert.Contains(t, stdout, "Formula:    C2H6O")
	assert.Contains(t, stdout, "   2             -7.10")

	stdout, _, err = e.run(t, "history", "show", "bbbb")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Error kind: invalid_smiles")

	_, _, err = e.run(t, "history", "show", "ffff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run ffff not found")
}

func TestHistoryStats(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	stdout, _, err := e.run(t, "history", "stats", "--target", "ABC")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ABC")
	assert.Contains(t, stdout, "50.0%")
	assert.NotContains(t, stdout, "DEF")
}

func TestHistoryPrune(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	e.stdin = "n\n"
	stdout, _, err := e.run(t, "history", "prune", "--older-than", "720h")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Operation cancelled.")

	e.stdin = "y\n"
	stdout, _, err = e.run(t, "history", "prune", "--older-than", "720h")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deleted 1 run(s).")

	stdout, _, err = e.run(t, "history", "list")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "cccc3333")
}

func TestHistoryPruneKeepDays(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	e.writeConfig(t, "  keep_days: 0\n")
	stdout, _, err := e.run(t, "history", "prune", "--yes")
	require.NoError(t, err)
	assert.Contains(t, stdout, "nothing to prune")

	e.writeConfig(t, "  keep_days: 30\n")
	stdout, _, err = e.run(t, "history", "prune", "-y")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deleted 1 run(s).")
}

func TestHistoryReport(t *testing.T) {
	e := newEnv(t, "exit 1\n")
	seedHistory(t, e)

	stdout, _, err := e.run(t, "history", "report", "--title", "ABC runs", "--target", "ABC")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# ABC runs")
	assert.Contains(t, stdout, "| `aaaa1111` |")
	assert.NotContains(t, stdout, "cccc3333")

	out := filepath.Join(e.dir, "report.html")
	_, _, err = e.run(t, "history", "report", "--format", "html", "--out", out)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<table>")
	assert.Contains(t, string(data), "<title>Docking history</title>")

	_, _, err = e.run(t, "history", "report", "--format", "pdf")
	require.Error(t, err)
}
