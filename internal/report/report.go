// Package report renders docking history as Markdown or HTML.
package report

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/harrison/dockpipe/internal/history"
)

// Report is a snapshot of the history store.
type Report struct {
	Title     string
	Generated time.Time
	Stats     []history.TargetStats
	Runs      []*history.Run
}

// New creates a report stamped with the current time.
func New(title string, stats []history.TargetStats, runs []*history.Run) *Report {
	return &Report{Title: title, Generated: time.Now(), Stats: stats, Runs: runs}
}

// Markdown writes the report as GitHub-flavoured Markdown.
func (r *Report) Markdown(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	fmt.Fprintf(&b, "Generated %s.\n\n", r.Generated.Format(time.RFC3339))

	b.WriteString("## Targets\n\n")
	if len(r.Stats) == 0 {
		b.WriteString("No runs recorded.\n\n")
	} else {
		b.WriteString("| Target | Runs | Succeeded | Failed | Ligands | Best | Mean best | Last run |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|---:|---|\n")
		for _, s := range r.Stats {
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %s | %s | %s |\n",
				cell(s.Target), s.Runs, s.Succeeded, s.Failed, s.Ligands,
				score(s.BestScore), score(s.MeanBest), s.LastRun.Format("2006-01-02 15:04"))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Runs\n\n")
	if len(r.Runs) == 0 {
		b.WriteString("No runs recorded.\n")
	} else {
		b.WriteString("| Run | Started | Target | SMILES | Status | Best | Poses | Duration |\n")
		b.WriteString("|---|---|---|---|---|---:|---:|---:|\n")
		for _, run := range r.Runs {
			status := run.Status
			if !run.Succeeded() && run.ErrorKind != "" {
				status = fmt.Sprintf("%s (%s)", run.Status, run.ErrorKind)
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | `%s` | %s | %s | %d | %s |\n",
				shortID(run.ID), run.StartedAt.Format("2006-01-02 15:04"), cell(run.Target),
				cell(run.Smiles), status, score(run.Best), len(run.Scores), run.Duration.Round(time.Millisecond))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// HTML writes the report as a standalone HTML page.
func (r *Report) HTML(w io.Writer) error {
	var md bytes.Buffer
	if err := r.Markdown(&md); err != nil {
		return err
	}

	var body bytes.Buffer
	gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := gm.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	_, err := fmt.Fprintf(w, htmlPage, html.EscapeString(r.Title), body.String())
	return err
}

const htmlPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3em 0.6em; }
code { font-size: 0.9em; }
</style>
</head>
<body>
%s</body>
</html>
`

func score(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

// cell escapes characters that would break a Markdown table cell.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
