package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/dockpipe/internal/filelock"
	"github.com/harrison/dockpipe/internal/history"
	"github.com/harrison/dockpipe/internal/logger"
	"github.com/harrison/dockpipe/internal/models"
	"github.com/harrison/dockpipe/internal/report"
)

// NewHistoryCommand creates the 'dockpipe history' parent command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Docking history commands",
		Long: `Commands for viewing and managing the docking history.

Every dock and batch request is recorded in a SQLite database
($DOCKPIPE_HOME/history.db unless history.db_path is set), successful or
not, together with its scores and error kind.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryStatsCommand())
	cmd.AddCommand(newHistoryPruneCommand())
	cmd.AddCommand(newHistoryReportCommand())

	return cmd
}

// errNoHistory is returned by openStore when no database exists yet.
var errNoHistory = errors.New("no docking history recorded yet")

// openStore opens the existing history database without creating one.
func openStore(cmd *cobra.Command) (*app, *history.Store, error) {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return nil, nil, err
	}
	path, err := a.cfg.HistoryDBPath()
	if err != nil {
		a.close()
		return nil, nil, fmt.Errorf("failed to get history database path: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		a.close()
		return nil, nil, fmt.Errorf("%w (database: %s)", errNoHistory, path)
	}
	store, err := history.NewStore(path)
	if err != nil {
		a.close()
		return nil, nil, fmt.Errorf("open history store: %w", err)
	}
	a.store = store
	return a, store, nil
}

// runWithStore opens the store for fn and reports a missing database as a
// message instead of an error.
func runWithStore(cmd *cobra.Command, fn func(a *app, store *history.Store) error) error {
	a, store, err := openStore(cmd)
	if errors.Is(err, errNoHistory) {
		fmt.Fprintln(cmd.OutOrStdout(), err)
		return nil
	}
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a, store)
}

func newHistoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, most recent first",
		Long: `List recorded docking runs, most recent first.

Examples:
  dockpipe history list
  dockpipe history list --target ABL1 --status failed
  dockpipe history list --since 24h --limit 50 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, func(a *app, store *history.Store) error {
				f, err := historyFilter(cmd)
				if err != nil {
					return err
				}
				runs, err := store.List(cmd.Context(), f)
				if err != nil {
					return err
				}
				if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
					return writeJSON(a.stdout, runs)
				}
				writeRunList(a.stdout, runs, a.colorOutput())
				return nil
			})
		},
	}

	cmd.Flags().String("target", "", "Only runs against this target")
	cmd.Flags().String("status", "", "Only runs with this status (success, failed)")
	cmd.Flags().Duration("since", 0, "Only runs started within this duration (e.g. 24h)")
	cmd.Flags().Int("limit", 20, "Maximum number of runs (0 = all)")
	cmd.Flags().Bool("json", false, "Print runs as JSON")

	return cmd
}

func historyFilter(cmd *cobra.Command) (history.Filter, error) {
	var f history.Filter
	f.Target, _ = cmd.Flags().GetString("target")
	f.Status, _ = cmd.Flags().GetString("status")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if f.Status != "" && f.Status != history.StatusSuccess && f.Status != history.StatusFailed {
		return f, fmt.Errorf("invalid status %q, must be %s or %s", f.Status, history.StatusSuccess, history.StatusFailed)
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("limit must be >= 0, got %d", f.Limit)
	}
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		f.Since = time.Now().Add(-since)
	}
	return f, nil
}

func writeRunList(w io.Writer, runs []*history.Run, colorOutput bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	fmt.Fprintf(w, "%-8s  %-16s  %-10s  %-8s  %8s  %s\n", "RUN", "STARTED", "TARGET", "STATUS", "BEST", "SMILES")
	for _, r := range runs {
		best := "-"
		if r.Best != nil {
			best = fmt.Sprintf("%.2f", *r.Best)
		}
		fmt.Fprintf(w, "%-8s  %-16s  %-10s  %s  %8s  %s\n", shortRunID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Target,
			statusCell(r.Status, colorOutput), best, r.Smiles)
	}
}

// statusCell colors status and pads it to the STATUS column width.
func statusCell(status string, colorOutput bool) string {
	pad := ""
	if n := 8 - len(status); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	return logger.FormatStatus(status, colorOutput) + pad
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run",
		Long: `Show everything recorded about one run. A unique prefix of the run id
is enough.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, func(a *app, store *history.Store) error {
				run, err := store.Get(cmd.Context(), args[0])
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				if err != nil {
					return err
				}
				if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
					return writeJSON(a.stdout, run)
				}
				writeRun(a.stdout, run, a.colorOutput())
				return nil
			})
		},
	}

	cmd.Flags().Bool("json", false, "Print the run as JSON")

	return cmd
}

func writeRun(w io.Writer, r *history.Run, colorOutput bool) {
	fmt.Fprintf(w, "Run:        %s\n", r.ID)
	fmt.Fprintf(w, "Started:    %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Target:     %s\n", r.Target)
	fmt.Fprintf(w, "SMILES:     %s\n", r.Smiles)
	if r.Canonical != "" {
		fmt.Fprintf(w, "Canonical:  %s\n", r.Canonical)
	}
	if r.UnseededEmbedding {
		fmt.Fprintf(w, "Seed:       %d (engine only; embedding ignored it)\n", r.Seed)
	} else {
		fmt.Fprintf(w, "Seed:       %d\n", r.Seed)
	}
	if r.CPUs > 0 {
		fmt.Fprintf(w, "CPUs:       %d\n", r.CPUs)
	}
	fmt.Fprintf(w, "Status:     %s\n", logger.FormatStatus(r.Status, colorOutput))
	if !r.Succeeded() {
		fmt.Fprintf(w, "Error kind: %s\n", r.ErrorKind)
		fmt.Fprintf(w, "Error:      %s\n", r.ErrorMessage)
		return
	}
	fmt.Fprintf(w, "Formula:    %s\n", r.Formula)
	fmt.Fprintf(w, "Digest:     %s\n", r.Digest)
	fmt.Fprintf(w, "Duration:   %s\n\n", r.Duration.Round(time.Millisecond))
	fmt.Fprint(w, logger.FormatPoseTable(models.PosesFromScores(r.Scores), colorOutput))
}

func newHistoryStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-target statistics",
		Long: `Show, for every target, how many runs were recorded, how many
succeeded, how many distinct molecules were docked and the best and mean
best scores.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, func(a *app, store *history.Store) error {
				targetName, _ := cmd.Flags().GetString("target")
				stats, err := store.Stats(cmd.Context(), targetName)
				if err != nil {
					return err
				}
				writeStats(a.stdout, stats)
				return nil
			})
		},
	}

	cmd.Flags().String("target", "", "Only this target")

	return cmd
}

func writeStats(w io.Writer, stats []history.TargetStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	fmt.Fprintf(w, "%-10s  %5s  %7s  %7s  %8s  %8s  %s\n", "TARGET", "RUNS", "SUCCESS", "LIGANDS", "BEST", "MEAN", "LAST RUN")
	for _, s := range stats {
		best, mean := "-", "-"
		if s.BestScore != nil {
			best = fmt.Sprintf("%.2f", *s.BestScore)
		}
		if s.MeanBest != nil {
			mean = fmt.Sprintf("%.2f", *s.MeanBest)
		}
		fmt.Fprintf(w, "%-10s  %5d  %6.1f%%  %7d  %8s  %8s  %s\n", s.Target, s.Runs, s.SuccessRate()*100,
			s.Ligands, best, mean, s.LastRun.Local().Format("2006-01-02 15:04"))
	}
}

func newHistoryPruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Long: `Delete runs older than --older-than, or older than history.keep_days
from the configuration when the flag is not given.

Examples:
  dockpipe history prune
  dockpipe history prune --older-than 720h --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, func(a *app, store *history.Store) error {
				olderThan, _ := cmd.Flags().GetDuration("older-than")
				if !changed(cmd, "older-than") {
					if a.cfg.History.KeepDays == 0 {
						fmt.Fprintln(a.stdout, "history.keep_days is 0; nothing to prune.")
						return nil
					}
					olderThan = time.Duration(a.cfg.History.KeepDays) * 24 * time.Hour
				}
				if olderThan <= 0 {
					return fmt.Errorf("older-than must be > 0, got %s", olderThan)
				}

				cutoff := time.Now().Add(-olderThan)
				if yes, _ := cmd.Flags().GetBool("yes"); !yes {
					fmt.Fprintf(a.stdout, "This will delete every run started before %s.\n", cutoff.Local().Format("2006-01-02 15:04"))
					if !confirmAction(cmd.InOrStdin(), a.stdout) {
						fmt.Fprintln(a.stdout, "Operation cancelled.")
						return nil
					}
				}

				n, err := store.Prune(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Deleted %d run(s).\n", n)
				return nil
			})
		},
	}

	cmd.Flags().Duration("older-than", 0, "Delete runs older than this (default: history.keep_days)")
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// confirmAction asks for a yes/no answer on in.
func confirmAction(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Are you sure? (y/N): ")
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && response == "" {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func newHistoryReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the history as Markdown or HTML",
		Long: `Render per-target statistics and the most recent runs as a Markdown
document or a standalone HTML page.

Examples:
  dockpipe history report > history.md
  dockpipe history report --format html --out history.html --target ABL1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			if format != "md" && format != "html" {
				return fmt.Errorf("invalid format %q, must be md or html", format)
			}
			return runWithStore(cmd, func(a *app, store *history.Store) error {
				return runHistoryReport(cmd, a, store, format)
			})
		},
	}

	cmd.Flags().String("format", "md", "Output format: md or html")
	cmd.Flags().String("out", "", "Write the report to this file instead of stdout")
	cmd.Flags().String("target", "", "Only this target")
	cmd.Flags().Int("limit", 100, "Maximum number of runs listed (0 = all)")
	cmd.Flags().String("title", "Docking history", "Report title")

	return cmd
}

func runHistoryReport(cmd *cobra.Command, a *app, store *history.Store, format string) error {
	ctx := cmd.Context()
	targetName, _ := cmd.Flags().GetString("target")
	limit, _ := cmd.Flags().GetInt("limit")
	title, _ := cmd.Flags().GetString("title")

	stats, err := store.Stats(ctx, targetName)
	if err != nil {
		return err
	}
	runs, err := store.List(ctx, history.Filter{Target: targetName, Limit: limit})
	if err != nil {
		return err
	}

	r := report.New(title, stats, runs)
	var buf strings.Builder
	if format == "html" {
		err = r.HTML(&buf)
	} else {
		err = r.Markdown(&buf)
	}
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err := io.WriteString(a.stdout, buf.String())
		return err
	}
	if err := filelock.AtomicWrite(out, []byte(buf.String())); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	a.console.LogInfo(fmt.Sprintf("report written to %s", out))
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
