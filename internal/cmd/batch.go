package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrison/dockpipe/internal/docking"
	"github.com/harrison/dockpipe/internal/history"
	"github.com/harrison/dockpipe/internal/models"
)

// BatchFile is the YAML document accepted by "dockpipe batch".
//
//	parallel: 4
//	requests:
//	  - target: ABL1
//	    smiles: CCO
//	  - target: DRD2
//	    smiles: CC(=O)[O-]
//	    seed: 42
type BatchFile struct {
	Parallel int                  `yaml:"parallel"`
	Requests []models.DockRequest `yaml:"requests"`
}

// batchRequest is the on-disk form of a request. Seed is a pointer so an
// explicit seed: 0 is kept.
type batchRequest struct {
	ID     string `yaml:"id"`
	Target string `yaml:"target"`
	Smiles string `yaml:"smiles"`
	Seed   *int64 `yaml:"seed"`
	CPUs   int    `yaml:"cpus"`
}

// LoadBatchFile reads and checks a batch file. Requests without a seed get
// defaultSeed.
func LoadBatchFile(path string, defaultSeed int64) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var raw struct {
		Parallel int            `yaml:"parallel"`
		Requests []batchRequest `yaml:"requests"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(raw.Requests) == 0 {
		return nil, fmt.Errorf("batch file %s has no requests", path)
	}
	if raw.Parallel < 0 {
		return nil, fmt.Errorf("parallel must be >= 0, got %d", raw.Parallel)
	}

	bf := &BatchFile{Parallel: raw.Parallel, Requests: make([]models.DockRequest, 0, len(raw.Requests))}
	for i, r := range raw.Requests {
		if r.Target == "" || r.Smiles == "" {
			return nil, fmt.Errorf("request %d: target and smiles are required", i+1)
		}
		if r.CPUs < 0 {
			return nil, fmt.Errorf("request %d: cpus must be >= 0", i+1)
		}
		req := models.DockRequest{ID: r.ID, Target: r.Target, Smiles: r.Smiles, Seed: defaultSeed, CPUs: r.CPUs}
		if r.Seed != nil {
			req.Seed = *r.Seed
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		bf.Requests = append(bf.Requests, req)
	}
	return bf, nil
}

// NewBatchCommand creates the batch command
func NewBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Dock several molecules concurrently",
		Long: `Dock every request listed in a YAML batch file.

Requests run concurrently, each in its own temporary working directory;
--parallel bounds how many run at once. A failed request does not stop
the others. The command fails if any request failed.

Batch file format:
  parallel: 4
  requests:
    - target: ABL1
      smiles: CCO
    - target: DRD2
      smiles: CC(=O)[O-]
      seed: 42
      cpus: 2`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	cmd.Flags().Int("parallel", 0, "Maximum concurrent requests (0 = use batch file, default 1)")
	cmd.Flags().String("out-dir", "", "Write the poses of each request to <out-dir>/<run-id>.sdf")
	cmd.Flags().Duration("timeout", 0, "Maximum engine run time per request")
	cmd.Flags().Bool("no-history", false, "Do not record these runs in the history database")

	return cmd
}

// batchOutcome is the result of one request, kept in input order.
type batchOutcome struct {
	req models.DockRequest
	res *docking.Result
	err error
}

func runBatch(cmd *cobra.Command, args []string) error {
	noHistory, _ := cmd.Flags().GetBool("no-history")
	a, err := newApp(cmd, appOptions{runLog: true, history: !noHistory})
	if err != nil {
		return err
	}
	defer a.close()

	bf, err := LoadBatchFile(args[0], a.cfg.Seed)
	if err != nil {
		return err
	}

	parallel := bf.Parallel
	if p, _ := cmd.Flags().GetInt("parallel"); changed(cmd, "parallel") {
		parallel = p
	}
	if parallel <= 0 {
		parallel = 1
	}
	if a.cfg.WorkDir != "" {
		a.console.LogWarn("work_dir is ignored in batch mode; every request gets a temporary directory")
	}

	outDir, _ := cmd.Flags().GetString("out-dir")
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	outcomes := a.dockAll(cmd.Context(), a.docker(), bf.Requests, parallel, outDir)

	failed := writeBatchSummary(a.stdout, outcomes, a.colorOutput())
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(outcomes))
	}
	return nil
}

// dockAll runs reqs with at most parallel in flight and returns their
// outcomes in input order.
func (a *app) dockAll(ctx context.Context, d *docking.Docker, reqs []models.DockRequest, parallel int, outDir string) []batchOutcome {
	outcomes := make([]batchOutcome, len(reqs))
	semaphore := make(chan struct{}, parallel)

	var mu sync.Mutex
	done, failed := 0, 0
	a.console.LogBatchProgress(0, 0, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		outcomes[i].req = req
		select {
		case <-ctx.Done():
			outcomes[i].err = ctx.Err()
			continue
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, req models.DockRequest) {
			defer wg.Done()
			defer func() { <-semaphore }()

			res, err := a.dockOne(ctx, d, req, outDir)
			outcomes[i].res, outcomes[i].err = res, err

			mu.Lock()
			done++
			if err != nil {
				failed++
			}
			a.console.LogBatchProgress(done, failed, len(reqs))
			mu.Unlock()
		}(i, req)
	}
	wg.Wait()
	return outcomes
}

// dockOne docks a single request in a private target instance.
func (a *app) dockOne(ctx context.Context, d *docking.Docker, req models.DockRequest, outDir string) (*docking.Result, error) {
	t, err := a.registry.Resolve(req.Target)
	if err != nil {
		a.log.LogDockFail(req, err)
		return nil, err
	}
	defer t.Close()

	_, res, err := d.Dock(ctx, t, req.Smiles, docking.Options{Seed: req.Seed, CPUs: req.CPUs, RequestID: req.ID})
	if err != nil {
		return nil, err
	}
	if outDir != "" {
		if err := res.WritePoses(filepath.Join(outDir, res.RunID+".sdf")); err != nil {
			a.log.LogWarning(res.Request, fmt.Sprintf("write poses: %v", err))
		}
	}
	return res, nil
}

// writeBatchSummary prints one line per request and returns the number of
// failures.
func writeBatchSummary(w io.Writer, outcomes []batchOutcome, colorOutput bool) int {
	failed := 0
	fmt.Fprintln(w)
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			fmt.Fprintf(w, "%-8s  %-10s  %s  %s: %s\n", shortRunID(o.req.ID), o.req.Target,
				statusCell(history.StatusFailed, colorOutput), models.KindOf(o.err).String(), o.req.Smiles)
			continue
		}
		fmt.Fprintf(w, "%-8s  %-10s  %s  %7.2f  %s\n", shortRunID(o.req.ID), o.req.Target,
			statusCell(history.StatusSuccess, colorOutput), o.res.Best, o.req.Smiles)
	}
	fmt.Fprintf(w, "\n%d succeeded, %d failed\n", len(outcomes)-failed, failed)
	return failed
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
