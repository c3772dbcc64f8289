// Package engine runs the external docking engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/harrison/dockpipe/internal/models"
)

// DefaultVinaPath is the engine binary looked up in PATH.
const DefaultVinaPath = "vina"

// Job describes one engine invocation. All paths are absolute.
type Job struct {
	Receptor string
	Config   string
	Ligand   string
	Log      string
	Out      string
	Seed     int64
	// CPUs is passed as --cpu when > 0; otherwise the engine decides.
	CPUs int
}

// Run is a finished engine invocation.
type Run struct {
	Args     []string
	Output   []byte
	Duration time.Duration
}

// DockingEngine docks a prepared ligand into a receptor.
type DockingEngine interface {
	Dock(ctx context.Context, job Job) (*Run, error)
}

// Vina invokes AutoDock Vina. Safe for concurrent use as long as jobs do
// not share output paths.
type Vina struct {
	// Path is the vina binary. Defaults to "vina" (found in PATH).
	Path string

	// Timeout bounds each run when > 0. The caller's context applies too.
	Timeout time.Duration
}

// NewVina creates a Vina invoker with default settings.
func NewVina() *Vina {
	return &Vina{Path: DefaultVinaPath}
}

// Args returns the command line arguments for job.
func (v *Vina) Args(job Job) []string {
	args := []string{
		"--receptor", job.Receptor,
		"--config", job.Config,
		"--ligand", job.Ligand,
		"--log", job.Log,
		"--out", job.Out,
		"--seed", strconv.FormatInt(job.Seed, 10),
	}
	if job.CPUs > 0 {
		args = append(args, "--cpu", strconv.Itoa(job.CPUs))
	}
	return args
}

// Dock runs vina for job. A non-zero exit is a KindEngineExecution error
// carrying the combined output, and any partial output file is removed.
// A zero exit says nothing about the output file; callers validate it.
func (v *Vina) Dock(ctx context.Context, job Job) (*Run, error) {
	ctxToUse := ctx
	var cancel context.CancelFunc
	if v.Timeout > 0 {
		ctxToUse, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	// stale results from an earlier run in the same directory must never
	// be mistaken for this run's output
	for _, path := range []string{job.Out, job.Log} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale %s: %w", path, err)
		}
	}

	path := v.Path
	if path == "" {
		path = DefaultVinaPath
	}
	args := v.Args(job)
	cmd := exec.CommandContext(ctxToUse, path, args...)
	cmd.WaitDelay = time.Second

	start := time.Now()
	output, err := cmd.CombinedOutput()
	run := &Run{Args: args, Output: output, Duration: time.Since(start)}
	if err != nil {
		os.Remove(job.Out)
		if ctxErr := ctxToUse.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return run, &models.DockError{
			Kind:    models.KindEngineExecution,
			Message: "vina invocation failed",
			Output:  string(output),
			Err:     err,
		}
	}
	return run, nil
}
