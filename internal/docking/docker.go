// Package docking runs the full pipeline for one request: prepare the
// ligand, dock it, rebuild and verify the docked structure, and extract
// the pose scores.
package docking

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/engine"
	"github.com/harrison/dockpipe/internal/filelock"
	"github.com/harrison/dockpipe/internal/ligand"
	"github.com/harrison/dockpipe/internal/models"
	"github.com/harrison/dockpipe/internal/target"
)

// Fixed names of the intermediates inside a working directory.
const (
	LigandMolFile   = "ligand.mol"
	LigandPDBQTFile = "ligand.pdbqt"
	EngineLogFile   = "vina.log"
	EngineOutFile   = "vina.out"
)

// Converter writes the engine's input format for a prepared ligand.
type Converter interface {
	ToDockingFormat(ctx context.Context, molPath, pdbqtPath string) error
}

// Logger receives pipeline events. Implementations must be safe for
// concurrent use; batch runs share one logger.
type Logger interface {
	LogStageStart(req models.DockRequest, stage models.Stage)
	LogStageComplete(req models.DockRequest, stage models.Stage, elapsed time.Duration)
	LogEngineOutput(req models.DockRequest, output string)
	LogWarning(req models.DockRequest, msg string)
	LogDockComplete(result *models.DockResult)
	LogDockFail(req models.DockRequest, err error)
}

// Recorder persists or aggregates finished requests. res is nil on failure.
type Recorder interface {
	RecordDock(ctx context.Context, req models.DockRequest, res *models.DockResult, err error) error
}

// Options are the per-request settings.
type Options struct {
	Seed int64
	CPUs int
	// Verbose forwards the engine's console output to the logger.
	Verbose bool
	// RequestID is used as the run id when set; otherwise one is generated.
	RequestID string
}

// DefaultOptions returns the options used when the caller has no opinion.
func DefaultOptions() Options {
	return Options{Seed: models.DefaultSeed}
}

// Result is a docked and verified ligand.
type Result struct {
	models.DockResult
	// Ligand holds one conformer per pose, in rank order, without
	// hydrogens, atoms in the prepared ligand's heavy-atom order.
	Ligand   *chem.Molecule
	Prepared *ligand.Prepared
}

// WritePoses writes every pose as an SD record tagged with rank and score.
func (r *Result) WritePoses(path string) error {
	props := make([]map[string]string, len(r.Poses))
	for i, p := range r.Poses {
		props[i] = map[string]string{
			"rank":   fmt.Sprintf("%d", p.Rank),
			"score":  fmt.Sprintf("%.3f", p.Score),
			"smiles": r.Request.Canonical,
		}
	}
	var buf bytes.Buffer
	if err := chem.WriteConformersSDF(&buf, r.Ligand, props); err != nil {
		return err
	}
	return filelock.LockAndWrite(path, buf.Bytes())
}

// Docker wires the pipeline stages together. It holds no per-request state
// and may be shared by concurrent requests on different targets.
type Docker struct {
	Preparer  *ligand.Preparer
	Converter Converter
	Engine    engine.DockingEngine
	Assigner  BondOrderAssigner
	Logger    Logger
	Recorders []Recorder
}

// NewDocker creates a Docker using the template bond order assigner.
func NewDocker(preparer *ligand.Preparer, converter Converter, eng engine.DockingEngine) *Docker {
	return &Docker{
		Preparer:  preparer,
		Converter: converter,
		Engine:    eng,
		Assigner:  TemplateAssigner{},
	}
}

// request tracks one Dock call.
type request struct {
	d       *Docker
	req     models.DockRequest
	timings []models.StageTiming
}

func (r *request) stage(stage models.Stage, fn func() error) error {
	if r.d.Logger != nil {
		r.d.Logger.LogStageStart(r.req, stage)
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	r.timings = append(r.timings, models.StageTiming{Stage: stage, Duration: elapsed})
	if err == nil && r.d.Logger != nil {
		r.d.Logger.LogStageComplete(r.req, stage, elapsed)
	}
	return err
}

// Dock docks smiles into t and returns the best score along with the
// verified poses. Either every stage succeeds or an error is returned;
// there are no partial results. A score count that disagrees with the
// pose count panics with *models.InvariantViolation.
func (d *Docker) Dock(ctx context.Context, t *target.Target, smiles string, opts Options) (float64, *Result, error) {
	startedAt := time.Now()
	r := &request{d: d, req: models.DockRequest{
		ID:     opts.RequestID,
		Target: t.Name,
		Smiles: smiles,
		Seed:   opts.Seed,
		CPUs:   opts.CPUs,
	}}
	if r.req.ID == "" {
		r.req.ID = uuid.NewString()
	}

	res, err := d.dock(ctx, r, t, opts)
	if err != nil {
		if d.Logger != nil {
			d.Logger.LogDockFail(r.req, err)
		}
		d.record(ctx, r.req, nil, err)
		return 0, nil, err
	}

	res.RunID = r.req.ID
	res.Request = r.req
	res.StartedAt = startedAt
	res.Duration = time.Since(startedAt)
	if d.Logger != nil {
		d.Logger.LogDockComplete(&res.DockResult)
	}
	d.record(ctx, r.req, &res.DockResult, nil)
	return res.Best, res, nil
}

func (d *Docker) record(ctx context.Context, req models.DockRequest, res *models.DockResult, dockErr error) {
	for _, rec := range d.Recorders {
		// a broken history store must not change the docking outcome
		if err := rec.RecordDock(context.WithoutCancel(ctx), req, res, dockErr); err != nil && d.Logger != nil {
			d.Logger.LogWarning(req, fmt.Sprintf("recording run %s failed: %v", req.ID, err))
		}
	}
}

func (d *Docker) dock(ctx context.Context, r *request, t *target.Target, opts Options) (*Result, error) {
	var dir string
	err := r.stage(models.StageResolve, func() error {
		var err error
		dir, err = t.WorkDir()
		return err
	})
	if err != nil {
		return nil, err
	}

	lock, err := filelock.LockWorkDir(dir)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	preparer := *d.Preparer
	preparer.Hook = func(stage models.Stage, elapsed time.Duration, err error) {
		if err == nil && d.Logger != nil {
			d.Logger.LogStageComplete(r.req, stage, elapsed)
		}
	}
	prep, err := preparer.Prepare(ctx, r.req.Smiles, opts.Seed)
	if err != nil {
		return nil, err
	}
	r.req.Canonical = prep.Canonical
	if prep.UnseededEmbedding && d.Logger != nil {
		d.Logger.LogWarning(r.req, fmt.Sprintf("the embedder ignores the seed; the starting conformer does not depend on seed %d", opts.Seed))
	}

	paths := struct{ mol, pdbqt, log, out string }{
		mol:   filepath.Join(dir, LigandMolFile),
		pdbqt: filepath.Join(dir, LigandPDBQTFile),
		log:   filepath.Join(dir, EngineLogFile),
		out:   filepath.Join(dir, EngineOutFile),
	}

	err = r.stage(models.StageConvert, func() error {
		return d.convert(ctx, prep, paths.mol, paths.pdbqt)
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(models.StageEngine, func() error {
		run, err := d.Engine.Dock(ctx, engine.Job{
			Receptor: t.DockingStructurePath,
			Config:   t.ConfigPath,
			Ligand:   paths.pdbqt,
			Log:      paths.log,
			Out:      paths.out,
			Seed:     opts.Seed,
			CPUs:     opts.CPUs,
		})
		if opts.Verbose && run != nil && d.Logger != nil {
			d.Logger.LogEngineOutput(r.req, string(run.Output))
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var docked *chem.Molecule
	err = r.stage(models.StageReconstruct, func() error {
		assigner := d.Assigner
		if assigner == nil {
			assigner = TemplateAssigner{}
		}
		var err error
		docked, err = ReconstructWith(assigner, paths.out, prep.Reference)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(models.StageVerify, func() error {
		return Verify(prep.Reference, docked)
	})
	if err != nil {
		return nil, err
	}

	var scores []float64
	err = r.stage(models.StageScores, func() error {
		var err error
		scores, err = ExtractScores(paths.out)
		if err != nil {
			return err
		}
		models.MustHold(len(scores) == docked.NumConformers(),
			"%d scores for %d poses", len(scores), docked.NumConformers())
		if msg := rankingWarning(scores); msg != "" && d.Logger != nil {
			d.Logger.LogWarning(r.req, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		DockResult: models.DockResult{
			Best:    scores[0],
			Poses:   models.PosesFromScores(scores),
			Digest:  prep.Digest,
			Formula: prep.Molecule.Formula(),
			Timings: append(append([]models.StageTiming(nil), prep.Timings...), r.timings...),

			UnseededEmbedding: prep.UnseededEmbedding,
		},
		Ligand:   docked,
		Prepared: prep,
	}, nil
}

// convert writes the prepared ligand and turns it into a validated PDBQT.
func (d *Docker) convert(ctx context.Context, prep *ligand.Prepared, molPath, pdbqtPath string) error {
	data, err := chem.MarshalMol(prep.Molecule, 0)
	if err != nil {
		return models.NewDockError(models.KindLigandConversion, "cannot write prepared ligand", err)
	}
	if err := filelock.AtomicWrite(molPath, data); err != nil {
		return models.NewDockError(models.KindLigandConversion, "cannot write prepared ligand", err)
	}
	if err := os.Remove(pdbqtPath); err != nil && !os.IsNotExist(err) {
		return models.NewDockError(models.KindLigandConversion, "cannot remove stale ligand PDBQT", err)
	}
	if err := d.Converter.ToDockingFormat(ctx, molPath, pdbqtPath); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return models.NewDockError(models.KindLigandConversion, "conversion to PDBQT failed", err)
	}
	return checkLigandPDBQT(pdbqtPath, prep.Molecule)
}

// checkLigandPDBQT verifies the converted ligand before the engine sees it.
func checkLigandPDBQT(path string, prepared *chem.Molecule) error {
	f, err := os.Open(path)
	if err != nil {
		return models.NewDockError(models.KindLigandConversion, "converted ligand missing", err)
	}
	defer f.Close()

	p, err := chem.ReadPDBQT(f)
	if err != nil {
		return models.NewDockError(models.KindLigandConversion, "converted ligand is malformed", err)
	}
	switch {
	case !p.HasRoot:
		return models.Errorf(models.KindLigandConversion, "converted ligand has no ROOT record")
	case p.Torsdof < 0:
		return models.Errorf(models.KindLigandConversion, "converted ligand has no TORSDOF record")
	case p.Molecule.HeavyAtomCount() != prepared.HeavyAtomCount():
		return models.Errorf(models.KindLigandConversion, "converted ligand has %d heavy atoms, prepared %d",
			p.Molecule.HeavyAtomCount(), prepared.HeavyAtomCount())
	}
	return nil
}
