package docking_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/docking"
	"github.com/harrison/dockpipe/internal/engine"
	"github.com/harrison/dockpipe/internal/filelock"
	"github.com/harrison/dockpipe/internal/ligand"
	"github.com/harrison/dockpipe/internal/ligand/ligandtest"
	"github.com/harrison/dockpipe/internal/logger"
	"github.com/harrison/dockpipe/internal/models"
	"github.com/harrison/dockpipe/internal/target"
	"github.com/harrison/dockpipe/internal/target/targettest"
)

const parseArgs = `while [ $# -gt 0 ]; do
  case "$1" in
    --ligand) lig="$2"; shift 2 ;;
    --out) out="$2"; shift 2 ;;
    --log) log="$2"; shift 2 ;;
    *) shift ;;
  esac
done
`

// echoVina writes a fake engine that records its arguments and returns the
// input ligand unchanged as one pose per score.
func echoVina(t *testing.T, scores ...float64) (path, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\necho \"$@\" > " + argsFile + "\n" + parseArgs)
	sb.WriteString("echo 'mode |   affinity' > \"$log\"\n: > \"$out\"\n")
	for i, s := range scores {
		fmt.Fprintf(&sb, "echo 'MODEL %d' >> \"$out\"\n", i+1)
		fmt.Fprintf(&sb, "echo 'REMARK VINA RESULT:    %.1f      0.000      0.000' >> \"$out\"\n", s)
		sb.WriteString("cat \"$lig\" >> \"$out\"\necho ENDMDL >> \"$out\"\n")
	}
	path = filepath.Join(dir, "vina")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0755))
	return path, argsFile
}

// fixtureVina writes a fake engine that copies content to --out.
func fixtureVina(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.pdbqt")
	require.NoError(t, os.WriteFile(fixture, []byte(content), 0644))
	path := filepath.Join(dir, "vina")
	script := "#!/bin/sh\n" + parseArgs + "cat " + fixture + " > \"$out\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// poses renders m as a Vina output file with one MODEL per score.
func poses(t *testing.T, m *chem.Molecule, scores ...float64) string {
	t.Helper()
	var sb strings.Builder
	for i, s := range scores {
		fmt.Fprintf(&sb, "MODEL %d\nREMARK VINA RESULT:    %.1f      0.000      0.000\n", i+1, s)
		var buf bytes.Buffer
		require.NoError(t, ligandtest.WritePDBQT(&buf, m, 0))
		sb.Write(buf.Bytes())
		sb.WriteString("ENDMDL\n")
	}
	return sb.String()
}

type fixture struct {
	tk     *ligandtest.Toolkit
	docker *docking.Docker
	target *target.Target
}

func newFixture(t *testing.T, vinaPath string) *fixture {
	t.Helper()
	tk := ligandtest.New()
	tgt, err := targettest.Registry(t).Resolve("ABC")
	require.NoError(t, err)
	t.Cleanup(func() { tgt.Close() })
	return &fixture{
		tk:     tk,
		docker: docking.NewDocker(ligand.NewPreparer(tk), tk, &engine.Vina{Path: vinaPath}),
		target: tgt,
	}
}

func dock(f *fixture, smiles string) (float64, *docking.Result, error) {
	return f.docker.Dock(context.Background(), f.target, smiles, docking.Options{Seed: 42})
}

func TestDockEthanol(t *testing.T) {
	vina, args := echoVina(t, -2.1, -1.9)
	f := newFixture(t, vina)

	best, res, err := f.docker.Dock(context.Background(), f.target, "CCO", docking.Options{Seed: 42, CPUs: 2})
	require.NoError(t, err)

	assert.Equal(t, -2.1, best)
	assert.Equal(t, []float64{-2.1, -1.9}, res.Scores())
	assert.Equal(t, 2, res.Ligand.NumConformers())
	assert.Equal(t, 3, res.Ligand.NumAtoms())
	assert.Equal(t, "CCO", res.Request.Canonical)
	assert.Equal(t, "ABC", res.Request.Target)
	assert.NotEmpty(t, res.RunID)
	assert.NotEmpty(t, res.Digest)
	assert.Equal(t, "C2H6O", res.Formula)

	recorded, err := os.ReadFile(args)
	require.NoError(t, err)
	assert.Contains(t, string(recorded), "--seed 42")
	assert.Contains(t, string(recorded), "--cpu 2")
	assert.Contains(t, string(recorded), "--receptor "+f.target.DockingStructurePath)

	dir, err := f.target.WorkDir()
	require.NoError(t, err)
	for _, name := range []string{docking.LigandMolFile, docking.LigandPDBQTFile, docking.EngineLogFile, docking.EngineOutFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	require.NoError(t, f.target.Close())
	assert.NoDirExists(t, dir)
}

func TestDockIsDeterministic(t *testing.T) {
	vina, _ := echoVina(t, -2.1)
	f := newFixture(t, vina)

	_, a, err := dock(f, "CCO")
	require.NoError(t, err)
	_, b, err := dock(f, "OCC")
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, a.Scores(), b.Scores())
}

func TestDockRestoresBondOrdersAndCharges(t *testing.T) {
	vina, _ := echoVina(t, -3.4)
	f := newFixture(t, vina)

	_, res, err := dock(f, "CC(=O)[O-]")
	require.NoError(t, err)

	lig := res.Ligand
	assert.Equal(t, -1, lig.NetCharge())
	assert.Equal(t, chem.BondDouble, lig.Bonds[lig.BondBetween(1, 2)].Order)
	assert.Equal(t, -1, lig.Atoms[3].Charge)
	assert.Equal(t, 3, lig.Atoms[0].ImplicitH)
}

func TestDockKeepsStereo(t *testing.T) {
	vina, _ := echoVina(t, -1.2, -1.1)
	f := newFixture(t, vina)

	_, res, err := dock(f, "FC(Cl)Br")
	require.NoError(t, err)
	assert.Equal(t, res.Prepared.Reference.Atoms[1].Parity, res.Ligand.Atoms[1].Parity)
}

func TestDockInvertedStereocentreIsMismatch(t *testing.T) {
	mirrored := ligandtest.Mirror(ligandtest.Halomethane())
	f := newFixture(t, fixtureVina(t, poses(t, mirrored, -1.2)))

	_, _, err := dock(f, "FC(Cl)Br")
	require.Error(t, err)
	assert.Equal(t, models.KindDockedLigandMismatch, models.KindOf(err))
	assert.Contains(t, err.Error(), "parity")
}

func TestDockWrongMoleculeIsRejected(t *testing.T) {
	// the engine returns acetate's skeleton for an ethanol request
	f := newFixture(t, fixtureVina(t, poses(t, ligandtest.Acetate(), -2.0)))

	_, _, err := dock(f, "CCO")
	require.Error(t, err)
	assert.Equal(t, models.KindBondOrderAssignment, models.KindOf(err))
}

func TestDockInvalidSmilesNeverRunsTools(t *testing.T) {
	vina, args := echoVina(t, -2.1)
	f := newFixture(t, vina)

	_, res, err := dock(f, "not a smiles")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, models.KindInvalidSmiles))
	assert.Zero(t, f.tk.TotalCalls())
	assert.NoFileExists(t, args)
}

func TestDockEngineFailure(t *testing.T) {
	dir := t.TempDir()
	vina := filepath.Join(dir, "vina")
	script := "#!/bin/sh\n" + parseArgs +
		"echo 'TORSDOF 0' > \"$out\"\necho 'ERROR: could not open \"receptor.pdbqt\" for reading.' >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(vina, []byte(script), 0755))
	f := newFixture(t, vina)

	_, _, err := dock(f, "CCO")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.KindEngineExecution))

	var de *models.DockError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Output, "could not open")

	workDir, err := f.target.WorkDir()
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(workDir, docking.EngineOutFile))
}

func TestDockEngineOutputProblems(t *testing.T) {
	tests := []struct {
		name    string
		content func(t *testing.T) string
	}{
		{"empty output", func(t *testing.T) string { return "" }},
		{"no atoms", func(t *testing.T) string { return "MODEL 1\nREMARK VINA RESULT: -1.0 0 0\nENDMDL\n" }},
		{"truncated model", func(t *testing.T) string {
			return strings.TrimSuffix(poses(t, ligandtest.Ethanol(), -2.1), "ENDMDL\n")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureVina(t, tt.content(t)))
			_, _, err := dock(f, "CCO")
			require.Error(t, err)
			assert.Equal(t, models.KindEngineOutput, models.KindOf(err))
		})
	}
}

// warnings collects LogWarning messages and ignores every other event.
type warnings struct {
	*logger.NoOpLogger
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) LogWarning(_ models.DockRequest, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
}

func TestDockKeepsEngineOrderForUnrankedScores(t *testing.T) {
	f := newFixture(t, fixtureVina(t, poses(t, ligandtest.Ethanol(), -1.0, -2.0)))
	w := &warnings{NoOpLogger: logger.NewNoOpLogger()}
	f.docker.Logger = w

	best, res, err := dock(f, "CCO")
	require.NoError(t, err)
	assert.Equal(t, -1.0, best)
	assert.Equal(t, []float64{-1.0, -2.0}, res.Scores())
	require.Len(t, w.msgs, 1)
	assert.Contains(t, w.msgs[0], "pose 2")
}

func TestDockRecordsUnseededEmbedding(t *testing.T) {
	vina, _ := echoVina(t, -2.1)
	f := newFixture(t, vina)
	f.tk.IgnoreSeed = true
	w := &warnings{NoOpLogger: logger.NewNoOpLogger()}
	f.docker.Logger = w

	_, res, err := dock(f, "CCO")
	require.NoError(t, err)
	assert.True(t, res.UnseededEmbedding)
	require.Len(t, w.msgs, 1)
	assert.Contains(t, w.msgs[0], "ignores the seed")
}

func TestDockScoreCountInvariant(t *testing.T) {
	out := poses(t, ligandtest.Ethanol(), -2.1, -1.9)
	out = strings.Replace(out, "REMARK VINA RESULT:    -1.9      0.000      0.000\n", "", 1)
	f := newFixture(t, fixtureVina(t, out))

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		_, ok := r.(*models.InvariantViolation)
		assert.True(t, ok, "panic value %T", r)
	}()
	dock(f, "CCO")
}

func TestDockConversionFailure(t *testing.T) {
	vina, args := echoVina(t, -2.1)
	f := newFixture(t, vina)
	f.tk.ConvertErr = errors.New("PDBQT writer crashed")

	_, _, err := dock(f, "CCO")
	require.Error(t, err)
	assert.Equal(t, models.KindLigandConversion, models.KindOf(err))
	assert.NoFileExists(t, args)
}

func TestDockWorkDirBusy(t *testing.T) {
	vina, _ := echoVina(t, -2.1)
	f := newFixture(t, vina)

	dir, err := f.target.WorkDir()
	require.NoError(t, err)
	lock, err := filelock.LockWorkDir(dir)
	require.NoError(t, err)
	defer lock.Unlock()

	_, _, err = dock(f, "CCO")
	assert.ErrorIs(t, err, filelock.ErrBusy)
}

func TestDockEngineTimeout(t *testing.T) {
	dir := t.TempDir()
	vina := filepath.Join(dir, "vina")
	require.NoError(t, os.WriteFile(vina, []byte("#!/bin/sh\nexec sleep 5\n"), 0755))
	f := newFixture(t, vina)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := f.docker.Dock(ctx, f.target, "CCO", docking.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.KindEngineExecution))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type recorder struct {
	mu   sync.Mutex
	runs []models.DockRequest
	errs []error
	fail bool
}

func (r *recorder) RecordDock(_ context.Context, req models.DockRequest, _ *models.DockResult, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, req)
	r.errs = append(r.errs, err)
	if r.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestDockRecordsEveryAttempt(t *testing.T) {
	vina, _ := echoVina(t, -2.1)
	f := newFixture(t, vina)
	ok, broken := &recorder{}, &recorder{fail: true}
	f.docker.Recorders = []docking.Recorder{broken, ok}

	_, _, err := dock(f, "CCO")
	require.NoError(t, err, "a failing recorder does not fail the request")
	_, _, err = dock(f, "C(")
	require.Error(t, err)

	require.Len(t, ok.runs, 2)
	assert.Equal(t, "CCO", ok.runs[0].Canonical)
	assert.NoError(t, ok.errs[0])
	assert.True(t, errors.Is(ok.errs[1], models.KindInvalidSmiles))
	assert.NotEqual(t, ok.runs[0].ID, ok.runs[1].ID)
}

func TestDockConcurrentTargets(t *testing.T) {
	vina, _ := echoVina(t, -2.1)
	tk := ligandtest.New()
	docker := docking.NewDocker(ligand.NewPreparer(tk), tk, &engine.Vina{Path: vina})
	reg := targettest.Registry(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tgt, err := reg.Resolve("ABC")
			if !assert.NoError(t, err) {
				return
			}
			defer tgt.Close()
			best, _, err := docker.Dock(context.Background(), tgt, "CCO", docking.DefaultOptions())
			assert.NoError(t, err)
			assert.Equal(t, -2.1, best)
		}()
	}
	wg.Wait()
}

func TestWritePoses(t *testing.T) {
	vina, _ := echoVina(t, -2.1, -1.9)
	f := newFixture(t, vina)
	_, res, err := dock(f, "CCO")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "poses.sdf")
	require.NoError(t, res.WritePoses(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := chem.ReadSDF(file)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "-1.900", records[1].Properties["score"])
	assert.Equal(t, "2", records[1].Properties["rank"])
}
