// Package obabel implements the ligand preparation capabilities on top of
// the Open Babel command line tools.
package obabel

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/dockpipe/internal/chem"
)

// Defaults for a toolkit created with New.
const (
	DefaultObabelPath    = "obabel"
	DefaultMinimizePath  = "obminimize"
	DefaultForceField    = "MMFF94"
	DefaultMinimizeSteps = 2500
	DefaultGen3DSpeed    = "fast"
)

// Toolkit runs obabel and obminimize. Like an http.Client it is created
// once and shared; it holds no per-call state.
type Toolkit struct {
	ObabelPath   string
	MinimizePath string
	ForceField   string
	Steps        int
	// Gen3DSpeed is passed to --gen3d. Settings above "fast" run a random
	// rotor search and are not reproducible.
	Gen3DSpeed string
	// Timeout bounds each subprocess when > 0.
	Timeout time.Duration
}

// New returns a toolkit using the binaries found in PATH.
func New() *Toolkit {
	return &Toolkit{
		ObabelPath:   DefaultObabelPath,
		MinimizePath: DefaultMinimizePath,
		ForceField:   DefaultForceField,
		Steps:        DefaultMinimizeSteps,
		Gen3DSpeed:   DefaultGen3DSpeed,
	}
}

// Available reports whether the obabel binary can be found.
func (tk *Toolkit) Available() bool {
	_, err := exec.LookPath(tk.obabel())
	return err == nil
}

// Canonicalize returns Open Babel's canonical SMILES for smiles.
func (tk *Toolkit) Canonicalize(ctx context.Context, smiles string) (string, error) {
	out, err := tk.run(ctx, tk.obabel(), nil, "-:"+smiles, "-ocan")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("obabel produced no canonical SMILES for %q", smiles)
	}
	return fields[0], nil
}

// Parse converts smiles to a MOL block without adding hydrogens.
func (tk *Toolkit) Parse(ctx context.Context, smiles string) (*chem.Molecule, error) {
	out, err := tk.run(ctx, tk.obabel(), nil, "-:"+smiles, "-omol")
	if err != nil {
		return nil, err
	}
	m, err := readMol(out)
	if err != nil {
		return nil, err
	}
	m.Conformers = nil
	return m, nil
}

// Protonate adds the hydrogens appropriate for pH.
func (tk *Toolkit) Protonate(ctx context.Context, m *chem.Molecule, pH float64) (*chem.Molecule, error) {
	return tk.pipeMol(ctx, m, "-p", strconv.FormatFloat(pH, 'f', -1, 64))
}

// IgnoresSeed reports that Embed does not use its seed.
func (tk *Toolkit) IgnoresSeed() bool { return true }

// Embed builds 3D coordinates. Open Babel takes no seed: the builder is
// deterministic at the configured speed, so the seed is not consumed.
func (tk *Toolkit) Embed(ctx context.Context, m *chem.Molecule, seed int64) (*chem.Molecule, error) {
	speed := tk.Gen3DSpeed
	if speed == "" {
		speed = DefaultGen3DSpeed
	}
	return tk.pipeMol(ctx, m, "--gen3d", speed)
}

// Refine minimizes the structure with obminimize.
func (tk *Toolkit) Refine(ctx context.Context, m *chem.Molecule) (*chem.Molecule, error) {
	dir, err := os.MkdirTemp("", "dockpipe-obminimize-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.mol")
	data, err := chem.MarshalMol(m, 0)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(in, data, 0644); err != nil {
		return nil, fmt.Errorf("write minimizer input: %w", err)
	}

	ff := tk.ForceField
	if ff == "" {
		ff = DefaultForceField
	}
	steps := tk.Steps
	if steps <= 0 {
		steps = DefaultMinimizeSteps
	}
	minimize := tk.MinimizePath
	if minimize == "" {
		minimize = DefaultMinimizePath
	}
	out, err := tk.run(ctx, minimize, nil, "-ff", ff, "-n", strconv.Itoa(steps), "-o", "mol", in)
	if err != nil {
		return nil, err
	}
	return readMol(out)
}

// ToDockingFormat converts a MOL file to a PDBQT file.
func (tk *Toolkit) ToDockingFormat(ctx context.Context, molPath, pdbqtPath string) error {
	if _, err := tk.run(ctx, tk.obabel(), nil, "-imol", molPath, "-opdbqt", "-O", pdbqtPath); err != nil {
		return err
	}
	info, err := os.Stat(pdbqtPath)
	if err != nil {
		return fmt.Errorf("obabel wrote no PDBQT: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("obabel wrote an empty PDBQT file")
	}
	return nil
}

func (tk *Toolkit) obabel() string {
	if tk.ObabelPath == "" {
		return DefaultObabelPath
	}
	return tk.ObabelPath
}

// pipeMol feeds m to obabel on stdin as MOL and reads MOL back.
func (tk *Toolkit) pipeMol(ctx context.Context, m *chem.Molecule, args ...string) (*chem.Molecule, error) {
	data, err := chem.MarshalMol(m, -1)
	if err != nil {
		return nil, err
	}
	out, err := tk.run(ctx, tk.obabel(), data, append([]string{"-imol", "-omol"}, args...)...)
	if err != nil {
		return nil, err
	}
	return readMol(out)
}

func readMol(out []byte) (*chem.Molecule, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, fmt.Errorf("empty MOL output")
	}
	m, err := chem.ParseMol(out)
	if err != nil {
		return nil, fmt.Errorf("parse toolkit output: %w", err)
	}
	return m, nil
}

// run executes a tool, returning stdout. Open Babel reports most problems
// on stderr while still exiting 0, so known failure messages are checked
// there too.
func (tk *Toolkit) run(ctx context.Context, path string, stdin []byte, args ...string) ([]byte, error) {
	if tk.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tk.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	name := filepath.Base(path)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("%s failed: %w (output: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	if msg := failureMessage(stderr.String()); msg != "" {
		return nil, fmt.Errorf("%s: %s", name, msg)
	}
	return stdout.Bytes(), nil
}

var failureMarkers = []string{
	"Could not setup force field",
	"Cannot read input format",
	"SMILES Parse Error",
	"Failed to kekulize",
}

func failureMessage(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		if strings.TrimSpace(line) == "0 molecules converted" {
			return "no molecule converted"
		}
		for _, marker := range failureMarkers {
			if strings.Contains(line, marker) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}
