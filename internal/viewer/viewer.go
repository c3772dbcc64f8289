// Package viewer opens a target, its search box and docked ligands in PyMOL.
package viewer

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/models"
	"github.com/harrison/dockpipe/internal/target"
)

// DefaultPymolPath is the PyMOL binary looked up on PATH.
const DefaultPymolPath = "pymol"

// ScriptName is the file name the search box script is written under.
const ScriptName = "view_search_box.py"

//go:embed view_search_box.py
var searchBoxScript []byte

// Viewer launches PyMOL. Its output is passed through, never parsed.
type Viewer struct {
	Path   string
	Stdout io.Writer
	Stderr io.Writer
}

// New creates a Viewer for the given binary; empty means DefaultPymolPath.
func New(path string) *Viewer {
	if path == "" {
		path = DefaultPymolPath
	}
	return &Viewer{Path: path, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Options controls what is shown next to the receptor.
type Options struct {
	// SearchBox draws the docking search box.
	SearchBox bool
	// Ligands are molecule files loaded after the receptor.
	Ligands []string
	// Poses are written to temporary MOL files, one per conformer.
	Poses *chem.Molecule
}

// BoxCommand is the PyMOL command that draws box with the embedded script.
func BoxCommand(box models.SearchBox) string {
	return fmt.Sprintf("view_search_box center_x=%g, center_y=%g, center_z=%g, size_x=%g, size_y=%g, size_z=%g",
		box.CenterX, box.CenterY, box.CenterZ, box.SizeX, box.SizeY, box.SizeZ)
}

// Args builds the PyMOL argument list. scriptPath and box are ignored when
// box is nil.
func Args(structure, scriptPath string, box *models.SearchBox, ligands []string) []string {
	args := []string{structure}
	if box != nil {
		args = append(args, scriptPath, "-d", BoxCommand(*box))
	}
	return append(args, ligands...)
}

// Launch runs PyMOL on t and blocks until it exits. Temporary files are
// removed afterwards.
func (v *Viewer) Launch(ctx context.Context, t *target.Target, opts Options) error {
	tmp, err := os.MkdirTemp("", "dockpipe-view-")
	if err != nil {
		return fmt.Errorf("create viewer directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	var box *models.SearchBox
	scriptPath := filepath.Join(tmp, ScriptName)
	if opts.SearchBox {
		b, err := t.SearchBox()
		if err != nil {
			return err
		}
		box = &b
		if err := os.WriteFile(scriptPath, searchBoxScript, 0644); err != nil {
			return fmt.Errorf("write search box script: %w", err)
		}
	}

	ligands := append([]string(nil), opts.Ligands...)
	if opts.Poses != nil {
		files, err := WritePoseFiles(tmp, opts.Poses)
		if err != nil {
			return err
		}
		ligands = append(ligands, files...)
	}

	cmd := exec.CommandContext(ctx, v.Path, Args(t.StructurePath, scriptPath, box, ligands)...)
	cmd.Stdout = v.Stdout
	cmd.Stderr = v.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pymol failed: %w", err)
	}
	return nil
}

// WritePoseFiles writes each conformer of m to dir as ligand_<i>.mol.
func WritePoseFiles(dir string, m *chem.Molecule) ([]string, error) {
	files := make([]string, 0, m.NumConformers())
	for i := 0; i < m.NumConformers(); i++ {
		data, err := chem.MarshalMol(m, i)
		if err != nil {
			return nil, fmt.Errorf("write pose %d: %w", i+1, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("ligand_%d.mol", i))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("write pose %d: %w", i+1, err)
		}
		files = append(files, path)
	}
	return files, nil
}
