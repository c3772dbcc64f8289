// Package targettest writes target fixtures for tests.
package targettest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harrison/dockpipe/internal/models"
	"github.com/harrison/dockpipe/internal/target"
)

// Receptor is a tiny placeholder structure; nothing in the pipeline parses it.
const Receptor = "ATOM      1  CA  ALA A   1       0.000   0.000   0.000  1.00  0.00           C\nEND\n"

// DefaultBox is the box used by the ABC fixture: origin centred, 20 A edges.
var DefaultBox = models.SearchBox{SizeX: 20, SizeY: 20, SizeZ: 20}

// WriteTarget writes the three artifacts of name into dir.
func WriteTarget(t testing.TB, dir, name string, box models.SearchBox) {
	t.Helper()
	files := map[string]string{
		name + target.StructureSuffix:        Receptor,
		name + target.DockingStructureSuffix: Receptor,
		name + target.ConfigSuffix:           target.FormatSearchBox(box) + "energy_range = 3\nexhaustiveness = 8\n",
	}
	for file, content := range files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
}

// Registry returns a registry over a fresh directory holding target ABC.
func Registry(t testing.TB) *target.Registry {
	t.Helper()
	dir := t.TempDir()
	WriteTarget(t, dir, "ABC", DefaultBox)
	return target.NewRegistry(dir)
}
