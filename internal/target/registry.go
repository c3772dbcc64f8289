// Package target resolves docking targets to their artifact files and owns
// the working directory each target docks in.
package target

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/harrison/dockpipe/internal/models"
)

// File name suffixes of the three artifacts every target provides.
const (
	StructureSuffix        = "_target.pdb"
	DockingStructureSuffix = "_target.pdbqt"
	ConfigSuffix           = "_conf.txt"
)

var (
	namePattern      = regexp.MustCompile(`^\w+$`)
	structurePattern = regexp.MustCompile(`^(\w+)_target\.pdb$`)
)

// Registry looks up targets in a single directory.
type Registry struct {
	Dir string
}

// NewRegistry creates a Registry for dir.
func NewRegistry(dir string) *Registry {
	return &Registry{Dir: dir}
}

// Option configures a resolved Target.
type Option func(*Target)

// WithWorkDir makes the target dock in dir instead of a private temporary
// directory. The directory is created if needed and never removed.
func WithWorkDir(dir string) Option {
	return func(t *Target) {
		t.customWorkDir = dir
	}
}

// Resolve validates that all three artifacts of name exist and returns the
// Target. Failure is always a KindUnsupportedTarget error.
func (r *Registry) Resolve(name string, opts ...Option) (*Target, error) {
	if !namePattern.MatchString(name) {
		return nil, models.Errorf(models.KindUnsupportedTarget, "invalid target name %q", name)
	}

	t := &Target{
		Name:                 name,
		StructurePath:        filepath.Join(r.Dir, name+StructureSuffix),
		DockingStructurePath: filepath.Join(r.Dir, name+DockingStructureSuffix),
		ConfigPath:           filepath.Join(r.Dir, name+ConfigSuffix),
	}

	var missing []string
	for _, p := range []string{t.StructurePath, t.DockingStructurePath, t.ConfigPath} {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			missing = append(missing, filepath.Base(p))
		}
	}
	if len(missing) > 0 {
		return nil, models.Errorf(models.KindUnsupportedTarget, "target %q is missing %v in %s", name, missing, r.Dir)
	}

	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ListAvailable returns the sorted names of every target whose structure
// file is present in the directory. It does not check the other artifacts.
func (r *Registry) ListAvailable() ([]string, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("read targets directory: %w", err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := structurePattern.FindStringSubmatch(e.Name())
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	sort.Strings(names)
	return names, nil
}

// Target is a resolved docking receptor. Its paths never change after
// Resolve; the working directory is created on first use.
type Target struct {
	Name                 string
	StructurePath        string
	DockingStructurePath string
	ConfigPath           string

	customWorkDir string

	mu      sync.Mutex
	workDir string
	tempDir bool
	closed  bool
}

// WorkDir returns the directory intermediate files are written to,
// creating it on first call. Safe for concurrent use.
func (t *Target) WorkDir() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", fmt.Errorf("target %s is closed", t.Name)
	}
	if t.workDir != "" {
		return t.workDir, nil
	}

	if t.customWorkDir != "" {
		abs, err := filepath.Abs(t.customWorkDir)
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return "", fmt.Errorf("create working directory: %w", err)
		}
		t.workDir = abs
		return abs, nil
	}

	dir, err := os.MkdirTemp("", "dockpipe-"+t.Name+"-")
	if err != nil {
		return "", fmt.Errorf("create temporary working directory: %w", err)
	}
	t.workDir = dir
	t.tempDir = true
	return dir, nil
}

// HasPrivateWorkDir reports whether the working directory is a temporary
// one owned by the target.
func (t *Target) HasPrivateWorkDir() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.customWorkDir == ""
}

// Close removes the private temporary directory, if one was created.
// A caller supplied directory is left alone. Close is idempotent.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if !t.tempDir || t.workDir == "" {
		return nil
	}
	if err := os.RemoveAll(t.workDir); err != nil {
		return fmt.Errorf("remove working directory: %w", err)
	}
	return nil
}

// SearchBox reads the target's search box from its config file.
func (t *Target) SearchBox() (models.SearchBox, error) {
	f, err := os.Open(t.ConfigPath)
	if err != nil {
		return models.SearchBox{}, fmt.Errorf("open search box config: %w", err)
	}
	defer f.Close()

	box, err := ParseSearchBox(f)
	if err != nil {
		return models.SearchBox{}, fmt.Errorf("%s: %w", filepath.Base(t.ConfigPath), err)
	}
	return box, nil
}
