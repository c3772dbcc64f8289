package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/models"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vina")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func testJob(t *testing.T) Job {
	dir := t.TempDir()
	return Job{
		Receptor: filepath.Join(dir, "r.pdbqt"),
		Config:   filepath.Join(dir, "conf.txt"),
		Ligand:   filepath.Join(dir, "ligand.pdbqt"),
		Log:      filepath.Join(dir, "vina.log"),
		Out:      filepath.Join(dir, "vina.out"),
		Seed:     42,
	}
}

func TestArgs(t *testing.T) {
	v := NewVina()
	job := Job{Receptor: "r", Config: "c", Ligand: "l", Log: "g", Out: "o", Seed: 974528263}
	assert.Equal(t, "--receptor r --config c --ligand l --log g --out o --seed 974528263", strings.Join(v.Args(job), " "))

	job.CPUs = 4
	assert.Equal(t, []string{"--cpu", "4"}, v.Args(job)[12:])
}

func TestDockSuccess(t *testing.T) {
	job := testJob(t)
	// writes its arguments as the output so the test can inspect them
	v := &Vina{Path: writeScript(t, "while [ $# -gt 0 ]; do\n  if [ \"$1\" = --out ]; then out=\"$2\"; fi\n  shift\ndone\necho done > \"$out\"\necho 'Writing output ... done.'\n")}

	run, err := v.Dock(context.Background(), job)
	require.NoError(t, err)
	assert.Contains(t, string(run.Output), "Writing output")
	assert.FileExists(t, job.Out)
}

func TestDockRemovesStaleOutput(t *testing.T) {
	job := testJob(t)
	require.NoError(t, os.WriteFile(job.Out, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(job.Log, []byte("old"), 0644))

	_, err := (&Vina{Path: writeScript(t, "exit 0\n")}).Dock(context.Background(), job)
	require.NoError(t, err)
	assert.NoFileExists(t, job.Out)
	assert.NoFileExists(t, job.Log)
}

func TestDockNonZeroExit(t *testing.T) {
	job := testJob(t)
	script := "while [ $# -gt 0 ]; do\n  if [ \"$1\" = --out ]; then out=\"$2\"; fi\n  shift\ndone\n" +
		"echo partial > \"$out\"\necho 'Parse error on line 3 in file \"ligand.pdbqt\"' >&2\nexit 1\n"

	_, err := (&Vina{Path: writeScript(t, script)}).Dock(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.KindEngineExecution))

	var de *models.DockError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Output, "Parse error on line 3")
	assert.NoFileExists(t, job.Out, "partial output is removed")
}

func TestDockMissingBinary(t *testing.T) {
	_, err := (&Vina{Path: filepath.Join(t.TempDir(), "missing")}).Dock(context.Background(), testJob(t))
	require.Error(t, err)
	assert.True(t, models.IsEngineExecution(err))
}

func TestDockTimeout(t *testing.T) {
	v := &Vina{Path: writeScript(t, "exec sleep 5\n"), Timeout: 50 * time.Millisecond}

	start := time.Now()
	_, err := v.Dock(context.Background(), testJob(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.KindEngineExecution))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}
