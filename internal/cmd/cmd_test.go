package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/config"
	"github.com/harrison/dockpipe/internal/ligand/ligandtest"
	"github.com/harrison/dockpipe/internal/target/targettest"
)

const parseVinaArgs = `while [ $# -gt 0 ]; do
  case "$1" in
    --ligand) lig="$2"; shift 2 ;;
    --out) out="$2"; shift 2 ;;
    --log) log="$2"; shift 2 ;;
    *) shift ;;
  esac
done
`

// env is an isolated dockpipe installation: a targets directory holding
// ABC, a config file pointing at it and a fake engine.
type env struct {
	dir        string
	configPath string
	targetsDir string
	historyDB  string
	logDir     string
	tk         *ligandtest.Toolkit
	stdin      string
}

// newEnv writes the config and swaps in the in-memory toolkit. vina is the
// body of the fake engine script.
func newEnv(t *testing.T, vina string) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		targetsDir: filepath.Join(dir, "targets"),
		historyDB:  filepath.Join(dir, "home", "history.db"),
		logDir:     filepath.Join(dir, "logs"),
		tk:         ligandtest.New(),
	}
	require.NoError(t, os.MkdirAll(e.targetsDir, 0755))
	targettest.WriteTarget(t, e.targetsDir, "ABC", targettest.DefaultBox)

	vinaPath := filepath.Join(dir, "vina")
	require.NoError(t, os.WriteFile(vinaPath, []byte("#!/bin/sh\n"+vina), 0755))

	e.writeConfig(t, "")

	t.Setenv(config.HomeEnv, filepath.Join(dir, "home"))
	orig := newToolkit
	newToolkit = func(*config.Config) chemToolkit { return e.tk }
	t.Cleanup(func() { newToolkit = orig })
	return e
}

// writeConfig writes the base config followed by extra YAML.
func (e *env) writeConfig(t *testing.T, extra string) {
	t.Helper()
	cfg := fmt.Sprintf(`log_level: info
log_dir: %s
targets_dir: %s
engine:
  vina_path: %s
history:
  db_path: %s
%s`, e.logDir, e.targetsDir, filepath.Join(e.dir, "vina"), e.historyDB, extra)
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0644))
}

// run executes the CLI and returns stdout and stderr.
func (e *env) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(e.stdin))
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// echoVina returns a fake engine body that reports one pose per score, each
// a copy of the input ligand.
func echoVina(scores ...float64) string {
	var sb strings.Builder
	sb.WriteString(parseVinaArgs)
	sb.WriteString("echo 'mode |   affinity' > \"$log\"\n: > \"$out\"\n")
	for i, s := range scores {
		fmt.Fprintf(&sb, "echo 'MODEL %d' >> \"$out\"\n", i+1)
		fmt.Fprintf(&sb, "echo 'REMARK VINA RESULT:    %.1f      0.000      0.000' >> \"$out\"\n", s)
		sb.WriteString("cat \"$lig\" >> \"$out\"\necho ENDMDL >> \"$out\"\n")
	}
	return sb.String()
}
