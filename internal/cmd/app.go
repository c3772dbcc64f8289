package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/dockpipe/internal/config"
	"github.com/harrison/dockpipe/internal/docking"
	"github.com/harrison/dockpipe/internal/engine"
	"github.com/harrison/dockpipe/internal/history"
	"github.com/harrison/dockpipe/internal/ligand"
	"github.com/harrison/dockpipe/internal/logger"
	"github.com/harrison/dockpipe/internal/metrics"
	"github.com/harrison/dockpipe/internal/obabel"
	"github.com/harrison/dockpipe/internal/target"
)

// chemToolkit is everything the pipeline needs from the chemistry toolkit.
type chemToolkit interface {
	ligand.Toolkit
	docking.Converter
}

// newToolkit builds the toolkit used by dock, prepare and batch. Tests
// replace it with an in-memory one.
var newToolkit = func(cfg *config.Config) chemToolkit {
	tk := obabel.New()
	tk.ObabelPath = cfg.Toolkit.ObabelPath
	tk.MinimizePath = cfg.Toolkit.ObminimizePath
	tk.ForceField = cfg.Toolkit.ForceField
	tk.Steps = cfg.Toolkit.MinimizeSteps
	return tk
}

// appOptions selects the optional parts of the application a command needs.
type appOptions struct {
	// runLog opens a per-run log file under the log directory
	runLog bool
	// history records every docking attempt in the history store
	history bool
}

// app is the wired application for one command invocation.
type app struct {
	cfg      *config.Config
	stdout   io.Writer
	console  *logger.ConsoleLogger
	file     *logger.FileLogger
	log      *logger.MultiLogger
	registry *target.Registry
	store    *history.Store
	metrics  *metrics.Metrics

	metricsFile string
}

// loadConfig reads the config file selected by --config and applies every
// flag the user set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var seedPtr *int64
	if changed(cmd, "seed") {
		seed, _ := cmd.Flags().GetInt64("seed")
		seedPtr = &seed
	}
	var cpusPtr *int
	if changed(cmd, "cpus") {
		cpus, _ := cmd.Flags().GetInt("cpus")
		cpusPtr = &cpus
	}
	var timeoutPtr *time.Duration
	if changed(cmd, "timeout") {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		timeoutPtr = &timeout
	}

	cfg.MergeWithFlags(
		stringFlag(cmd, "log-level"),
		stringFlag(cmd, "log-dir"),
		stringFlag(cmd, "targets-dir"),
		stringFlag(cmd, "workdir"),
		seedPtr, cpusPtr, timeoutPtr,
	)

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && !changed(cmd, "log-level") {
		cfg.LogLevel = "trace"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// changed reports whether the user set flag name, which cmd may not define.
func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func stringFlag(cmd *cobra.Command, name string) *string {
	if !changed(cmd, name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

// newApp loads the configuration and opens the loggers, the target
// registry and, when requested, the history store. Failures of the run
// log and the history store are reported and otherwise ignored; docking
// does not depend on them.
func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		stdout:  cmd.OutOrStdout(),
		console: logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel),
	}

	loggers := []logger.EventLogger{a.console}
	if opts.runLog {
		fl, err := logger.NewFileLoggerWithDirAndLevel(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			a.console.LogWarn(fmt.Sprintf("run log disabled: %v", err))
		} else {
			a.file = fl
			loggers = append(loggers, fl)
			a.console.LogDebug("run log: " + fl.RunFile())
		}
	}
	a.log = logger.NewMultiLogger(loggers...)

	targetsDir, err := cfg.ResolveTargetsDir()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("resolve targets directory: %w", err)
	}
	a.registry = target.NewRegistry(targetsDir)

	if opts.history && cfg.History.Enabled {
		if err := a.openHistory(); err != nil {
			a.console.LogWarn(fmt.Sprintf("history disabled: %v", err))
		}
	}

	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		a.metrics = metrics.New()
		a.metricsFile = path
	}
	return a, nil
}

func (a *app) openHistory() error {
	path, err := a.cfg.HistoryDBPath()
	if err != nil {
		return err
	}
	store, err := history.NewStore(path)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// preparer builds the ligand preparation pipeline from the configuration.
func (a *app) preparer(tk ligand.Toolkit) *ligand.Preparer {
	p := ligand.NewPreparer(tk)
	p.Policy = a.cfg.Policy()
	p.PH = a.cfg.Ligand.PH
	return p
}

// docker wires preparation, conversion, the engine, logging and the
// recorders into one pipeline.
func (a *app) docker() *docking.Docker {
	tk := newToolkit(a.cfg)
	vina := engine.NewVina()
	vina.Path = a.cfg.Engine.VinaPath
	vina.Timeout = a.cfg.Engine.Timeout

	d := docking.NewDocker(a.preparer(tk), tk, vina)
	d.Logger = a.log
	if a.store != nil {
		d.Recorders = append(d.Recorders, a.store)
	}
	if a.metrics != nil {
		d.Recorders = append(d.Recorders, a.metrics)
	}
	return d
}

// targetOptions returns the Resolve options for a single request.
func (a *app) targetOptions() []target.Option {
	if a.cfg.WorkDir == "" {
		return nil
	}
	return []target.Option{target.WithWorkDir(a.cfg.WorkDir)}
}

func (a *app) colorOutput() bool {
	return logger.IsColorTerminal(a.stdout)
}

// close flushes metrics and releases the history store and the run log.
func (a *app) close() error {
	var firstErr error
	if a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.metricsFile); err != nil {
			a.console.LogError(err.Error())
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close history: %w", err)
		}
	}
	if a.file != nil {
		if err := a.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close run log: %w", err)
		}
	}
	return firstErr
}
