package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for dockpipe
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dockpipe",
		Short: "Molecular docking pipeline for small molecules",
		Long: `dockpipe docks small molecules, given as SMILES strings, into prepared
protein targets using AutoDock Vina.

Each request is prepared into a 3D structure with Open Babel, docked, and
the resulting poses are mapped back onto the input molecule and verified
before their scores are reported.

Configuration is loaded from .dockpipe/config.yaml if present.
CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .dockpipe/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("log-dir", "", "Directory for run logs")
	cmd.PersistentFlags().String("targets-dir", "", "Directory holding target artifacts (default: $DOCKPIPE_TARGETS_DIR or ~/.dockpipe/targets)")
	cmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics to this textfile after the command")

	cmd.AddCommand(NewDockCommand())
	cmd.AddCommand(NewPrepareCommand())
	cmd.AddCommand(NewTargetsCommand())
	cmd.AddCommand(NewViewCommand())
	cmd.AddCommand(NewBatchCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
