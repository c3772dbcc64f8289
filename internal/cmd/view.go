package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/dockpipe/internal/viewer"
)

// NewViewCommand creates the view command
func NewViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <target> [ligand-file...]",
		Short: "Open a target in PyMOL",
		Long: `Open a target's structure in PyMOL together with its docking search box
and any ligand files given, for example poses written by "dock --out".

Examples:
  dockpipe view ABL1
  dockpipe view ABL1 poses.sdf
  dockpipe view ABL1 --no-box`,
		Args: cobra.MinimumNArgs(1),
		RunE: runView,
	}

	cmd.Flags().Bool("no-box", false, "Do not draw the search box")

	return cmd
}

func runView(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	t, err := a.registry.Resolve(args[0])
	if err != nil {
		return err
	}
	defer t.Close()

	ligands := args[1:]
	for _, path := range ligands {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("ligand file not found: %s", path)
		}
	}

	noBox, _ := cmd.Flags().GetBool("no-box")
	v := viewer.New(a.cfg.Viewer.PymolPath)
	v.Stdout, v.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
	return v.Launch(cmd.Context(), t, viewer.Options{SearchBox: !noBox, Ligands: ligands})
}
