package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harrison/dockpipe/internal/docking"
	"github.com/harrison/dockpipe/internal/logger"
	"github.com/harrison/dockpipe/internal/models"
	"github.com/harrison/dockpipe/internal/viewer"
)

// NewDockCommand creates the dock command
func NewDockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dock <target> <smiles>",
		Short: "Dock a molecule into a target",
		Long: `Dock a molecule, given as a SMILES string, into a prepared target.

The molecule is canonicalized, checked, protonated, embedded in 3D and
refined before it is handed to the docking engine. Every docked pose is
mapped back onto the input molecule and verified; the command either
reports all poses or fails with the stage that went wrong.

Examples:
  dockpipe dock ABL1 'CC(=O)Nc1ccc(O)cc1'
  dockpipe dock ABL1 'CCO' --seed 42 --cpus 4 --out poses.sdf
  dockpipe dock ABL1 'CCO' --json
  dockpipe dock ABL1 'CCO' --workdir ./abl1-run --verbose`,
		Args: cobra.ExactArgs(2),
		RunE: runDock,
	}

	cmd.Flags().Int64("seed", models.DefaultSeed, "Random seed for embedding and docking")
	cmd.Flags().Int("cpus", 0, "CPUs for the docking engine (0 = engine default)")
	cmd.Flags().String("workdir", "", "Keep intermediate files in this directory instead of a temporary one")
	cmd.Flags().String("out", "", "Write the docked poses to this SD file")
	cmd.Flags().Duration("timeout", 0, "Maximum engine run time (e.g. 30m, 2h)")
	cmd.Flags().Bool("verbose", false, "Log every stage and the engine output")
	cmd.Flags().Bool("no-history", false, "Do not record this run in the history database")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().Bool("view", false, "Open the docked poses in PyMOL afterwards")

	return cmd
}

// dockOutput is the JSON form of a successful dock.
type dockOutput struct {
	RunID     string        `json:"run_id"`
	Target    string        `json:"target"`
	Smiles    string        `json:"smiles"`
	Canonical string        `json:"canonical"`
	Seed      int64         `json:"seed"`
	Best      float64       `json:"best_score"`
	Poses     []models.Pose `json:"poses"`
	Formula   string        `json:"formula"`
	Digest    string        `json:"geometry_digest"`
	Duration  float64       `json:"duration_seconds"`

	UnseededEmbedding bool `json:"unseeded_embedding,omitempty"`
}

func runDock(cmd *cobra.Command, args []string) error {
	noHistory, _ := cmd.Flags().GetBool("no-history")
	a, err := newApp(cmd, appOptions{runLog: true, history: !noHistory})
	if err != nil {
		return err
	}
	defer a.close()

	t, err := a.registry.Resolve(args[0], a.targetOptions()...)
	if err != nil {
		if models.IsUnsupportedTarget(err) {
			a.console.LogInfo("run 'dockpipe targets' to list the available targets")
		}
		return err
	}
	defer t.Close()

	verbose, _ := cmd.Flags().GetBool("verbose")
	_, res, err := a.docker().Dock(cmd.Context(), t, args[1], docking.Options{
		Seed:    a.cfg.Seed,
		CPUs:    a.cfg.CPUs,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := res.WritePoses(out); err != nil {
			return fmt.Errorf("write poses: %w", err)
		}
		a.console.LogInfo(fmt.Sprintf("wrote %d poses to %s", len(res.Poses), out))
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := writeDockJSON(a.stdout, res); err != nil {
			return err
		}
	} else {
		writeDockText(a.stdout, res, a.colorOutput())
	}

	if view, _ := cmd.Flags().GetBool("view"); view {
		v := viewer.New(a.cfg.Viewer.PymolPath)
		v.Stdout, v.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
		return v.Launch(cmd.Context(), t, viewer.Options{SearchBox: true, Poses: res.Ligand})
	}
	return nil
}

func writeDockJSON(w io.Writer, res *docking.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dockOutput{
		RunID:     res.RunID,
		Target:    res.Request.Target,
		Smiles:    res.Request.Smiles,
		Canonical: res.Request.Canonical,
		Seed:      res.Request.Seed,
		Best:      res.Best,
		Poses:     res.Poses,
		Formula:   res.Formula,
		Digest:    res.Digest,
		Duration:  res.Duration.Seconds(),

		UnseededEmbedding: res.UnseededEmbedding,
	})
}

func writeDockText(w io.Writer, res *docking.Result, colorOutput bool) {
	fmt.Fprintf(w, "Target:     %s\n", res.Request.Target)
	fmt.Fprintf(w, "Molecule:   %s (%s)\n", res.Request.Canonical, res.Formula)
	fmt.Fprintf(w, "Best score: %.2f kcal/mol\n", res.Best)
	fmt.Fprintf(w, "Run:        %s\n\n", res.RunID)
	fmt.Fprint(w, logger.FormatPoseTable(res.Poses, colorOutput))
	if len(res.Timings) > 0 {
		fmt.Fprintf(w, "\nStages: %s\n", logger.FormatTimings(res.Timings, colorOutput))
	}
}
