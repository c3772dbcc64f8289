package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/filelock"
	"github.com/harrison/dockpipe/internal/logger"
	"github.com/harrison/dockpipe/internal/models"
)

// NewPrepareCommand creates the prepare command
func NewPrepareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare <smiles>",
		Short: "Prepare a molecule for docking without docking it",
		Long: `Run the ligand preparation pipeline on a SMILES string and report the
result: canonical SMILES, formula, geometry digest and stage timings.

With --out the prepared 3D structure, hydrogens included, is written as a
MOL file. The same SMILES and seed always give the same structure.`,
		Args: cobra.ExactArgs(1),
		RunE: runPrepare,
	}

	cmd.Flags().Int64("seed", models.DefaultSeed, "Random seed for embedding")
	cmd.Flags().String("out", "", "Write the prepared structure to this MOL file")

	return cmd
}

func runPrepare(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	p := a.preparer(newToolkit(a.cfg))
	p.Hook = func(stage models.Stage, elapsed time.Duration, err error) {
		if err == nil {
			a.console.LogDebug(fmt.Sprintf("%s done (%s)", stage, elapsed.Round(time.Millisecond)))
		}
	}

	prep, err := p.Prepare(cmd.Context(), args[0], a.cfg.Seed)
	if err != nil {
		return err
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		data, err := chem.MarshalMol(prep.Molecule, 0)
		if err != nil {
			return fmt.Errorf("write prepared ligand: %w", err)
		}
		if err := filelock.LockAndWrite(out, data); err != nil {
			return fmt.Errorf("write prepared ligand: %w", err)
		}
	}

	color := a.colorOutput()
	w := a.stdout
	fmt.Fprintf(w, "Canonical SMILES: %s\n", prep.Canonical)
	fmt.Fprintf(w, "Formula:          %s\n", prep.Molecule.Formula())
	fmt.Fprintf(w, "Atoms:            %d (%d heavy)\n", prep.Molecule.NumAtoms(), prep.Molecule.HeavyAtomCount())
	fmt.Fprintf(w, "Net charge:       %d\n", prep.Molecule.NetCharge())
	fmt.Fprintf(w, "Geometry digest:  %s\n", prep.Digest)
	fmt.Fprintf(w, "Stages:           %s\n", logger.FormatTimings(prep.Timings, color))
	return nil
}
