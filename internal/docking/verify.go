package docking

import (
	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/models"
)

// Verify checks that the docked ligand is the molecule that was prepared:
// same heavy-atom formula, same graph with bond orders, every pose
// bonded like the reference and every stereocentre unchanged.
func Verify(reference, ligand *chem.Molecule) error {
	if got, want := ligand.HeavyFormula(), reference.HeavyFormula(); got != want {
		return models.Errorf(models.KindDockedLigandMismatch, "docked formula %s, prepared %s", got, want)
	}

	template := reference.HeavyAtomGraph()
	docked := ligand.HeavyAtomGraph()
	if !chem.Isomorphic(template, docked, chem.MatchOptions{CompareOrders: true}) {
		return models.Errorf(models.KindDockedLigandMismatch, "docked bond graph differs from the prepared ligand")
	}

	for c := range docked.Conformers {
		perceived, err := chem.PerceiveBonds(docked, c)
		if err != nil {
			return models.NewDockError(models.KindDockedLigandMismatch, "pose geometry is broken", err)
		}
		if !chem.SameConnectivity(perceived, docked) {
			return models.Errorf(models.KindDockedLigandMismatch, "pose %d is not bonded like the prepared ligand", c+1)
		}
	}

	// docked atoms follow reference heavy-atom order
	for c := range ligand.Conformers {
		pose, err := chem.AssignStereo(ligand, c)
		if err != nil {
			return models.NewDockError(models.KindDockedLigandMismatch, "cannot assign pose stereo", err)
		}
		for i, ref := range template.Atoms {
			if ref.Parity != chem.ParityOdd && ref.Parity != chem.ParityEven {
				continue
			}
			if got := pose.Atoms[i].Parity; got != ref.Parity {
				return models.Errorf(models.KindDockedLigandMismatch,
					"stereocentre %d (%s) has parity %d in pose %d, prepared %d", i+1, ref.Element, got, c+1, ref.Parity)
			}
		}
	}
	return nil
}
