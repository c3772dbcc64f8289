package docking

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/models"
)

// methylpentene returns the heavy atoms of one enantiomer of
// 3-methylpent-1-ene (C=CC(C)CC) in the order C1 C2 C3 C4 C5 C6, with
// parity assigned from its own geometry. C3 carries a vinyl and an ethyl
// group that look alike when bond orders are ignored.
func methylpentene(t *testing.T) *chem.Molecule {
	t.Helper()
	s := 1 / math.Sqrt(3)
	d := [4]chem.Vec3{{s, s, s}, {s, -s, -s}, {-s, s, -s}, {-s, -s, s}}

	m := &chem.Molecule{Name: "C=CC(C)CC"}
	for _, h := range []int{2, 1, 1, 2, 3, 3} {
		m.AddAtom(chem.Atom{Element: "C", ImplicitH: h})
	}
	for _, b := range [][3]int{{0, 1, 2}, {1, 2, 1}, {2, 3, 1}, {3, 4, 1}, {2, 5, 1}} {
		require.NoError(t, m.AddBond(b[0], b[1], b[2]))
	}
	require.NoError(t, m.AddConformer(chem.Conformer{
		d[0].Scale(1.50 + 1.34), d[0].Scale(1.50), {0, 0, 0},
		d[1].Scale(1.53), d[1].Scale(1.53 * 2), d[2].Scale(1.53),
	}))

	ref, err := chem.AssignStereo(m, 0)
	require.NoError(t, err)
	require.Contains(t, []int{chem.ParityOdd, chem.ParityEven}, ref.Atoms[2].Parity)
	return ref
}

// writeVinaOutput writes conformer 0 of m as a one-model Vina output with
// the atoms listed in order.
func writeVinaOutput(t *testing.T, m *chem.Molecule, order []int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("MODEL 1\nREMARK VINA RESULT:    -5.0      0.000      0.000\nROOT\n")
	for serial, i := range order {
		p := m.Conformers[0][i]
		fmt.Fprintf(&sb, "ATOM  %5d %-4s %3s %1s%4d    %8.3f%8.3f%8.3f%6.2f%6.2f    %6.3f %-2s\n",
			serial+1, "C", "UNL", "", 1, p[0], p[1], p[2], 0.0, 0.0, 0.0, "C")
	}
	sb.WriteString("ENDROOT\nTORSDOF 2\nENDMDL\n")

	path := filepath.Join(t.TempDir(), "vina.out")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
	return path
}

func TestReconstructReorderedAtomsKeepStereo(t *testing.T) {
	ref := methylpentene(t)

	orders := [][]int{
		{0, 1, 2, 3, 4, 5},
		{1, 4, 5, 2, 3, 0},
		{4, 3, 2, 1, 0, 5},
		{5, 0, 3, 1, 2, 4},
	}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			ligand, err := Reconstruct(writeVinaOutput(t, ref, order), ref)
			require.NoError(t, err)
			require.NoError(t, Verify(ref, ligand))

			assert.Equal(t, chem.BondDouble, ligand.Bonds[ligand.BondBetween(0, 1)].Order)
			assert.Equal(t, ref.Atoms[2].Parity, ligand.Atoms[2].Parity)
			for i := range ref.Atoms {
				assert.InDelta(t, 0, ligand.Conformers[0][i].Dist(ref.Conformers[0][i]), 0.002, "atom %d", i+1)
			}
		})
	}
}

func TestReconstructMirrorImageIsMismatch(t *testing.T) {
	ref := methylpentene(t)
	mirror := ref.Clone()
	for i := range mirror.Conformers[0] {
		mirror.Conformers[0][i][0] = -mirror.Conformers[0][i][0]
	}

	// swapping vinyl and ethyl would restore the parity, but not the bond lengths
	ligand, err := Reconstruct(writeVinaOutput(t, mirror, []int{1, 4, 5, 2, 3, 0}), ref)
	require.NoError(t, err)
	err = Verify(ref, ligand)
	require.Error(t, err)
	assert.Equal(t, models.KindDockedLigandMismatch, models.KindOf(err))
	assert.Contains(t, err.Error(), "stereocentre 3")
}

func TestBestFittingPrefersMatchingBondLengths(t *testing.T) {
	ref := methylpentene(t)
	template := ref.HeavyAtomGraph()
	perceived, err := chem.PerceiveBonds(ref, 0)
	require.NoError(t, err)

	mappings := chem.MatchAll(template, perceived, chem.MatchOptions{}, 0)
	require.Len(t, mappings, 2, "vinyl and ethyl can be swapped")

	best := bestFitting(template, perceived, mappings)
	require.Len(t, best, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, best[0])
}

func TestExpectedLengthWithoutCoordinates(t *testing.T) {
	m := &chem.Molecule{}
	m.AddAtom(chem.Atom{Element: "C"})
	m.AddAtom(chem.Atom{Element: "O"})
	require.NoError(t, m.AddBond(0, 1, chem.BondDouble))

	assert.InDelta(t, 1.23, expectedLength(m, m.Bonds[0]), 0.01)
}
