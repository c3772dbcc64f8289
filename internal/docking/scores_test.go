package docking

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/models"
)

func TestExtractScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vina.out")
	content := "MODEL 1\nREMARK VINA RESULT:      -7.3      0.000      0.000\nREMARK INTER + INTRA: -9.1\nENDMDL\n" +
		"MODEL 2\nREMARK VINA RESULT:      -6.8      1.702      2.305\nENDMDL\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scores, err := ExtractScores(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{-7.3, -6.8}, scores)
}

func TestExtractScoresErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no results", "MODEL 1\nENDMDL\n"},
		{"bad number", "REMARK VINA RESULT:  strong  0 0\n"},
		{"no value", "REMARK VINA RESULT:\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScores([]byte(tt.content))
			require.Error(t, err)
			assert.Equal(t, models.KindEngineOutput, models.KindOf(err))
		})
	}

	_, err := ExtractScores(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, models.KindEngineOutput, models.KindOf(err))
}

func TestRankingWarning(t *testing.T) {
	assert.Empty(t, rankingWarning([]float64{-7.3, -7.3, -6.1}))
	assert.Empty(t, rankingWarning([]float64{-1}))
	assert.Contains(t, rankingWarning([]float64{-7.3, -8.0}), "pose 2 scores -8.000")
}

// propanol returns the heavy atoms of CCCO with one conformer.
func propanol(t *testing.T) *chem.Molecule {
	m := &chem.Molecule{}
	for _, el := range []string{"C", "C", "C", "O"} {
		m.AddAtom(chem.Atom{Element: el})
	}
	require.NoError(t, m.AddBond(0, 1, chem.BondSingle))
	require.NoError(t, m.AddBond(1, 2, chem.BondSingle))
	require.NoError(t, m.AddBond(2, 3, chem.BondSingle))
	require.NoError(t, m.AddConformer(chem.Conformer{{0, 0, 0}, {1.52, 0, 0}, {2.0, 1.45, 0}, {3.43, 1.45, 0}}))
	sanitized, err := chem.Sanitize(m)
	require.NoError(t, err)
	return sanitized
}

func TestTemplateAssignerReordersToReference(t *testing.T) {
	ref := propanol(t)

	// docked atoms arrive in a different order: O, C3, C1, C2
	perm := []int{3, 2, 0, 1}
	shuffled, err := ref.Reorder(perm)
	require.NoError(t, err)
	docked := shuffled.Clone()
	docked.Bonds = nil
	for i := range docked.Atoms {
		docked.Atoms[i].ImplicitH = 0
	}

	out, err := TemplateAssigner{}.AssignBondOrders(docked, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "C", "C", "O"}, []string{out.Atoms[0].Element, out.Atoms[1].Element, out.Atoms[2].Element, out.Atoms[3].Element})
	assert.Equal(t, ref.Conformers[0], out.Conformers[0])
	assert.Equal(t, 3, out.Atoms[0].ImplicitH)
	assert.NoError(t, Verify(ref, out))
}

func TestTemplateAssignerRejectsBrokenPose(t *testing.T) {
	ref := propanol(t)
	docked := ref.WithoutConformers()
	docked.Bonds = nil
	// oxygen pulled away from its carbon
	require.NoError(t, docked.AddConformer(chem.Conformer{{0, 0, 0}, {1.52, 0, 0}, {2.0, 1.45, 0}, {6.0, 1.45, 0}}))

	_, err := TemplateAssigner{}.AssignBondOrders(docked, ref)
	require.Error(t, err)
	assert.Equal(t, models.KindBondOrderAssignment, models.KindOf(err))
}

func TestVerifyCatchesLaterPoses(t *testing.T) {
	ref := propanol(t)
	lig := ref.Clone()
	require.NoError(t, lig.AddConformer(chem.Conformer{{0, 0, 0}, {1.52, 0, 0}, {2.0, 1.45, 0}, {6.0, 1.45, 0}}))

	err := Verify(ref, lig)
	require.Error(t, err)
	assert.Equal(t, models.KindDockedLigandMismatch, models.KindOf(err))
	assert.Contains(t, err.Error(), "pose 2")
}

func TestVerifyCatchesBondOrderChange(t *testing.T) {
	ref := propanol(t)
	lig := ref.Clone()
	lig.Bonds[2].Order = chem.BondDouble

	err := Verify(ref, lig)
	require.Error(t, err)
	assert.Equal(t, models.KindDockedLigandMismatch, models.KindOf(err))
}

func TestReconstructMissingOutput(t *testing.T) {
	_, err := Reconstruct(filepath.Join(t.TempDir(), "vina.out"), propanol(t))
	require.Error(t, err)
	assert.Equal(t, models.KindEngineOutput, models.KindOf(err))
}
