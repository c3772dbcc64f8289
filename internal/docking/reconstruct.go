package docking

import (
	"bytes"
	"errors"
	"math"
	"os"
	"sort"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/models"
)

// BondOrderAssigner restores the chemistry of a docked, coordinate-only
// structure using the prepared reference ligand.
type BondOrderAssigner interface {
	// AssignBondOrders returns docked with the reference's bonds, charges and
	// hydrogen counts, atoms in reference heavy-atom order.
	AssignBondOrders(docked, reference *chem.Molecule) (*chem.Molecule, error)
}

// DefaultMaxMappings bounds how many symmetry-equivalent mappings of the
// first pose onto the reference are scored.
const DefaultMaxMappings = 512

// lengthSlack is how far, as RMS bond-length deviation in angstroms, a
// mapping may trail the best one and still be taken as agreeing with the
// reference bond orders.
const lengthSlack = 0.05

// Bond-length shortening relative to a single bond, by order, used when
// the reference carries no coordinates.
var orderShortening = map[int]float64{
	chem.BondSingle:   0,
	chem.BondDouble:   0.19,
	chem.BondTriple:   0.33,
	chem.BondAromatic: 0.13,
}

// TemplateAssigner perceives connectivity from the first pose and maps it
// onto the reference graph. Element and degree alone can leave several
// mappings open (vinyl and ethyl look alike without bond orders), so every
// mapping is scored by how well the pose's bond lengths fit the reference
// bond orders, and among the best fitting ones the first whose stereo
// agrees with the reference wins.
type TemplateAssigner struct {
	// MaxSteps bounds the graph search; 0 uses chem.DefaultMatchSteps.
	MaxSteps int
	// MaxMappings bounds the mappings scored; 0 uses DefaultMaxMappings.
	MaxMappings int
}

// AssignBondOrders implements BondOrderAssigner.
func (a TemplateAssigner) AssignBondOrders(docked, reference *chem.Molecule) (*chem.Molecule, error) {
	template := reference.HeavyAtomGraph()
	if docked.NumAtoms() != template.NumAtoms() {
		return nil, models.Errorf(models.KindBondOrderAssignment,
			"docked ligand has %d heavy atoms, reference has %d", docked.NumAtoms(), template.NumAtoms())
	}
	if docked.NumConformers() == 0 {
		return nil, models.Errorf(models.KindBondOrderAssignment, "docked ligand has no poses")
	}
	perceived, err := chem.PerceiveBonds(docked, 0)
	if err != nil {
		return nil, models.NewDockError(models.KindBondOrderAssignment, "cannot perceive bonds of the first pose", err)
	}
	if len(perceived.Bonds) != len(template.Bonds) {
		return nil, models.Errorf(models.KindBondOrderAssignment,
			"first pose has %d bonds, reference has %d", len(perceived.Bonds), len(template.Bonds))
	}

	limit := a.MaxMappings
	if limit <= 0 {
		limit = DefaultMaxMappings
	}
	mappings := chem.MatchAll(template, perceived, chem.MatchOptions{MaxSteps: a.MaxSteps}, limit)
	if len(mappings) == 0 {
		return nil, models.Errorf(models.KindBondOrderAssignment,
			"docked connectivity does not map onto %s", reference.HeavyFormula())
	}

	var fallback *chem.Molecule
	for _, mapping := range bestFitting(template, perceived, mappings) {
		out, err := applyTemplate(reference, template, perceived, mapping)
		if err != nil {
			return nil, err
		}
		if sameStereo(template, out) {
			return out, nil
		}
		if fallback == nil {
			fallback = out
		}
	}
	// no fitting mapping keeps the stereo; Verify reports the inversion
	return fallback, nil
}

// applyTemplate reorders perceived by mapping and copies the reference
// atoms and bonds onto it, then assigns stereo from the first pose.
func applyTemplate(reference, template, perceived *chem.Molecule, mapping []int) (*chem.Molecule, error) {
	var heavy []int
	for i, atom := range reference.Atoms {
		if !atom.IsHydrogen() {
			heavy = append(heavy, i)
		}
	}
	out, err := perceived.Reorder(mapping)
	if err != nil {
		return nil, models.NewDockError(models.KindBondOrderAssignment, "cannot reorder docked atoms", err)
	}
	for i := range out.Atoms {
		atom := reference.Atoms[heavy[i]]
		atom.Parity = chem.ParityNone
		atom.Name = out.Atoms[i].Name
		out.Atoms[i] = atom
	}
	out.Bonds = append([]chem.Bond(nil), template.Bonds...)
	out.Name = reference.Name

	out, err = chem.AssignStereo(out, 0)
	if err != nil {
		return nil, models.NewDockError(models.KindBondOrderAssignment, "cannot assign stereo from the first pose", err)
	}
	return out, nil
}

// bestFitting orders mappings by the RMS deviation between the pose's
// bond lengths and the lengths the reference implies, and keeps those
// within lengthSlack of the best.
func bestFitting(template, perceived *chem.Molecule, mappings [][]int) [][]int {
	if len(template.Bonds) == 0 {
		return mappings[:1]
	}
	want := make([]float64, len(template.Bonds))
	for i, b := range template.Bonds {
		want[i] = expectedLength(template, b)
	}

	coords := perceived.Conformers[0]
	rms := make([]float64, len(mappings))
	for k, mapping := range mappings {
		var sum float64
		for i, b := range template.Bonds {
			d := coords[mapping[b.A]].Dist(coords[mapping[b.B]]) - want[i]
			sum += d * d
		}
		rms[k] = math.Sqrt(sum / float64(len(template.Bonds)))
	}

	order := make([]int, len(mappings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return rms[order[i]] < rms[order[j]] })

	var out [][]int
	for _, k := range order {
		if rms[k] > rms[order[0]]+lengthSlack {
			break
		}
		out = append(out, mappings[k])
	}
	return out
}

// expectedLength is the reference's own length for b when it has
// coordinates, otherwise the sum of covalent radii shortened by bond order.
func expectedLength(template *chem.Molecule, b chem.Bond) float64 {
	if len(template.Conformers) > 0 {
		c := template.Conformers[0]
		return c[b.A].Dist(c[b.B])
	}
	ra, _ := chem.CovalentRadius(template.Atoms[b.A].Element)
	rb, _ := chem.CovalentRadius(template.Atoms[b.B].Element)
	return ra + rb - orderShortening[b.Order]
}

// sameStereo reports whether every defined reference parity is reproduced
// by out, whose atoms follow reference heavy-atom order.
func sameStereo(template, out *chem.Molecule) bool {
	for i, ref := range template.Atoms {
		if ref.Parity != chem.ParityOdd && ref.Parity != chem.ParityEven {
			continue
		}
		if out.Atoms[i].Parity != ref.Parity {
			return false
		}
	}
	return true
}

// Reconstruct rebuilds the docked ligand from a Vina output file with the
// default TemplateAssigner.
func Reconstruct(outputPath string, reference *chem.Molecule) (*chem.Molecule, error) {
	return ReconstructWith(TemplateAssigner{}, outputPath, reference)
}

// ReconstructWith rebuilds the docked ligand from a Vina output file:
// one conformer per MODEL, hydrogens removed, atoms in reference order.
func ReconstructWith(assigner BondOrderAssigner, outputPath string, reference *chem.Molecule) (*chem.Molecule, error) {
	data, err := os.ReadFile(outputPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.Errorf(models.KindEngineOutput, "docking produced no output file")
	}
	if err != nil {
		return nil, models.NewDockError(models.KindEngineOutput, "cannot read docking output", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, models.Errorf(models.KindEngineOutput, "docking output is empty")
	}

	parsed, err := chem.ReadPDBQT(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewDockError(models.KindEngineOutput, "malformed docking output", err)
	}
	return assigner.AssignBondOrders(stripHydrogens(parsed.Molecule), reference)
}

// stripHydrogens drops hydrogen atoms from a bond-less structure.
func stripHydrogens(m *chem.Molecule) *chem.Molecule {
	out := &chem.Molecule{Name: m.Name}
	var keep []int
	for i, a := range m.Atoms {
		if !a.IsHydrogen() {
			keep = append(keep, i)
			out.Atoms = append(out.Atoms, a)
		}
	}
	for _, c := range m.Conformers {
		nc := make(chem.Conformer, 0, len(keep))
		for _, i := range keep {
			nc = append(nc, c[i])
		}
		out.Conformers = append(out.Conformers, nc)
	}
	return out
}
