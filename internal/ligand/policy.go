package ligand

import (
	"fmt"
	"strings"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/models"
)

// Policy bounds the molecules the pipeline accepts.
type Policy struct {
	AllowedElements []string
	MinNetCharge    int
	MaxNetCharge    int
	// MaxAtomCharge bounds the absolute formal charge of any single atom.
	MaxAtomCharge int
	MaxHeavyAtoms int
}

// DefaultPolicy accepts drug-like organic molecules: common organic
// elements, net charge in [-2, 2], at most one charge per atom.
func DefaultPolicy() Policy {
	return Policy{
		AllowedElements: []string{"H", "C", "N", "O", "F", "P", "S", "Cl", "Br", "I"},
		MinNetCharge:    -2,
		MaxNetCharge:    2,
		MaxAtomCharge:   1,
		MaxHeavyAtoms:   128,
	}
}

// Validate checks the policy itself.
func (p Policy) Validate() error {
	if p.MinNetCharge > p.MaxNetCharge {
		return fmt.Errorf("min net charge %d exceeds max %d", p.MinNetCharge, p.MaxNetCharge)
	}
	if p.MaxAtomCharge < 0 {
		return fmt.Errorf("max atom charge must be >= 0, got %d", p.MaxAtomCharge)
	}
	if p.MaxHeavyAtoms <= 0 {
		return fmt.Errorf("max heavy atoms must be > 0, got %d", p.MaxHeavyAtoms)
	}
	if len(p.AllowedElements) == 0 {
		return fmt.Errorf("no allowed elements")
	}
	return nil
}

// Check returns a KindUnsupportedMolecule error describing every way m
// falls outside the policy, or nil.
func (p Policy) Check(m *chem.Molecule) error {
	var problems []string

	heavy := m.HeavyAtomCount()
	if heavy == 0 {
		problems = append(problems, "no heavy atoms")
	}
	if heavy > p.MaxHeavyAtoms {
		problems = append(problems, fmt.Sprintf("%d heavy atoms (max %d)", heavy, p.MaxHeavyAtoms))
	}

	allowed := make(map[string]bool, len(p.AllowedElements))
	for _, el := range p.AllowedElements {
		allowed[el] = true
	}
	reported := make(map[string]bool)
	for i, a := range m.Atoms {
		el := a.Element
		if a.IsHydrogen() {
			el = "H"
		}
		if !allowed[el] && !reported[el] {
			reported[el] = true
			problems = append(problems, fmt.Sprintf("element %s is not supported", el))
		}
		if a.Radical > 0 {
			problems = append(problems, fmt.Sprintf("atom %d (%s) is a radical", i+1, a.Element))
		}
		if a.Charge > p.MaxAtomCharge || a.Charge < -p.MaxAtomCharge {
			problems = append(problems, fmt.Sprintf("atom %d (%s) has formal charge %+d", i+1, a.Element, a.Charge))
		}
	}

	if frags := m.Fragments(); len(frags) > 1 {
		problems = append(problems, fmt.Sprintf("%d disconnected fragments", len(frags)))
	}
	if q := m.NetCharge(); q < p.MinNetCharge || q > p.MaxNetCharge {
		problems = append(problems, fmt.Sprintf("net charge %+d outside [%d, %d]", q, p.MinNetCharge, p.MaxNetCharge))
	}

	if len(problems) > 0 {
		return models.Errorf(models.KindUnsupportedMolecule, "%s", strings.Join(problems, "; "))
	}
	return nil
}
