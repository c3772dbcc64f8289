package chem

import (
	"fmt"
)

// Distance criteria for bond perception, the same ones Open Babel uses:
// two atoms are bonded when closer than the sum of their covalent radii
// plus BondTolerance, and anything under TooClose is a broken structure.
const (
	BondTolerance = 0.45
	TooClose      = 0.40
)

// PerceiveBonds infers connectivity from the geometry of conformer conf and
// returns a copy whose bonds are the perceived ones, all single.
func PerceiveBonds(m *Molecule, conf int) (*Molecule, error) {
	if conf < 0 || conf >= len(m.Conformers) {
		return nil, fmt.Errorf("conformer %d out of range (%d conformers)", conf, len(m.Conformers))
	}
	coords := m.Conformers[conf]

	radii := make([]float64, len(m.Atoms))
	for i, a := range m.Atoms {
		r, ok := CovalentRadius(a.Element)
		if !ok {
			return nil, fmt.Errorf("no covalent radius for element %s (atom %d)", a.Element, i+1)
		}
		radii[i] = r
	}

	out := m.Clone()
	out.Bonds = nil
	for i := 0; i < len(m.Atoms); i++ {
		for j := i + 1; j < len(m.Atoms); j++ {
			d := coords[i].Dist(coords[j])
			if d < TooClose {
				return nil, fmt.Errorf("atoms %d and %d are %.3f A apart", i+1, j+1, d)
			}
			if d <= radii[i]+radii[j]+BondTolerance {
				out.Bonds = append(out.Bonds, Bond{A: i, B: j, Order: BondSingle})
			}
		}
	}
	return out, nil
}

// MinDistance returns the smallest interatomic distance in c and the pair
// of atoms at that distance. Fewer than two atoms yields -1.
func MinDistance(c Conformer) (float64, int, int) {
	best, bi, bj := -1.0, -1, -1
	for i := 0; i < len(c); i++ {
		for j := i + 1; j < len(c); j++ {
			d := c[i].Dist(c[j])
			if best < 0 || d < best {
				best, bi, bj = d, i, j
			}
		}
	}
	return best, bi, bj
}
