// Package chem provides the small molecule graph the docking pipeline needs
// to validate what crosses each toolkit and engine boundary.
//
// It is not a cheminformatics toolkit: SMILES parsing, protonation, embedding
// and force-field work are delegated to external tools. chem only reads and
// writes the files those tools exchange (MOL/SDF, PDBQT) and implements the
// graph checks the pipeline gates on: valence sanity, formulas, fragments,
// distance-based bond perception, graph matching and tetrahedral parity.
package chem

import (
	"fmt"
	"math"
	"sort"
)

// Vec3 is a cartesian coordinate in angstroms.
type Vec3 [3]float64

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Scale returns v * f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v[0] * f, v[1] * f, v[2] * f}
}

// Dot returns the scalar product.
func (v Vec3) Dot(o Vec3) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

// Cross returns the vector product v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

// Norm returns the euclidean length.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Dist returns the distance between two points.
func (v Vec3) Dist(o Vec3) float64 {
	return v.Sub(o).Norm()
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vec3) IsFinite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Bond orders. Aromatic bonds only appear when a file declares them; the
// toolkit writes kekulized structures.
const (
	BondSingle   = 1
	BondDouble   = 2
	BondTriple   = 3
	BondAromatic = 4
)

// Parity values follow the MDL atom block convention.
const (
	ParityNone      = 0
	ParityOdd       = 1
	ParityEven      = 2
	ParityUndefined = 3
)

// Atom is a node of the molecule graph.
type Atom struct {
	Element   string
	Charge    int
	Radical   int // unpaired electrons
	Parity    int // MDL stereo parity
	ImplicitH int
	// Valence is the total valence declared by a MOL file (vvv field).
	// 0 means "use the default valence model", -1 means zero valence.
	Valence int
	// Name is the PDB/PDBQT atom name when the atom was read from one.
	Name string
}

// IsHydrogen reports whether the atom is a hydrogen of any isotope.
func (a Atom) IsHydrogen() bool {
	return a.Element == "H" || a.Element == "D" || a.Element == "T"
}

// Bond is an edge of the molecule graph. A and B are atom indices.
type Bond struct {
	A, B  int
	Order int
}

// Other returns the endpoint of b that is not i.
func (b Bond) Other(i int) int {
	if b.A == i {
		return b.B
	}
	return b.A
}

// Conformer holds one coordinate per atom.
type Conformer []Vec3

// Molecule is an atom/bond graph with zero or more conformers.
// Pipeline stages never modify a molecule in place; they return a new one.
type Molecule struct {
	Name       string
	Atoms      []Atom
	Bonds      []Bond
	Conformers []Conformer
}

// AddAtom appends an atom and returns its index.
func (m *Molecule) AddAtom(a Atom) int {
	m.Atoms = append(m.Atoms, a)
	return len(m.Atoms) - 1
}

// AddBond appends a bond between atoms a and b.
func (m *Molecule) AddBond(a, b, order int) error {
	if a == b {
		return fmt.Errorf("bond from atom %d to itself", a+1)
	}
	if a < 0 || b < 0 || a >= len(m.Atoms) || b >= len(m.Atoms) {
		return fmt.Errorf("bond %d-%d references a missing atom (have %d atoms)", a+1, b+1, len(m.Atoms))
	}
	if m.BondBetween(a, b) >= 0 {
		return fmt.Errorf("duplicate bond %d-%d", a+1, b+1)
	}
	if order < BondSingle || order > BondAromatic {
		return fmt.Errorf("bond %d-%d has unsupported order %d", a+1, b+1, order)
	}
	m.Bonds = append(m.Bonds, Bond{A: a, B: b, Order: order})
	return nil
}

// AddConformer appends a conformer after checking its size.
func (m *Molecule) AddConformer(c Conformer) error {
	if len(c) != len(m.Atoms) {
		return fmt.Errorf("conformer has %d coordinates for %d atoms", len(c), len(m.Atoms))
	}
	m.Conformers = append(m.Conformers, c)
	return nil
}

// NumAtoms returns the total atom count, explicit hydrogens included.
func (m *Molecule) NumAtoms() int {
	return len(m.Atoms)
}

// NumConformers returns the number of 3D conformers.
func (m *Molecule) NumConformers() int {
	return len(m.Conformers)
}

// HeavyAtomCount returns the number of non-hydrogen atoms.
func (m *Molecule) HeavyAtomCount() int {
	n := 0
	for _, a := range m.Atoms {
		if !a.IsHydrogen() {
			n++
		}
	}
	return n
}

// HydrogenCount returns explicit plus implicit hydrogens.
func (m *Molecule) HydrogenCount() int {
	n := 0
	for _, a := range m.Atoms {
		if a.IsHydrogen() {
			n++
		}
		n += a.ImplicitH
	}
	return n
}

// BondBetween returns the index of the bond joining a and b, or -1.
func (m *Molecule) BondBetween(a, b int) int {
	for i, bd := range m.Bonds {
		if (bd.A == a && bd.B == b) || (bd.A == b && bd.B == a) {
			return i
		}
	}
	return -1
}

// Neighbors returns, for every atom, the sorted indices of bonded atoms.
func (m *Molecule) Neighbors() [][]int {
	adj := make([][]int, len(m.Atoms))
	for _, b := range m.Bonds {
		adj[b.A] = append(adj[b.A], b.B)
		adj[b.B] = append(adj[b.B], b.A)
	}
	for _, n := range adj {
		sort.Ints(n)
	}
	return adj
}

// Clone returns a deep copy.
func (m *Molecule) Clone() *Molecule {
	out := &Molecule{
		Name:  m.Name,
		Atoms: append([]Atom(nil), m.Atoms...),
		Bonds: append([]Bond(nil), m.Bonds...),
	}
	for _, c := range m.Conformers {
		out.Conformers = append(out.Conformers, append(Conformer(nil), c...))
	}
	return out
}

// WithoutConformers returns a copy that keeps the graph only.
func (m *Molecule) WithoutConformers() *Molecule {
	out := m.Clone()
	out.Conformers = nil
	return out
}

// Reorder returns a copy whose atom i is m's atom perm[i]. Bonds and
// conformers are remapped accordingly.
func (m *Molecule) Reorder(perm []int) (*Molecule, error) {
	if len(perm) != len(m.Atoms) {
		return nil, fmt.Errorf("permutation has %d entries for %d atoms", len(perm), len(m.Atoms))
	}
	inverse := make([]int, len(perm))
	for i := range inverse {
		inverse[i] = -1
	}
	for newIdx, oldIdx := range perm {
		if oldIdx < 0 || oldIdx >= len(perm) || inverse[oldIdx] != -1 {
			return nil, fmt.Errorf("invalid permutation entry %d", oldIdx)
		}
		inverse[oldIdx] = newIdx
	}

	out := &Molecule{Name: m.Name, Atoms: make([]Atom, len(m.Atoms))}
	for newIdx, oldIdx := range perm {
		out.Atoms[newIdx] = m.Atoms[oldIdx]
	}
	for _, b := range m.Bonds {
		out.Bonds = append(out.Bonds, Bond{A: inverse[b.A], B: inverse[b.B], Order: b.Order})
	}
	for _, c := range m.Conformers {
		nc := make(Conformer, len(c))
		for newIdx, oldIdx := range perm {
			nc[newIdx] = c[oldIdx]
		}
		out.Conformers = append(out.Conformers, nc)
	}
	return out, nil
}

// NetCharge returns the sum of formal charges.
func (m *Molecule) NetCharge() int {
	q := 0
	for _, a := range m.Atoms {
		q += a.Charge
	}
	return q
}

// Fragments returns the connected components as sorted atom index lists,
// ordered by their lowest atom index.
func (m *Molecule) Fragments() [][]int {
	adj := m.Neighbors()
	seen := make([]bool, len(m.Atoms))
	var frags [][]int
	for start := range m.Atoms {
		if seen[start] {
			continue
		}
		var frag []int
		queue := []int{start}
		seen[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			frag = append(frag, cur)
			for _, n := range adj[cur] {
				if !seen[n] {
					seen[n] = true
					queue = append(queue, n)
				}
			}
		}
		sort.Ints(frag)
		frags = append(frags, frag)
	}
	return frags
}

// RemoveHydrogens drops explicit hydrogens attached to exactly one heavy
// atom and folds them into that atom's implicit count. Charged, isolated
// and bridging hydrogens are kept. Conformers are trimmed to the remaining
// atoms.
func (m *Molecule) RemoveHydrogens() *Molecule {
	adj := m.Neighbors()
	drop := make([]bool, len(m.Atoms))
	out := &Molecule{Name: m.Name}
	implicit := make([]int, len(m.Atoms))

	for i, a := range m.Atoms {
		if !a.IsHydrogen() || a.Charge != 0 || len(adj[i]) != 1 {
			continue
		}
		parent := adj[i][0]
		if m.Atoms[parent].IsHydrogen() {
			continue
		}
		drop[i] = true
		implicit[parent]++
	}

	newIdx := make([]int, len(m.Atoms))
	for i, a := range m.Atoms {
		if drop[i] {
			newIdx[i] = -1
			continue
		}
		a.ImplicitH += implicit[i]
		newIdx[i] = len(out.Atoms)
		out.Atoms = append(out.Atoms, a)
	}
	for _, b := range m.Bonds {
		if drop[b.A] || drop[b.B] {
			continue
		}
		out.Bonds = append(out.Bonds, Bond{A: newIdx[b.A], B: newIdx[b.B], Order: b.Order})
	}
	for _, c := range m.Conformers {
		var nc Conformer
		for i, p := range c {
			if !drop[i] {
				nc = append(nc, p)
			}
		}
		out.Conformers = append(out.Conformers, nc)
	}
	return out
}

// HeavyAtomGraph returns a copy with every hydrogen removed, explicit or
// not, and all implicit counts cleared. Used where only heavy-atom
// connectivity matters.
func (m *Molecule) HeavyAtomGraph() *Molecule {
	out := m.RemoveHydrogens()
	keep := make([]int, 0, len(out.Atoms))
	for i, a := range out.Atoms {
		if !a.IsHydrogen() {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(out.Atoms) {
		for i := range out.Atoms {
			out.Atoms[i].ImplicitH = 0
		}
		return out
	}

	sub := &Molecule{Name: out.Name}
	newIdx := make(map[int]int, len(keep))
	for _, i := range keep {
		a := out.Atoms[i]
		a.ImplicitH = 0
		newIdx[i] = len(sub.Atoms)
		sub.Atoms = append(sub.Atoms, a)
	}
	for _, b := range out.Bonds {
		na, okA := newIdx[b.A]
		nb, okB := newIdx[b.B]
		if okA && okB {
			sub.Bonds = append(sub.Bonds, Bond{A: na, B: nb, Order: b.Order})
		}
	}
	for _, c := range out.Conformers {
		nc := make(Conformer, 0, len(keep))
		for _, i := range keep {
			nc = append(nc, c[i])
		}
		sub.Conformers = append(sub.Conformers, nc)
	}
	return sub
}

// SameConnectivity reports whether two molecules have the same atoms in the
// same order joined by the same bonds, ignoring bond orders.
func SameConnectivity(a, b *Molecule) bool {
	if len(a.Atoms) != len(b.Atoms) || len(a.Bonds) != len(b.Bonds) {
		return false
	}
	for i := range a.Atoms {
		if a.Atoms[i].Element != b.Atoms[i].Element {
			return false
		}
	}
	for _, bd := range a.Bonds {
		if b.BondBetween(bd.A, bd.B) < 0 {
			return false
		}
	}
	return true
}
