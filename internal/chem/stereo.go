package chem

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// planarityTolerance is the normalised signed volume below which a centre
// is considered flat and its parity undefined.
const planarityTolerance = 0.05

var stereoOptions = MatchOptions{CompareOrders: true, CompareCharges: true, CompareHydrogens: true}

// Stereocenters returns the atoms that can carry tetrahedral parity: sp3
// carbon and silicon, or quaternary nitrogen, with four pairwise distinct
// substituents. Implicit hydrogen counts as one substituent, so at most one
// hydrogen is allowed.
func Stereocenters(m *Molecule) []int {
	adj := m.Neighbors()
	inv := Invariants(m, stereoOptions)

	var centers []int
	for i, a := range m.Atoms {
		switch {
		case a.Element == "C" && a.Charge == 0:
		case a.Element == "Si" && a.Charge == 0:
		case a.Element == "N" && a.Charge == 1:
		default:
			continue
		}
		if len(adj[i])+a.ImplicitH != 4 || a.ImplicitH > 1 {
			continue
		}
		if m.ExplicitValence(i)+a.ImplicitH != 4 {
			continue
		}
		seen := make(map[uint64]bool, 4)
		distinct := true
		explicitH := 0
		for _, nb := range adj[i] {
			if m.Atoms[nb].IsHydrogen() {
				explicitH++
			}
			if seen[inv[nb]] {
				distinct = false
				break
			}
			seen[inv[nb]] = true
		}
		if !distinct || explicitH+a.ImplicitH > 1 {
			continue
		}
		centers = append(centers, i)
	}
	return centers
}

// AssignStereo returns a copy of m with the MDL parity of every
// stereocentre computed from conformer conf. Other atoms get ParityNone.
func AssignStereo(m *Molecule, conf int) (*Molecule, error) {
	if conf < 0 || conf >= len(m.Conformers) {
		return nil, fmt.Errorf("conformer %d out of range (%d conformers)", conf, len(m.Conformers))
	}
	out := m.Clone()
	for i := range out.Atoms {
		out.Atoms[i].Parity = ParityNone
	}
	adj := out.Neighbors()
	coords := out.Conformers[conf]
	for _, c := range Stereocenters(out) {
		out.Atoms[c].Parity = parity(coords, c, adj[c])
	}
	return out, nil
}

// parity applies the MDL rule: with the highest numbered neighbour (or the
// implicit hydrogen) pointing away from the viewer, ascending neighbours
// running clockwise give odd parity.
func parity(coords Conformer, center int, neighbors []int) int {
	c := coords[center]
	var a, b, d, far Vec3
	switch len(neighbors) {
	case 4:
		a, b, d = coords[neighbors[0]], coords[neighbors[1]], coords[neighbors[2]]
		far = coords[neighbors[3]].Sub(c)
	case 3:
		a, b, d = coords[neighbors[0]], coords[neighbors[1]], coords[neighbors[2]]
		sum := Vec3{}
		for _, p := range []Vec3{a, b, d} {
			u := p.Sub(c)
			if n := u.Norm(); n > 0 {
				sum = sum.Add(u.Scale(1 / n))
			}
		}
		far = sum.Scale(-1)
	default:
		return ParityUndefined
	}

	normal := b.Sub(a).Cross(d.Sub(a))
	scale := normal.Norm() * far.Norm()
	if scale == 0 {
		return ParityUndefined
	}
	s := normal.Dot(far) / scale
	switch {
	case s > planarityTolerance:
		return ParityOdd
	case s < -planarityTolerance:
		return ParityEven
	default:
		return ParityUndefined
	}
}

// Digest fingerprints the graph and the exact coordinates of conformer conf.
// Two molecules have the same digest only if they are bit-identical.
func Digest(m *Molecule, conf int) (string, error) {
	if conf < 0 || conf >= len(m.Conformers) {
		return "", fmt.Errorf("conformer %d out of range (%d conformers)", conf, len(m.Conformers))
	}
	h := sha256.New()
	var buf [8]byte
	for i, a := range m.Atoms {
		fmt.Fprintf(h, "%s/%d/%d;", a.Element, a.Charge, a.ImplicitH)
		for _, v := range m.Conformers[conf][i] {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	for _, b := range m.Bonds {
		fmt.Fprintf(h, "%d-%d:%d;", b.A, b.B, b.Order)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
