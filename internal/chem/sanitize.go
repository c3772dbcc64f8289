package chem

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ValenceError reports atoms whose bonding is impossible under the valence model.
type ValenceError struct {
	Problems []string
}

// Error implements the error interface for ValenceError.
func (e *ValenceError) Error() string {
	return "valence check failed: " + strings.Join(e.Problems, "; ")
}

// ExplicitValence returns the bond order sum at atom i. Aromatic bonds count
// 1.5 and the sum is rounded down, so a carbon with two aromatic bonds has
// explicit valence 3.
func (m *Molecule) ExplicitValence(i int) int {
	sum := 0.0
	for _, b := range m.Bonds {
		if b.A != i && b.B != i {
			continue
		}
		if b.Order == BondAromatic {
			sum += 1.5
		} else {
			sum += float64(b.Order)
		}
	}
	return int(math.Floor(sum + 1e-9))
}

// Sanitize checks every atom against the valence model and returns a copy
// with implicit hydrogen counts assigned.
//
// Atoms with a declared valence (MOL vvv field) keep it; other atoms get
// the smallest allowed valence that accommodates their explicit bonds and
// radicals. Atoms with aromatic bonds keep their stated hydrogen count,
// since aromatic valence depends on ring context the file does not encode.
// Elements without a valence model are accepted as-is with no implicit
// hydrogens; the structural policy decides whether they are allowed.
func Sanitize(m *Molecule) (*Molecule, error) {
	out := m.Clone()
	var problems []string

	for i := range out.Atoms {
		a := &out.Atoms[i]
		if a.Element == "" {
			problems = append(problems, fmt.Sprintf("atom %d has no element", i+1))
			continue
		}
		if a.Radical < 0 {
			problems = append(problems, fmt.Sprintf("atom %d (%s) has negative radical count", i+1, a.Element))
			continue
		}
		explicit := out.ExplicitValence(i) + a.Radical
		aromatic := out.hasAromaticBond(i)

		if a.Valence != 0 {
			declared := a.Valence
			if declared < 0 {
				declared = 0
			}
			if explicit > declared {
				problems = append(problems, fmt.Sprintf("atom %d (%s) has explicit valence %d above declared %d",
					i+1, a.Element, explicit, declared))
				continue
			}
			a.ImplicitH = declared - explicit
			continue
		}

		allowed, modelled := allowedValences(a.Element, a.Charge)
		if !modelled {
			continue
		}
		if len(allowed) == 0 {
			allowed = []int{0}
		}
		if aromatic {
			if explicit+a.ImplicitH > allowed[len(allowed)-1]+1 {
				problems = append(problems, fmt.Sprintf("aromatic atom %d (%s, charge %+d) has valence %d",
					i+1, a.Element, a.Charge, explicit+a.ImplicitH))
			}
			continue
		}
		total, ok := smallestAtLeast(allowed, explicit)
		if !ok {
			problems = append(problems, fmt.Sprintf("atom %d (%s, charge %+d) has valence %d, allowed %v",
				i+1, a.Element, a.Charge, explicit, allowed))
			continue
		}
		a.ImplicitH = total - explicit
	}

	if len(problems) > 0 {
		return nil, &ValenceError{Problems: problems}
	}
	return out, nil
}

func (m *Molecule) hasAromaticBond(i int) bool {
	for _, b := range m.Bonds {
		if (b.A == i || b.B == i) && b.Order == BondAromatic {
			return true
		}
	}
	return false
}

func smallestAtLeast(values []int, min int) (int, bool) {
	for _, v := range values {
		if v >= min {
			return v, true
		}
	}
	return 0, false
}

// Formula returns the Hill-order molecular formula, implicit hydrogens
// included, e.g. "C2H6O". Charges are not part of the formula.
func (m *Molecule) Formula() string {
	counts := make(map[string]int)
	for _, a := range m.Atoms {
		el := a.Element
		if a.IsHydrogen() {
			el = "H"
		}
		counts[el]++
		if a.ImplicitH > 0 {
			counts["H"] += a.ImplicitH
		}
	}
	return hill(counts)
}

// HeavyFormula returns the Hill formula of the heavy atoms only. Docked
// poses lose non-polar hydrogens and protonation can differ, so this is
// what identity checks compare.
func (m *Molecule) HeavyFormula() string {
	counts := make(map[string]int)
	for _, a := range m.Atoms {
		if !a.IsHydrogen() {
			counts[a.Element]++
		}
	}
	return hill(counts)
}

func hill(counts map[string]int) string {
	var sb strings.Builder
	write := func(el string) {
		n := counts[el]
		if n == 0 {
			return
		}
		sb.WriteString(el)
		if n > 1 {
			sb.WriteString(fmt.Sprintf("%d", n))
		}
		delete(counts, el)
	}

	if counts["C"] > 0 {
		write("C")
		write("H")
	}
	rest := make([]string, 0, len(counts))
	for el := range counts {
		rest = append(rest, el)
	}
	sort.Strings(rest)
	for _, el := range rest {
		write(el)
	}
	return sb.String()
}
