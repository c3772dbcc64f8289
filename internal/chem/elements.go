package chem

import (
	"strings"
)

// elementOrder lists symbols by atomic number (index 0 unused).
// Only the first four periods plus iodine are needed by ligands.
var elementOrder = []string{
	"",
	"H", "He",
	"Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar",
	"K", "Ca", "Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr",
	"Rb", "Sr", "Y", "Zr", "Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd",
	"In", "Sn", "Sb", "Te", "I", "Xe",
}

var atomicNumbers = func() map[string]int {
	m := make(map[string]int, len(elementOrder))
	for z, sym := range elementOrder {
		if sym != "" {
			m[sym] = z
		}
	}
	m["D"] = 1
	m["T"] = 1
	return m
}()

// AtomicNumber returns Z for a symbol, or 0 if unknown.
func AtomicNumber(symbol string) int {
	return atomicNumbers[symbol]
}

// NormalizeSymbol turns "CL", "cl" or "Cl" into "Cl".
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) == 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// covalentRadius in angstroms, Cordero et al. 2008 (doi:10.1039/B801115J).
var covalentRadius = map[string]float64{
	"H": 0.31, "D": 0.31, "T": 0.31,
	"B": 0.84, "C": 0.76, "N": 0.71, "O": 0.66, "F": 0.57,
	"Na": 1.66, "Mg": 1.41, "Al": 1.21, "Si": 1.11, "P": 1.07, "S": 1.05, "Cl": 1.02,
	"K": 2.03, "Ca": 1.76, "Mn": 1.39, "Fe": 1.32, "Co": 1.26, "Ni": 1.24, "Cu": 1.32, "Zn": 1.22,
	"As": 1.19, "Se": 1.20, "Br": 1.20, "I": 1.39,
}

// CovalentRadius returns the covalent radius for a symbol and whether it is known.
func CovalentRadius(symbol string) (float64, bool) {
	r, ok := covalentRadius[symbol]
	return r, ok
}

// defaultValences are the allowed total valences of neutral atoms, lowest first.
var defaultValences = map[string][]int{
	"H":  {1},
	"B":  {3},
	"C":  {4},
	"N":  {3},
	"O":  {2},
	"F":  {1},
	"Si": {4},
	"P":  {3, 5},
	"S":  {2, 4, 6},
	"Cl": {1},
	"Se": {2, 4, 6},
	"Br": {1},
	"I":  {1, 3, 5},
}

// allowedValences returns the permitted total valences of an atom with the
// given formal charge. Charged p-block atoms take the valences of their
// isoelectronic neighbour (N+ behaves like C, O- like F). The second result
// is false when the element has no valence model.
func allowedValences(symbol string, charge int) ([]int, bool) {
	if symbol == "D" || symbol == "T" {
		symbol = "H"
	}
	if symbol == "H" {
		if charge == 0 {
			return []int{1}, true
		}
		return []int{0}, true
	}
	if charge == 0 {
		v, ok := defaultValences[symbol]
		return v, ok
	}
	if _, ok := defaultValences[symbol]; !ok {
		return nil, false
	}
	z := AtomicNumber(symbol) - charge
	if z <= 0 || z >= len(elementOrder) {
		return nil, true
	}
	iso := elementOrder[z]
	if sameRow(symbol, iso) {
		if v, ok := defaultValences[iso]; ok {
			return v, true
		}
	}
	// ions past the edge of the valence model (C2+, B-...) get nothing
	switch iso {
	case "Be", "Mg":
		return []int{2}, true
	case "Li", "Na":
		return []int{1}, true
	case "He", "Ne", "Ar":
		return []int{0}, true
	}
	return nil, true
}

func sameRow(a, b string) bool {
	return periodOf(AtomicNumber(a)) == periodOf(AtomicNumber(b))
}

func periodOf(z int) int {
	switch {
	case z <= 2:
		return 1
	case z <= 10:
		return 2
	case z <= 18:
		return 3
	case z <= 36:
		return 4
	default:
		return 5
	}
}

// adTypeElements maps AutoDock atom types to elements.
var adTypeElements = map[string]string{
	"H": "H", "HD": "H", "HS": "H",
	"C": "C", "A": "C",
	"N": "N", "NA": "N", "NS": "N",
	"O": "O", "OA": "O", "OS": "O",
	"F": "F", "P": "P",
	"S": "S", "SA": "S",
	"Cl": "Cl", "CL": "Cl",
	"Br": "Br", "BR": "Br",
	"I":  "I",
	"Si": "Si",
	"Mg": "Mg", "MG": "Mg",
	"Ca": "Ca", "CA": "Ca",
	"Mn": "Mn", "MN": "Mn",
	"Fe": "Fe", "FE": "Fe",
	"Zn": "Zn", "ZN": "Zn",
	"G0": "C", "G1": "C", "G2": "C", "G3": "C",
	"CG0": "C", "CG1": "C", "CG2": "C", "CG3": "C",
	"W": "O",
}

// ElementForADType maps an AutoDock atom type such as "OA" or "HD" to its element.
func ElementForADType(adType string) (string, bool) {
	el, ok := adTypeElements[strings.TrimSpace(adType)]
	return el, ok
}
