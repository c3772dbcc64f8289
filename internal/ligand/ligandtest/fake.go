// Package ligandtest provides an in-memory chemistry toolkit for tests.
// It only knows the molecules registered with it, but it honours the same
// contracts as the real toolkit: canonical SMILES, stable atom order,
// explicit hydrogens after protonation and seed-determined coordinates.
package ligandtest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/harrison/dockpipe/internal/chem"
)

// Toolkit is a fake ligand.Toolkit and docking.Converter.
type Toolkit struct {
	mu        sync.Mutex
	molecules map[string]*chem.Molecule
	aliases   map[string]string
	calls     map[string]int

	// Set any of these to make the matching step fail.
	ProtonateErr error
	EmbedErr     error
	RefineErr    error
	ConvertErr   error

	// EmbedHook, when set, post-processes every embedded molecule.
	EmbedHook func(*chem.Molecule) *chem.Molecule

	// IgnoreSeed makes the toolkit report that Embed does not use its seed.
	IgnoreSeed bool
}

// New returns a toolkit that knows ethanol, acetate and
// bromochlorofluoromethane.
func New() *Toolkit {
	tk := &Toolkit{
		molecules: make(map[string]*chem.Molecule),
		aliases:   make(map[string]string),
		calls:     make(map[string]int),
	}
	tk.Add("CCO", Ethanol(), "OCC", "C(O)C")
	tk.Add("CC(=O)[O-]", Acetate(), "[O-]C(=O)C", "CC([O-])=O")
	tk.Add("FC(Cl)Br", Halomethane(), "BrC(F)Cl", "ClC(F)Br")
	return tk
}

// Add registers a fully protonated 3D structure under its canonical SMILES
// and any number of alternative spellings.
func (tk *Toolkit) Add(canonical string, m *chem.Molecule, aliases ...string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.molecules[canonical] = m
	tk.aliases[canonical] = canonical
	for _, a := range aliases {
		tk.aliases[a] = canonical
	}
}

// Calls returns how often method was invoked.
func (tk *Toolkit) Calls(method string) int {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.calls[method]
}

// TotalCalls returns the number of invocations of any method.
func (tk *Toolkit) TotalCalls() int {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	n := 0
	for _, c := range tk.calls {
		n += c
	}
	return n
}

func (tk *Toolkit) record(method string) {
	tk.mu.Lock()
	tk.calls[method]++
	tk.mu.Unlock()
}

func (tk *Toolkit) lookup(smiles string) (*chem.Molecule, string, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	canonical, ok := tk.aliases[smiles]
	if !ok {
		return nil, "", fmt.Errorf("unrecognised SMILES %q", smiles)
	}
	return tk.molecules[canonical], canonical, nil
}

func (tk *Toolkit) Canonicalize(ctx context.Context, smiles string) (string, error) {
	tk.record("Canonicalize")
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, canonical, err := tk.lookup(smiles)
	return canonical, err
}

// Parse returns the heavy-atom graph with charges but no hydrogens.
func (tk *Toolkit) Parse(ctx context.Context, smiles string) (*chem.Molecule, error) {
	tk.record("Parse")
	m, _, err := tk.lookup(smiles)
	if err != nil {
		return nil, err
	}
	g := m.HeavyAtomGraph()
	g.Conformers = nil
	return g, nil
}

// Protonate returns the registered structure with explicit hydrogens,
// provided its heavy atoms are the ones passed in.
func (tk *Toolkit) Protonate(ctx context.Context, m *chem.Molecule, pH float64) (*chem.Molecule, error) {
	tk.record("Protonate")
	if tk.ProtonateErr != nil {
		return nil, tk.ProtonateErr
	}
	full, err := tk.byHeavyAtoms(m)
	if err != nil {
		return nil, err
	}
	return full.WithoutConformers(), nil
}

// Embed returns the registered coordinates translated by a seed-derived
// offset, so different seeds give different but reproducible geometry.
func (tk *Toolkit) Embed(ctx context.Context, m *chem.Molecule, seed int64) (*chem.Molecule, error) {
	tk.record("Embed")
	if tk.EmbedErr != nil {
		return nil, tk.EmbedErr
	}
	full, err := tk.byHeavyAtoms(m)
	if err != nil {
		return nil, err
	}
	out := m.WithoutConformers()
	shift := chem.Vec3{float64(seed%97) * 0.01, float64(seed%89) * 0.01, float64(seed%83) * 0.01}
	conf := make(chem.Conformer, len(full.Conformers[0]))
	for i, p := range full.Conformers[0] {
		conf[i] = p.Add(shift)
	}
	if err := out.AddConformer(conf); err != nil {
		return nil, err
	}
	if tk.EmbedHook != nil {
		out = tk.EmbedHook(out)
	}
	return out, nil
}

func (tk *Toolkit) IgnoresSeed() bool { return tk.IgnoreSeed }

// Refine returns a copy of its input.
func (tk *Toolkit) Refine(ctx context.Context, m *chem.Molecule) (*chem.Molecule, error) {
	tk.record("Refine")
	if tk.RefineErr != nil {
		return nil, tk.RefineErr
	}
	return m.Clone(), nil
}

// ToDockingFormat converts a MOL file to PDBQT the way the real toolkit
// does: heavy atoms plus polar hydrogens, one rigid root.
func (tk *Toolkit) ToDockingFormat(ctx context.Context, molPath, pdbqtPath string) error {
	tk.record("ToDockingFormat")
	if tk.ConvertErr != nil {
		return tk.ConvertErr
	}
	f, err := os.Open(molPath)
	if err != nil {
		return err
	}
	defer f.Close()
	m, err := chem.ReadMol(f)
	if err != nil {
		return err
	}
	out, err := os.Create(pdbqtPath)
	if err != nil {
		return err
	}
	if err := WritePDBQT(out, m, 0); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (tk *Toolkit) byHeavyAtoms(m *chem.Molecule) (*chem.Molecule, error) {
	heavy := m.HeavyAtomGraph()
	tk.mu.Lock()
	defer tk.mu.Unlock()
	for _, full := range tk.molecules {
		g := full.HeavyAtomGraph()
		g.Conformers = nil
		if chem.SameConnectivity(g, heavy) && sameCharges(g, heavy) {
			return full, nil
		}
	}
	return nil, fmt.Errorf("no registered structure matches %s", heavy.HeavyFormula())
}

func sameCharges(a, b *chem.Molecule) bool {
	for i := range a.Atoms {
		if a.Atoms[i].Charge != b.Atoms[i].Charge {
			return false
		}
	}
	return true
}

var adTypes = map[string]string{"C": "C", "N": "NA", "O": "OA", "S": "SA", "F": "F", "Cl": "Cl", "Br": "Br", "I": "I", "P": "P"}

// WritePDBQT writes conformer conf of m as a rigid PDBQT ligand, dropping
// hydrogens that are not bonded to N or O.
func WritePDBQT(w io.Writer, m *chem.Molecule, conf int) error {
	adj := m.Neighbors()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "REMARK  Name = %s\n", m.Name)
	fmt.Fprintln(bw, "ROOT")
	serial := 0
	for i, a := range m.Atoms {
		adType := adTypes[a.Element]
		if a.IsHydrogen() {
			if len(adj[i]) != 1 {
				continue
			}
			if el := m.Atoms[adj[i][0]].Element; el != "N" && el != "O" {
				continue
			}
			adType = "HD"
		}
		if adType == "" {
			return fmt.Errorf("no AutoDock type for %s", a.Element)
		}
		serial++
		p := m.Conformers[conf][i]
		fmt.Fprintf(bw, "ATOM  %5d %-4s %3s %1s%4d    %8.3f%8.3f%8.3f%6.2f%6.2f    %6.3f %-2s\n",
			serial, a.Element, "UNL", "", 1, p[0], p[1], p[2], 0.0, 0.0, 0.0, adType)
	}
	fmt.Fprintln(bw, "ENDROOT")
	fmt.Fprintln(bw, "TORSDOF 0")
	return bw.Flush()
}

// tetrahedral returns the four unit directions of an ideal sp3 centre.
func tetrahedral() [4]chem.Vec3 {
	s := 1 / math.Sqrt(3)
	return [4]chem.Vec3{{s, s, s}, {s, -s, -s}, {-s, s, -s}, {-s, -s, s}}
}

func build(name string, atoms []chem.Atom, bonds [][3]int, coords chem.Conformer) *chem.Molecule {
	m := &chem.Molecule{Name: name}
	for _, a := range atoms {
		m.AddAtom(a)
	}
	for _, b := range bonds {
		if err := m.AddBond(b[0], b[1], b[2]); err != nil {
			panic(err)
		}
	}
	if err := m.AddConformer(coords); err != nil {
		panic(err)
	}
	return m
}

// Ethanol returns CCO with explicit hydrogens and 3D coordinates.
func Ethanol() *chem.Molecule {
	return build("CCO",
		[]chem.Atom{{Element: "C"}, {Element: "C"}, {Element: "O"},
			{Element: "H"}, {Element: "H"}, {Element: "H"},
			{Element: "H"}, {Element: "H"}, {Element: "H"}},
		[][3]int{{0, 1, 1}, {1, 2, 1}, {0, 3, 1}, {0, 4, 1}, {0, 5, 1}, {1, 6, 1}, {1, 7, 1}, {2, 8, 1}},
		chem.Conformer{
			{0, 0, 0}, {1.52, 0, 0}, {2.0, 1.35, 0},
			{-0.36, -1.03, 0}, {-0.36, 0.51, 0.89}, {-0.36, 0.51, -0.89},
			{1.89, -0.51, 0.89}, {1.89, -0.51, -0.89},
			{2.97, 1.30, 0},
		})
}

// Acetate returns CC(=O)[O-] with explicit hydrogens and 3D coordinates.
func Acetate() *chem.Molecule {
	return build("CC(=O)[O-]",
		[]chem.Atom{{Element: "C"}, {Element: "C"}, {Element: "O"}, {Element: "O", Charge: -1},
			{Element: "H"}, {Element: "H"}, {Element: "H"}},
		[][3]int{{0, 1, 1}, {1, 2, 2}, {1, 3, 1}, {0, 4, 1}, {0, 5, 1}, {0, 6, 1}},
		chem.Conformer{
			{0, 0, 0}, {1.52, 0, 0}, {2.15, 1.09, 0}, {2.15, -1.09, 0},
			{-0.36, -1.03, 0}, {-0.36, 0.51, 0.89}, {-0.36, 0.51, -0.89},
		})
}

// Halomethane returns FC(Cl)Br, the smallest chiral molecule the policy
// accepts, as one enantiomer.
func Halomethane() *chem.Molecule {
	d := tetrahedral()
	return build("FC(Cl)Br",
		[]chem.Atom{{Element: "F"}, {Element: "C"}, {Element: "Cl"}, {Element: "Br"}, {Element: "H"}},
		[][3]int{{0, 1, 1}, {1, 2, 1}, {1, 3, 1}, {1, 4, 1}},
		chem.Conformer{d[0].Scale(1.35), {0, 0, 0}, d[1].Scale(1.77), d[2].Scale(1.94), d[3].Scale(1.09)})
}

// Mirror returns m reflected through the yz plane, inverting every
// stereocentre.
func Mirror(m *chem.Molecule) *chem.Molecule {
	out := m.Clone()
	for _, c := range out.Conformers {
		for i := range c {
			c[i][0] = -c[i][0]
		}
	}
	return out
}
