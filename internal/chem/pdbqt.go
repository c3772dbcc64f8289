package chem

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PDBQT is a parsed AutoDock PDBQT file. Every MODEL becomes a conformer
// of Molecule; a file without MODEL records is a single model. The
// molecule carries no bonds: PDBQT only stores coordinates and atom types.
type PDBQT struct {
	Molecule *Molecule
	// Remarks holds the REMARK lines of each model, prefix stripped.
	Remarks [][]string
	// Types holds the AutoDock atom type of each atom.
	Types []string
	// Charges holds the partial charge of each atom in the first model.
	Charges []float64
	HasRoot bool
	// Torsdof is the TORSDOF value, or -1 when the record is absent.
	Torsdof int
}

type pdbqtParser struct {
	out     *PDBQT
	line    string
	lineNo  int
	inModel bool
	model   int
	current Conformer
	remarks []string
}

// ReadPDBQT parses a PDBQT stream.
func ReadPDBQT(r io.Reader) (*PDBQT, error) {
	p := &pdbqtParser{
		out: &PDBQT{Molecule: &Molecule{}, Torsdof: -1},
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.lineNo++
		p.line = sc.Text()
		if err := p.parseLine(); err != nil {
			return nil, fmt.Errorf("line %d: %w", p.lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pdbqt: %w", err)
	}
	if p.inModel {
		return nil, fmt.Errorf("MODEL %d is not terminated by ENDMDL", p.model)
	}
	// files without MODEL records
	if p.current != nil {
		if err := p.closeModel(); err != nil {
			return nil, err
		}
	}
	if len(p.out.Molecule.Atoms) == 0 {
		return nil, fmt.Errorf("no ATOM or HETATM records")
	}
	return p.out, nil
}

// cols returns the trimmed 1-based inclusive column range, tolerating short lines.
func (p *pdbqtParser) cols(from, to int) string {
	if from > len(p.line) {
		return ""
	}
	if to > len(p.line) {
		to = len(p.line)
	}
	return strings.TrimSpace(p.line[from-1 : to])
}

func (p *pdbqtParser) parseLine() error {
	switch record := p.cols(1, 6); {
	case record == "MODEL":
		if p.inModel {
			return fmt.Errorf("nested MODEL record")
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(p.line, "MODEL")))
		if err != nil {
			n = len(p.out.Molecule.Conformers) + 1
		}
		p.inModel = true
		p.model = n
		p.current = Conformer{}
		p.remarks = nil
	case record == "ENDMDL":
		if !p.inModel {
			return fmt.Errorf("ENDMDL without MODEL")
		}
		p.inModel = false
		return p.closeModel()
	case record == "REMARK":
		p.remarks = append(p.remarks, strings.TrimSpace(strings.TrimPrefix(p.line, "REMARK")))
	case record == "ROOT":
		p.out.HasRoot = true
	case strings.HasPrefix(p.line, "TORSDOF"):
		fields := strings.Fields(p.line)
		if len(fields) < 2 {
			return fmt.Errorf("TORSDOF without value")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("TORSDOF value %q: %w", fields[1], err)
		}
		p.out.Torsdof = n
	case record == "ATOM" || record == "HETATM":
		return p.parseAtom()
	}
	return nil
}

func (p *pdbqtParser) parseAtom() error {
	if p.current == nil {
		p.current = Conformer{}
	}
	var pos Vec3
	for k, rng := range [][2]int{{31, 38}, {39, 46}, {47, 54}} {
		v, err := strconv.ParseFloat(p.cols(rng[0], rng[1]), 64)
		if err != nil {
			return fmt.Errorf("coordinate %d: %w", k+1, err)
		}
		pos[k] = v
	}

	fields := strings.Fields(p.line)
	if len(fields) < 2 {
		return fmt.Errorf("atom record has no type")
	}
	adType := fields[len(fields)-1]
	element, ok := ElementForADType(adType)
	if !ok {
		return fmt.Errorf("unknown AutoDock atom type %q", adType)
	}

	idx := len(p.current)
	p.current = append(p.current, pos)

	mol := p.out.Molecule
	if len(mol.Conformers) == 0 {
		charge, _ := strconv.ParseFloat(fields[len(fields)-2], 64)
		mol.Atoms = append(mol.Atoms, Atom{Element: element, Name: p.cols(13, 16)})
		p.out.Types = append(p.out.Types, adType)
		p.out.Charges = append(p.out.Charges, charge)
		return nil
	}
	if idx >= len(mol.Atoms) {
		return fmt.Errorf("model %d has more atoms than the first model (%d)", p.model, len(mol.Atoms))
	}
	if mol.Atoms[idx].Element != element {
		return fmt.Errorf("model %d atom %d is %s, first model has %s", p.model, idx+1, element, mol.Atoms[idx].Element)
	}
	return nil
}

func (p *pdbqtParser) closeModel() error {
	mol := p.out.Molecule
	if len(p.current) != len(mol.Atoms) {
		return fmt.Errorf("model %d has %d atoms, first model has %d", p.model, len(p.current), len(mol.Atoms))
	}
	if len(p.current) == 0 {
		return fmt.Errorf("model %d has no atoms", p.model)
	}
	mol.Conformers = append(mol.Conformers, p.current)
	p.out.Remarks = append(p.out.Remarks, p.remarks)
	p.current = nil
	p.remarks = nil
	return nil
}
