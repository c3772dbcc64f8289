package chem

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Record is one molecule of an SD file with its data items.
type Record struct {
	Molecule   *Molecule
	Properties map[string]string
	// order in which properties were read or should be written
	Keys []string
}

// SetProperty adds or replaces a data item, keeping first-insertion order.
func (r *Record) SetProperty(key, value string) {
	if r.Properties == nil {
		r.Properties = make(map[string]string)
	}
	if _, exists := r.Properties[key]; !exists {
		r.Keys = append(r.Keys, key)
	}
	r.Properties[key] = value
}

// ReadMol parses a single V2000 molfile. Coordinates become one conformer
// unless every coordinate is zero, which molfiles use for "no geometry".
func ReadMol(r io.Reader) (*Molecule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read molfile: %w", err)
	}
	lines := splitLines(string(data))
	m, _, err := parseMolBlock(lines)
	return m, err
}

// ParseMol parses a molfile held in memory.
func ParseMol(data []byte) (*Molecule, error) {
	return ReadMol(bytes.NewReader(data))
}

// ReadSDF parses every record of an SD file.
func ReadSDF(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read sdf: %w", err)
	}
	lines := splitLines(string(data))

	var records []Record
	for len(lines) > 0 {
		if allBlank(lines) {
			break
		}
		m, rest, err := parseMolBlock(lines)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records)+1, err)
		}
		rec := Record{Molecule: m}
		rest = parseDataItems(rest, &rec)
		records = append(records, rec)
		lines = rest
	}
	return records, nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

// parseMolBlock reads header, counts line, atom block, bond block and the
// properties block up to "M  END". It returns the unread lines.
func parseMolBlock(lines []string) (*Molecule, []string, error) {
	if len(lines) < 4 {
		return nil, nil, fmt.Errorf("molfile too short: %d lines", len(lines))
	}
	m := &Molecule{Name: strings.TrimSpace(lines[0])}

	counts := lines[3]
	if strings.Contains(counts, "V3000") {
		return nil, nil, fmt.Errorf("V3000 molfiles are not supported")
	}
	nAtoms, err := fixedInt(counts, 0, 3)
	if err != nil {
		return nil, nil, fmt.Errorf("counts line %q: atom count: %w", counts, err)
	}
	nBonds, err := fixedInt(counts, 3, 6)
	if err != nil {
		return nil, nil, fmt.Errorf("counts line %q: bond count: %w", counts, err)
	}
	if len(lines) < 4+nAtoms+nBonds {
		return nil, nil, fmt.Errorf("molfile declares %d atoms and %d bonds but has %d lines", nAtoms, nBonds, len(lines))
	}

	conf := make(Conformer, 0, nAtoms)
	// dimensional code, columns 21-22 of the program line
	hasGeometry := len(lines[1]) >= 22 && lines[1][20:22] == "3D"
	for i := 0; i < nAtoms; i++ {
		line := lines[4+i]
		if len(line) < 34 {
			return nil, nil, fmt.Errorf("atom line %d too short: %q", i+1, line)
		}
		var p Vec3
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(line[k*10:k*10+10]), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("atom %d coordinate: %w", i+1, err)
			}
			p[k] = v
			if v != 0 {
				hasGeometry = true
			}
		}
		conf = append(conf, p)

		a := Atom{Element: NormalizeSymbol(line[31:34])}
		if a.Element == "" {
			return nil, nil, fmt.Errorf("atom %d has no element symbol", i+1)
		}
		if code, err := fixedInt(line, 36, 39); err == nil {
			a.Charge = chargeFromCode(code)
		}
		if parity, err := fixedInt(line, 39, 42); err == nil {
			a.Parity = parity
		}
		if vvv, err := fixedInt(line, 48, 51); err == nil && vvv != 0 {
			if vvv == 15 {
				a.Valence = -1
			} else {
				a.Valence = vvv
			}
		}
		m.Atoms = append(m.Atoms, a)
	}

	for i := 0; i < nBonds; i++ {
		line := lines[4+nAtoms+i]
		a, errA := fixedInt(line, 0, 3)
		b, errB := fixedInt(line, 3, 6)
		order, errO := fixedInt(line, 6, 9)
		if errA != nil || errB != nil || errO != nil {
			return nil, nil, fmt.Errorf("bond line %d malformed: %q", i+1, line)
		}
		if err := m.AddBond(a-1, b-1, order); err != nil {
			return nil, nil, fmt.Errorf("bond line %d: %w", i+1, err)
		}
	}

	rest := lines[4+nAtoms+nBonds:]
	chargesReset := false
	for len(rest) > 0 {
		line := rest[0]
		rest = rest[1:]
		if strings.HasPrefix(line, "M  END") {
			break
		}
		switch {
		case strings.HasPrefix(line, "M  CHG"):
			if !chargesReset {
				for j := range m.Atoms {
					m.Atoms[j].Charge = 0
				}
				chargesReset = true
			}
			pairs, err := parsePropertyPairs(line)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range pairs {
				if p[0] < 1 || p[0] > len(m.Atoms) {
					return nil, nil, fmt.Errorf("M  CHG references atom %d", p[0])
				}
				m.Atoms[p[0]-1].Charge = p[1]
			}
		case strings.HasPrefix(line, "M  RAD"):
			pairs, err := parsePropertyPairs(line)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range pairs {
				if p[0] < 1 || p[0] > len(m.Atoms) {
					return nil, nil, fmt.Errorf("M  RAD references atom %d", p[0])
				}
				// 1 = singlet (2 electrons), 2 = doublet, 3 = triplet
				switch p[1] {
				case 1, 3:
					m.Atoms[p[0]-1].Radical = 2
				case 2:
					m.Atoms[p[0]-1].Radical = 1
				}
			}
		}
	}

	if hasGeometry {
		m.Conformers = []Conformer{conf}
	}
	return m, rest, nil
}

func parseDataItems(lines []string, rec *Record) []string {
	for len(lines) > 0 {
		line := lines[0]
		lines = lines[1:]
		if strings.HasPrefix(line, "$$$$") {
			return lines
		}
		if !strings.HasPrefix(line, ">") {
			continue
		}
		start := strings.Index(line, "<")
		end := strings.LastIndex(line, ">")
		if start < 0 || end <= start {
			continue
		}
		key := line[start+1 : end]
		var value []string
		for len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
			value = append(value, lines[0])
			lines = lines[1:]
		}
		rec.SetProperty(key, strings.Join(value, "\n"))
	}
	return lines
}

func parsePropertyPairs(line string) ([][2]int, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("malformed property line %q", line)
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil || len(fields) < 3+2*n {
		return nil, fmt.Errorf("malformed property line %q", line)
	}
	pairs := make([][2]int, 0, n)
	for i := 0; i < n; i++ {
		atom, err1 := strconv.Atoi(fields[3+2*i])
		val, err2 := strconv.Atoi(fields[4+2*i])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("malformed property line %q", line)
		}
		pairs = append(pairs, [2]int{atom, val})
	}
	return pairs, nil
}

func fixedInt(line string, from, to int) (int, error) {
	if len(line) < to {
		if len(line) <= from {
			return 0, fmt.Errorf("column %d-%d missing", from+1, to)
		}
		to = len(line)
	}
	s := strings.TrimSpace(line[from:to])
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func chargeFromCode(code int) int {
	switch code {
	case 1:
		return 3
	case 2:
		return 2
	case 3:
		return 1
	case 5:
		return -1
	case 6:
		return -2
	case 7:
		return -3
	default:
		return 0
	}
}

func codeFromCharge(q int) int {
	switch q {
	case 3:
		return 1
	case 2:
		return 2
	case 1:
		return 3
	case -1:
		return 5
	case -2:
		return 6
	case -3:
		return 7
	default:
		return 0
	}
}

// WriteMol writes conformer conf of m as a V2000 molfile. A negative conf,
// or a molecule without conformers, writes zero coordinates.
func WriteMol(w io.Writer, m *Molecule, conf int) error {
	bw := bufio.NewWriter(w)
	if err := writeMolBlock(bw, m, conf); err != nil {
		return err
	}
	return bw.Flush()
}

// MarshalMol returns the molfile text for conformer conf.
func MarshalMol(m *Molecule, conf int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMol(&buf, m, conf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSDF writes records as an SD file.
func WriteSDF(w io.Writer, records []Record, conf func(i int) int) error {
	bw := bufio.NewWriter(w)
	for i, rec := range records {
		c := 0
		if conf != nil {
			c = conf(i)
		}
		if err := writeMolBlock(bw, rec.Molecule, c); err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
		keys := rec.Keys
		if len(keys) != len(rec.Properties) {
			keys = keys[:0:0]
			for k := range rec.Properties {
				keys = append(keys, k)
			}
			sort.Strings(keys)
		}
		for _, k := range keys {
			fmt.Fprintf(bw, ">  <%s>\n%s\n\n", k, rec.Properties[k])
		}
		bw.WriteString("$$$$\n")
	}
	return bw.Flush()
}

// WriteConformersSDF writes one SD record per conformer, attaching the
// matching entry of props (if any) to each record.
func WriteConformersSDF(w io.Writer, m *Molecule, props []map[string]string) error {
	records := make([]Record, m.NumConformers())
	for i := range records {
		records[i].Molecule = m
		if i < len(props) {
			keys := make([]string, 0, len(props[i]))
			for k := range props[i] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				records[i].SetProperty(k, props[i][k])
			}
		}
	}
	return WriteSDF(w, records, func(i int) int { return i })
}

func writeMolBlock(w *bufio.Writer, m *Molecule, conf int) error {
	if len(m.Atoms) > 999 || len(m.Bonds) > 999 {
		return fmt.Errorf("molecule too large for V2000: %d atoms, %d bonds", len(m.Atoms), len(m.Bonds))
	}
	var coords Conformer
	if conf >= 0 && conf < len(m.Conformers) {
		coords = m.Conformers[conf]
	} else if conf >= len(m.Conformers) && len(m.Conformers) > 0 {
		return fmt.Errorf("conformer %d out of range (%d conformers)", conf, len(m.Conformers))
	}
	dim := "2D"
	if coords != nil {
		dim = "3D"
	}

	fmt.Fprintf(w, "%s\n", m.Name)
	fmt.Fprintf(w, "  dockpipe          %s\n", dim)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "%3d%3d  0  0  0  0  0  0  0  0999 V2000\n", len(m.Atoms), len(m.Bonds))

	var charged, radicals [][2]int
	for i, a := range m.Atoms {
		var p Vec3
		if coords != nil {
			p = coords[i]
		}
		vvv := 0
		if a.Valence > 0 {
			vvv = a.Valence
		} else if a.Valence < 0 {
			vvv = 15
		}
		fmt.Fprintf(w, "%10.4f%10.4f%10.4f %-3s 0%3d%3d  0  0%3d  0  0  0  0  0  0\n",
			p[0], p[1], p[2], a.Element, codeFromCharge(a.Charge), a.Parity, vvv)
		if a.Charge != 0 {
			charged = append(charged, [2]int{i + 1, a.Charge})
		}
		if a.Radical > 0 {
			code := 2
			if a.Radical >= 2 {
				code = 3
			}
			radicals = append(radicals, [2]int{i + 1, code})
		}
	}
	for _, b := range m.Bonds {
		fmt.Fprintf(w, "%3d%3d%3d  0\n", b.A+1, b.B+1, b.Order)
	}
	writePropertyLines(w, "CHG", charged)
	writePropertyLines(w, "RAD", radicals)
	w.WriteString("M  END\n")
	return nil
}

func writePropertyLines(w *bufio.Writer, tag string, pairs [][2]int) {
	for len(pairs) > 0 {
		n := len(pairs)
		if n > 8 {
			n = 8
		}
		fmt.Fprintf(w, "M  %s%3d", tag, n)
		for _, p := range pairs[:n] {
			fmt.Fprintf(w, " %3d %3d", p[0], p[1])
		}
		w.WriteString("\n")
		pairs = pairs[n:]
	}
}
