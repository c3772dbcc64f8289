package ligand

import (
	"fmt"
	"unicode"
)

// organicSubset lists the atoms SMILES allows outside brackets.
var organicSubset = map[string]bool{
	"B": true, "C": true, "N": true, "O": true, "P": true, "S": true,
	"F": true, "Cl": true, "Br": true, "I": true,
	"b": true, "c": true, "n": true, "o": true, "p": true, "s": true,
	"*": true,
}

// CheckSmiles performs the lexical checks that need no toolkit: non-empty,
// no whitespace, balanced parentheses and brackets, paired ring closures and
// only organic-subset atoms outside brackets. Passing does not make the
// string valid, it only rules out the obvious garbage before any process
// is started.
func CheckSmiles(s string) error {
	if s == "" {
		return fmt.Errorf("empty SMILES")
	}
	for i, r := range s {
		if unicode.IsSpace(r) {
			return fmt.Errorf("whitespace at position %d", i+1)
		}
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return fmt.Errorf("unexpected character %q at position %d", r, i+1)
		}
	}
	if err := checkNesting(s); err != nil {
		return err
	}
	if err := checkRingClosures(s); err != nil {
		return err
	}
	return checkAtoms(s)
}

func checkNesting(s string) error {
	depth := 0
	inBracket := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			if inBracket {
				return fmt.Errorf("nested '[' at position %d", i+1)
			}
			inBracket = true
		case ']':
			if !inBracket {
				return fmt.Errorf("unmatched ']' at position %d", i+1)
			}
			inBracket = false
		case '(':
			if inBracket {
				return fmt.Errorf("'(' inside bracket atom at position %d", i+1)
			}
			depth++
		case ')':
			if inBracket {
				return fmt.Errorf("')' inside bracket atom at position %d", i+1)
			}
			depth--
			if depth < 0 {
				return fmt.Errorf("unmatched ')' at position %d", i+1)
			}
		}
	}
	if inBracket {
		return fmt.Errorf("unterminated bracket atom")
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced parentheses")
	}
	return nil
}

func checkRingClosures(s string) error {
	open := make(map[string]bool)
	inBracket := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '[':
			inBracket = true
		case ch == ']':
			inBracket = false
		case inBracket:
		case ch == '%':
			if i+2 >= len(s) || !isDigit(s[i+1]) || !isDigit(s[i+2]) {
				return fmt.Errorf("malformed ring closure at position %d", i+1)
			}
			label := s[i+1 : i+3]
			open[label] = !open[label]
			i += 2
		case isDigit(ch):
			label := string(ch)
			open[label] = !open[label]
		}
	}
	for label, unclosed := range open {
		if unclosed {
			return fmt.Errorf("ring closure %s is never closed", label)
		}
	}
	return nil
}

func checkAtoms(s string) error {
	inBracket := false
	atoms := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '[' {
			inBracket = true
			atoms++
			continue
		}
		if ch == ']' {
			inBracket = false
			continue
		}
		if inBracket || isSpecial(ch) {
			continue
		}
		if i+1 < len(s) && organicSubset[s[i:i+2]] {
			atoms++
			i++
			continue
		}
		if organicSubset[s[i:i+1]] {
			atoms++
			continue
		}
		return fmt.Errorf("unknown atom %q at position %d", ch, i+1)
	}
	if atoms == 0 {
		return fmt.Errorf("no atoms")
	}
	return nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isSpecial(ch byte) bool {
	switch ch {
	case '(', ')', '.', '-', '=', '#', '$', ':', '/', '\\', '%':
		return true
	}
	return isDigit(ch)
}
