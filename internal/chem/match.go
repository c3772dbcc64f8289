package chem

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"sort"
)

// DefaultMatchSteps bounds the backtracking search of Match.
const DefaultMatchSteps = 2_000_000

// MatchOptions controls which labels must agree for two atoms or bonds to match.
type MatchOptions struct {
	CompareOrders  bool
	CompareCharges bool

	// CompareHydrogens requires equal implicit hydrogen counts.
	CompareHydrogens bool
	// MaxSteps caps the number of candidate extensions tried; 0 uses DefaultMatchSteps.
	MaxSteps int
}

// Match searches for an isomorphism between the graphs of query and
// target. On success mapping[i] is the target atom matched to query atom i.
// Elements always have to agree; bond orders and formal charges only when
// requested. Both molecules must have the same number of atoms and bonds.
func Match(query, target *Molecule, opts MatchOptions) ([]int, bool) {
	var found []int
	matchEach(query, target, opts, func(mapping []int) bool {
		found = append([]int(nil), mapping...)
		return true
	})
	return found, found != nil
}

// MatchAll returns up to limit distinct isomorphisms between query and
// target, in search order. A limit of 0 or less returns all of them, still
// bounded by opts.MaxSteps.
func MatchAll(query, target *Molecule, opts MatchOptions, limit int) [][]int {
	var all [][]int
	matchEach(query, target, opts, func(mapping []int) bool {
		all = append(all, append([]int(nil), mapping...))
		return limit > 0 && len(all) >= limit
	})
	return all
}

// matchEach calls visit for every complete mapping until visit returns
// true or the step budget runs out.
func matchEach(query, target *Molecule, opts MatchOptions, visit func([]int) bool) {
	n := len(query.Atoms)
	if n != len(target.Atoms) || len(query.Bonds) != len(target.Bonds) {
		return
	}
	if n == 0 {
		visit([]int{})
		return
	}

	qInv := Invariants(query, opts)
	tInv := Invariants(target, opts)
	if !sameMultiset(qInv, tInv) {
		return
	}

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMatchSteps
	}

	s := &matchState{
		query:    query,
		target:   target,
		opts:     opts,
		qAdj:     query.Neighbors(),
		tAdj:     target.Neighbors(),
		qInv:     qInv,
		tInv:     tInv,
		mapping:  make([]int, n),
		usedBy:   make([]int, n),
		maxSteps: maxSteps,
		visit:    visit,
	}
	for i := range s.mapping {
		s.mapping[i] = -1
		s.usedBy[i] = -1
	}
	s.order, s.parent = s.searchOrder()
	s.extend(0)
}

// Isomorphic reports whether Match succeeds.
func Isomorphic(a, b *Molecule, opts MatchOptions) bool {
	_, ok := Match(a, b, opts)
	return ok
}

type matchState struct {
	query, target *Molecule
	opts          MatchOptions
	qAdj, tAdj    [][]int
	qInv, tInv    []uint64
	order         []int
	parent        []int
	mapping       []int
	usedBy        []int
	steps         int
	maxSteps      int
	visit         func([]int) bool
}

// searchOrder visits query atoms breadth first, starting each component at
// its rarest atom class so the first choices are the most constrained.
func (s *matchState) searchOrder() ([]int, []int) {
	n := len(s.query.Atoms)
	freq := make(map[uint64]int)
	for _, v := range s.qInv {
		freq[v]++
	}
	byRarity := make([]int, n)
	for i := range byRarity {
		byRarity[i] = i
	}
	sort.SliceStable(byRarity, func(a, b int) bool {
		return freq[s.qInv[byRarity[a]]] < freq[s.qInv[byRarity[b]]]
	})

	seen := make([]bool, n)
	order := make([]int, 0, n)
	parent := make([]int, 0, n)
	for _, start := range byRarity {
		if seen[start] {
			continue
		}
		seen[start] = true
		queue := []int{start}
		parents := []int{-1}
		for len(queue) > 0 {
			cur, par := queue[0], parents[0]
			queue, parents = queue[1:], parents[1:]
			order = append(order, cur)
			parent = append(parent, par)
			for _, nb := range s.qAdj[cur] {
				if !seen[nb] {
					seen[nb] = true
					queue = append(queue, nb)
					parents = append(parents, cur)
				}
			}
		}
	}
	return order, parent
}

// extend maps query atom order[k] and recurses. It returns true once the
// search should stop.
func (s *matchState) extend(k int) bool {
	if k == len(s.order) {
		return s.visit(s.mapping)
	}
	q := s.order[k]

	var candidates []int
	if p := s.parent[k]; p >= 0 {
		candidates = s.tAdj[s.mapping[p]]
	} else {
		candidates = make([]int, len(s.target.Atoms))
		for i := range candidates {
			candidates[i] = i
		}
	}

	for _, t := range candidates {
		if s.usedBy[t] != -1 || s.tInv[t] != s.qInv[q] {
			continue
		}
		s.steps++
		if s.steps > s.maxSteps {
			return true
		}
		if !s.feasible(q, t) {
			continue
		}
		s.mapping[q] = t
		s.usedBy[t] = q
		if s.extend(k + 1) {
			return true
		}
		s.mapping[q] = -1
		s.usedBy[t] = -1
	}
	return false
}

// feasible checks that mapping q to t keeps every edge between q and the
// already mapped atoms, and adds none.
func (s *matchState) feasible(q, t int) bool {
	qa, ta := s.query.Atoms[q], s.target.Atoms[t]
	if qa.Element != ta.Element || len(s.qAdj[q]) != len(s.tAdj[t]) {
		return false
	}
	if s.opts.CompareCharges && qa.Charge != ta.Charge {
		return false
	}
	if s.opts.CompareHydrogens && qa.ImplicitH != ta.ImplicitH {
		return false
	}

	mappedQ := 0
	for _, qn := range s.qAdj[q] {
		tn := s.mapping[qn]
		if tn < 0 {
			continue
		}
		mappedQ++
		tb := s.target.BondBetween(t, tn)
		if tb < 0 {
			return false
		}
		if s.opts.CompareOrders {
			qb := s.query.BondBetween(q, qn)
			if s.query.Bonds[qb].Order != s.target.Bonds[tb].Order {
				return false
			}
		}
	}
	mappedT := 0
	for _, tn := range s.tAdj[t] {
		if s.usedBy[tn] >= 0 {
			mappedT++
		}
	}
	return mappedQ == mappedT
}

// Invariants returns a Morgan-style class for every atom: element, degree
// and optionally charge and hydrogen count, iteratively refined with the classes of the
// neighbours (and bond orders when compared) until the number of distinct
// classes stops growing. Isomorphic graphs yield the same multiset.
func Invariants(m *Molecule, opts MatchOptions) []uint64 {
	n := len(m.Atoms)
	adj := m.Neighbors()
	inv := make([]uint64, n)
	for i, a := range m.Atoms {
		h := fnv.New64a()
		h.Write([]byte(a.Element))
		writeInt(h, int64(len(adj[i])))
		if opts.CompareCharges {
			writeInt(h, int64(a.Charge))
		}
		if opts.CompareHydrogens {
			writeInt(h, int64(a.ImplicitH))
		}
		inv[i] = h.Sum64()
	}

	classes := countDistinct(inv)
	for iter := 0; iter < n; iter++ {
		next := make([]uint64, n)
		for i := range m.Atoms {
			keys := make([]uint64, 0, len(adj[i]))
			for _, nb := range adj[i] {
				k := inv[nb]
				if opts.CompareOrders {
					k = k*31 + uint64(m.Bonds[m.BondBetween(i, nb)].Order)
				}
				keys = append(keys, k)
			}
			sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
			h := fnv.New64a()
			writeInt(h, int64(inv[i]))
			for _, k := range keys {
				writeInt(h, int64(k))
			}
			next[i] = h.Sum64()
		}
		nextClasses := countDistinct(next)
		if nextClasses == classes {
			break
		}
		inv, classes = next, nextClasses
	}
	return inv
}

func writeInt(w io.Writer, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	w.Write(buf[:])
}

func countDistinct(v []uint64) int {
	set := make(map[uint64]struct{}, len(v))
	for _, x := range v {
		set[x] = struct{}{}
	}
	return len(set)
}

func sameMultiset(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[uint64]int, len(a))
	for _, x := range a {
		counts[x]++
	}
	for _, x := range b {
		counts[x]--
		if counts[x] < 0 {
			return false
		}
	}
	return true
}
