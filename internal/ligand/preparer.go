package ligand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/dockpipe/internal/chem"
	"github.com/harrison/dockpipe/internal/models"
)

// DefaultPH is the pH used for protonation when none is configured.
const DefaultPH = 7.4

// MinAtomSeparation is the closest two atoms of an embedded conformer may
// be, in angstroms.
const MinAtomSeparation = 0.5

// StageHook observes every preparation stage after it finishes.
type StageHook func(stage models.Stage, elapsed time.Duration, err error)

// Preparer runs the ligand preparation pipeline.
type Preparer struct {
	Toolkit Toolkit
	Policy  Policy
	PH      float64
	Hook    StageHook
}

// NewPreparer returns a preparer with the default policy and pH.
func NewPreparer(tk Toolkit) *Preparer {
	return &Preparer{Toolkit: tk, Policy: DefaultPolicy(), PH: DefaultPH}
}

// Prepared is a ligand ready for docking.
type Prepared struct {
	Input     string
	Canonical string
	// Molecule carries explicit hydrogens, one refined conformer and
	// stereo parities.
	Molecule *chem.Molecule
	// Reference is Molecule without the hydrogens that hang off a single
	// heavy atom. Docked poses are verified against it.
	Reference *chem.Molecule
	Digest    string
	Timings   []models.StageTiming

	// UnseededEmbedding is set when the embedder did not use the seed.
	UnseededEmbedding bool
}

// Prepare validates smiles and turns it into a 3D structure. The same
// input and seed always give a bit-identical structure.
func (p *Preparer) Prepare(ctx context.Context, smiles string, seed int64) (*Prepared, error) {
	out := &Prepared{Input: smiles}
	run := func(stage models.Stage, fn func() error) error {
		start := time.Now()
		err := fn()
		elapsed := time.Since(start)
		out.Timings = append(out.Timings, models.StageTiming{Stage: stage, Duration: elapsed})
		if p.Hook != nil {
			p.Hook(stage, elapsed, err)
		}
		return err
	}

	var parsed, sanitized, protonated, embedded, refined *chem.Molecule

	err := run(models.StageCanonical, func() error {
		if err := CheckSmiles(smiles); err != nil {
			return models.NewDockError(models.KindInvalidSmiles, fmt.Sprintf("cannot parse %q", smiles), err)
		}
		canonical, err := p.Toolkit.Canonicalize(ctx, smiles)
		if err != nil {
			return wrap(ctx, models.KindInvalidSmiles, fmt.Sprintf("cannot canonicalize %q", smiles), err)
		}
		if canonical == "" {
			return models.Errorf(models.KindInvalidSmiles, "toolkit produced no canonical form for %q", smiles)
		}
		out.Canonical = canonical
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = run(models.StageParse, func() error {
		m, err := p.Toolkit.Parse(ctx, out.Canonical)
		if err != nil {
			return wrap(ctx, models.KindInvalidSmiles, fmt.Sprintf("cannot parse %q", out.Canonical), err)
		}
		if m == nil {
			return models.Errorf(models.KindInvalidSmiles, "toolkit returned no molecule for %q", out.Canonical)
		}
		if m.NumAtoms() == 0 {
			return models.Errorf(models.KindInvalidSmiles, "%q has no atoms", smiles)
		}
		parsed = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = run(models.StageSanitize, func() error {
		m, err := chem.Sanitize(parsed)
		if err != nil {
			return models.NewDockError(models.KindSanitization, "molecule failed sanitization", err)
		}
		if err := p.Policy.Check(m); err != nil {
			return err
		}
		sanitized = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = run(models.StageProtonate, func() error {
		m, err := p.Toolkit.Protonate(ctx, sanitized, p.PH)
		if err != nil {
			return wrap(ctx, models.KindSanitization, fmt.Sprintf("protonation at pH %.1f failed", p.PH), err)
		}
		if m == nil {
			return models.Errorf(models.KindSanitization, "toolkit returned no molecule after protonation")
		}
		m, err = chem.Sanitize(m)
		if err != nil {
			return models.NewDockError(models.KindSanitization, "protonated molecule failed sanitization", err)
		}
		if !chem.Isomorphic(sanitized.HeavyAtomGraph(), m.HeavyAtomGraph(), chem.MatchOptions{}) {
			return models.Errorf(models.KindSanitization, "protonation changed the heavy-atom skeleton")
		}
		if err := p.Policy.Check(m); err != nil {
			return err
		}
		protonated = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = run(models.StageEmbed, func() error {
		m, err := p.Toolkit.Embed(ctx, protonated, seed)
		if err != nil {
			return wrap(ctx, models.KindEmbedding, "conformer generation failed", err)
		}
		if err := checkGeometry(protonated, m); err != nil {
			return models.NewDockError(models.KindEmbedding, "embedded conformer rejected", err)
		}
		embedded = m
		if si, ok := p.Toolkit.(SeedIgnorer); ok && si.IgnoresSeed() {
			out.UnseededEmbedding = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = run(models.StageRefine, func() error {
		m, err := p.Toolkit.Refine(ctx, embedded)
		if err != nil {
			return wrap(ctx, models.KindEmbedding, "force field refinement failed", err)
		}
		if err := checkGeometry(protonated, m); err != nil {
			return models.NewDockError(models.KindEmbedding, "refined conformer rejected", err)
		}
		refined, err = chem.Sanitize(m)
		if err != nil {
			return models.NewDockError(models.KindEmbedding, "refined molecule failed sanitization", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = run(models.StageStereo, func() error {
		m, err := chem.AssignStereo(refined, 0)
		if err != nil {
			return models.NewDockError(models.KindEmbedding, "stereo assignment failed", err)
		}
		ref, err := chem.AssignStereo(m.RemoveHydrogens(), 0)
		if err != nil {
			return models.NewDockError(models.KindEmbedding, "stereo assignment failed", err)
		}
		digest, err := chem.Digest(m, 0)
		if err != nil {
			return models.NewDockError(models.KindEmbedding, "cannot fingerprint geometry", err)
		}
		m.Name = out.Canonical
		ref.Name = out.Canonical
		out.Molecule, out.Reference, out.Digest = m, ref, digest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// wrap tags err with kind unless it already carries one or the context
// ended, in which case the context error is what the caller needs to see.
func wrap(ctx context.Context, kind models.ErrorKind, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", msg, ctxErr)
	}
	var de *models.DockError
	if errors.As(err, &de) {
		return err
	}
	return models.NewDockError(kind, msg, err)
}

// checkGeometry verifies that got is want with exactly one sane conformer.
func checkGeometry(want, got *chem.Molecule) error {
	if got == nil {
		return errors.New("toolkit returned no molecule")
	}
	if got.NumConformers() != 1 {
		return fmt.Errorf("expected 1 conformer, got %d", got.NumConformers())
	}
	if !chem.SameConnectivity(want, got) {
		return fmt.Errorf("atoms or connectivity changed (%d atoms in, %d out)", want.NumAtoms(), got.NumAtoms())
	}
	for i := range want.Atoms {
		if want.Atoms[i].Charge != got.Atoms[i].Charge {
			return fmt.Errorf("formal charge of atom %d changed from %d to %d", i+1, want.Atoms[i].Charge, got.Atoms[i].Charge)
		}
	}
	for i, p := range got.Conformers[0] {
		if !p.IsFinite() {
			return fmt.Errorf("atom %d has non-finite coordinates", i+1)
		}
	}
	if d, i, j := chem.MinDistance(got.Conformers[0]); d >= 0 && d < MinAtomSeparation {
		return fmt.Errorf("atoms %d and %d are %.3f A apart", i+1, j+1, d)
	}
	return nil
}
