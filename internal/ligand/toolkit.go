// Package ligand turns a SMILES string into a protonated, embedded,
// refined and stereo-assigned 3D structure, validating the molecule after
// every step.
//
// The chemistry itself is delegated to a toolkit behind the capability
// interfaces below; this package only sequences the calls and gates on
// their results.
package ligand

import (
	"context"

	"github.com/harrison/dockpipe/internal/chem"
)

// Parser canonicalizes SMILES and builds molecule graphs from it.
type Parser interface {
	// Canonicalize returns the toolkit's canonical form of smiles.
	Canonicalize(ctx context.Context, smiles string) (string, error)
	// Parse builds the heavy-atom graph of smiles, without coordinates.
	Parse(ctx context.Context, smiles string) (*chem.Molecule, error)
}

// Protonator adds explicit hydrogens for the dominant state at a pH.
type Protonator interface {
	Protonate(ctx context.Context, m *chem.Molecule, pH float64) (*chem.Molecule, error)
}

// Embedder generates one 3D conformer. The same molecule and seed must
// always give the same coordinates.
type Embedder interface {
	Embed(ctx context.Context, m *chem.Molecule, seed int64) (*chem.Molecule, error)
}

// SeedIgnorer is implemented by embedders whose conformer does not depend
// on the seed.
type SeedIgnorer interface {
	IgnoresSeed() bool
}

// Refiner relaxes the geometry with a force field.
type Refiner interface {
	Refine(ctx context.Context, m *chem.Molecule) (*chem.Molecule, error)
}

// Toolkit bundles every capability the preparation pipeline needs.
type Toolkit interface {
	Parser
	Protonator
	Embedder
	Refiner
}
