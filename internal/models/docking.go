// Package models holds the value types shared across the docking pipeline:
// search boxes, requests, results and the error taxonomy.
package models

import (
	"fmt"
	"time"
)

// DefaultSeed is the engine seed used when the caller does not supply one.
const DefaultSeed int64 = 974528263

// SearchBox is the region of the receptor explored by the docking engine.
type SearchBox struct {
	CenterX float64 `yaml:"center_x" json:"center_x"`
	CenterY float64 `yaml:"center_y" json:"center_y"`
	CenterZ float64 `yaml:"center_z" json:"center_z"`
	SizeX   float64 `yaml:"size_x" json:"size_x"`
	SizeY   float64 `yaml:"size_y" json:"size_y"`
	SizeZ   float64 `yaml:"size_z" json:"size_z"`

	// Extra holds any other key = value settings found in the config file.
	Extra map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Volume returns the box volume in cubic angstroms.
func (b SearchBox) Volume() float64 {
	return b.SizeX * b.SizeY * b.SizeZ
}

// Contains reports whether the point lies inside the box (inclusive).
func (b SearchBox) Contains(x, y, z float64) bool {
	return within(x, b.CenterX, b.SizeX) && within(y, b.CenterY, b.SizeY) && within(z, b.CenterZ, b.SizeZ)
}

func within(v, center, size float64) bool {
	half := size / 2
	return v >= center-half && v <= center+half
}

// String formats the box the way it appears in engine config files.
func (b SearchBox) String() string {
	return fmt.Sprintf("center=(%.3f, %.3f, %.3f) size=(%.3f, %.3f, %.3f)",
		b.CenterX, b.CenterY, b.CenterZ, b.SizeX, b.SizeY, b.SizeZ)
}

// DockRequest is a single docking job.
type DockRequest struct {
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Target    string `yaml:"target" json:"target"`
	Smiles    string `yaml:"smiles" json:"smiles"`
	Canonical string `yaml:"-" json:"canonical,omitempty"`
	Seed      int64  `yaml:"seed,omitempty" json:"seed"`
	CPUs      int    `yaml:"cpus,omitempty" json:"cpus,omitempty"`
}

// Stage names a step of the docking pipeline.
type Stage string

const (
	StageResolve     Stage = "resolve"
	StageCanonical   Stage = "canonicalize"
	StageParse       Stage = "parse"
	StageSanitize    Stage = "sanitize"
	StageProtonate   Stage = "protonate"
	StageEmbed       Stage = "embed"
	StageRefine      Stage = "refine"
	StageStereo      Stage = "stereo"
	StageConvert     Stage = "convert"
	StageEngine      Stage = "engine"
	StageReconstruct Stage = "reconstruct"
	StageVerify      Stage = "verify"
	StageScores      Stage = "scores"
)

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Pose is one ranked binding pose.
type Pose struct {
	Rank  int     `json:"rank"`
	Score float64 `json:"score"`
}

// DockResult summarises a successful docking request.
type DockResult struct {
	RunID     string        `json:"run_id"`
	Request   DockRequest   `json:"request"`
	Best      float64       `json:"best_score"`
	Poses     []Pose        `json:"poses"`
	Digest    string        `json:"geometry_digest"`
	Formula   string        `json:"formula"`
	Timings   []StageTiming `json:"timings,omitempty"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`

	// UnseededEmbedding marks a starting conformer built without the seed.
	UnseededEmbedding bool `json:"unseeded_embedding,omitempty"`
}

// Scores returns the pose scores in rank order.
func (r *DockResult) Scores() []float64 {
	scores := make([]float64, len(r.Poses))
	for i, p := range r.Poses {
		scores[i] = p.Score
	}
	return scores
}

// PosesFromScores ranks scores in the order they were reported.
func PosesFromScores(scores []float64) []Pose {
	poses := make([]Pose, len(scores))
	for i, s := range scores {
		poses[i] = Pose{Rank: i + 1, Score: s}
	}
	return poses
}
