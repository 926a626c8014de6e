package domain

import "context"

// ScoreRequest is the input every engine receives.
type ScoreRequest struct {
	Profile CustomerProfile
	Catalog *Catalog
	Count   int
	// Weights overrides the profile-derived sub-score weights when set.
	Weights *Weights
}

// Batch is an engine's raw output plus non-fatal notes (e.g. AI rows
// dropped during parsing).
type Batch struct {
	Results  []EngineResult
	Warnings []string
}

// Engine scores a catalog for a profile. Implementations are stateless
// across calls.
type Engine interface {
	Tag() EngineTag
	Score(ctx context.Context, req ScoreRequest) (Batch, error)
}
