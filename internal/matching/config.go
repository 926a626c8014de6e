package matching

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// DefaultWeights returns the balanced preset.
func DefaultWeights() domain.Weights {
	return ApproachWeights(domain.ApproachBalanced)
}

// ApproachWeights returns the preset sub-score weights of an approach.
func ApproachWeights(a domain.Approach) domain.Weights {
	switch a {
	case domain.ApproachGrowth:
		return domain.Weights{Growth: 0.5, Yield: 0.2, Risk: 0.15, Fit: 0.15}
	case domain.ApproachYield:
		return domain.Weights{Growth: 0.2, Yield: 0.5, Risk: 0.15, Fit: 0.15}
	case domain.ApproachConservative:
		return domain.Weights{Growth: 0.2, Yield: 0.25, Risk: 0.4, Fit: 0.15}
	default:
		return domain.Weights{Growth: 0.3, Yield: 0.3, Risk: 0.2, Fit: 0.2}
	}
}

// ApproachFor picks the profile's approach, deriving it from risk tolerance
// when none was chosen.
func ApproachFor(p domain.CustomerProfile) domain.Approach {
	if p.Approach.Valid() {
		return p.Approach
	}
	switch p.RiskTolerance {
	case domain.RiskLow:
		return domain.ApproachConservative
	case domain.RiskHigh:
		return domain.ApproachGrowth
	default:
		return domain.ApproachBalanced
	}
}

// LoadWeightsFromFile loads weights from JSON file, falling back to defaults on file read errors.
func LoadWeightsFromFile(path string) (domain.Weights, error) {
	w := DefaultWeights()
	b, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("read weights file: %w", err)
	}
	var loaded domain.Weights
	if err := json.Unmarshal(b, &loaded); err != nil {
		return w, fmt.Errorf("unmarshal weights: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return w, fmt.Errorf("weights file %s: %w", path, err)
	}
	return loaded, nil
}

// NewEngineFromFile builds a rule engine with operator weights from path.
// Without a path, or when the file cannot be used, the engine picks weights
// per profile from its risk tolerance; a non-nil error reports why.
func NewEngineFromFile(path string) (*Engine, error) {
	if path == "" {
		return NewEngine(nil), nil
	}
	w, err := LoadWeightsFromFile(path)
	if err != nil {
		return NewEngine(nil), err
	}
	return NewEngine(&w), nil
}
