package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// ErrModelMissing is returned when no trained model artifact is loaded.
var ErrModelMissing = errors.New("ml model artifact not loaded")

// Feature is one standardized input of the linear model.
type Feature struct {
	Metric string  `json:"metric"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Weight float64 `json:"weight"`
}

// Model is a linear model over standardized suburb metrics, trained by an
// external collaborator and delivered as a JSON artifact.
type Model struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Intercept float64   `json:"intercept"`
	Features  []Feature `json:"features"`
}

// LoadModel reads and validates a model artifact.
func LoadModel(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal model artifact: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return &m, nil
}

func (m *Model) Validate() error {
	if len(m.Features) == 0 {
		return errors.New("no features")
	}
	seen := make(map[string]bool, len(m.Features))
	for _, f := range m.Features {
		if _, ok := domain.LookupMetric(f.Metric); !ok {
			return fmt.Errorf("unknown feature metric %q", f.Metric)
		}
		if seen[f.Metric] {
			return fmt.Errorf("duplicate feature %q", f.Metric)
		}
		seen[f.Metric] = true
		if !(f.Std > 0) || math.IsInf(f.Std, 0) {
			return fmt.Errorf("feature %q: std must be positive", f.Metric)
		}
		if math.IsNaN(f.Weight) || math.IsNaN(f.Mean) {
			return fmt.Errorf("feature %q: NaN parameter", f.Metric)
		}
	}
	return nil
}

// Predict returns the model output and each feature's contribution. An
// unknown metric is imputed at the training mean, so it contributes exactly
// zero; imputed lists those features.
func (m *Model) Predict(s domain.SuburbRecord) (score float64, contrib map[string]float64, imputed []string) {
	score = m.Intercept
	contrib = make(map[string]float64, len(m.Features))
	for _, f := range m.Features {
		v, _ := s.Metric(f.Metric)
		if !v.Known {
			contrib[f.Metric] = 0
			imputed = append(imputed, f.Metric)
			continue
		}
		c := f.Weight * (v.Value - f.Mean) / f.Std
		contrib[f.Metric] = c
		score += c
	}
	return score, contrib, imputed
}
