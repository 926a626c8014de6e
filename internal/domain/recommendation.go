package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EngineTag identifies the engine that produced a result.
type EngineTag string

const (
	EngineAI   EngineTag = "ai"
	EngineRule EngineTag = "rule"
	EngineML   EngineTag = "ml"
)

// DefaultEngineOrder is used when the caller does not choose; ml is opt-in.
var DefaultEngineOrder = []EngineTag{EngineAI, EngineRule}

func ParseEngineTag(s string) (EngineTag, error) {
	t := EngineTag(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown engine %q", ErrInvalidParameter, s)
	}
	return t, nil
}

func (t EngineTag) Valid() bool {
	switch t {
	case EngineAI, EngineRule, EngineML:
		return true
	}
	return false
}

// Label is the provenance label used by report and export collaborators.
func (t EngineTag) Label() string {
	switch t {
	case EngineAI:
		return "ai-generated"
	case EngineRule:
		return "rule-based"
	case EngineML:
		return "ml-scored"
	}
	return "unknown"
}

// SubScores hold the 0..100 sub-scores. A nil field was not computed by the
// producing engine.
type SubScores struct {
	Growth *float64 `json:"growth"`
	Yield  *float64 `json:"yield"`
	Risk   *float64 `json:"risk"`
	Fit    *float64 `json:"fit"`
}

func Score(v float64) *float64 { return &v }

func (s SubScores) known() []float64 {
	var out []float64
	for _, p := range []*float64{s.Growth, s.Yield, s.Risk, s.Fit} {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// EngineResult is one engine's raw verdict on one suburb. Transient.
type EngineResult struct {
	SuburbKey     string
	RawScore      float64
	Rationale     string
	Contributions map[string]float64
	SubScores     SubScores
}

// Recommendation is the canonical, engine-independent output row.
type Recommendation struct {
	Suburb        SuburbRef          `json:"suburb"`
	Score         float64            `json:"score"`
	Rank          int                `json:"rank"`
	Engine        EngineTag          `json:"engine"`
	Rationale     string             `json:"rationale"`
	SubScores     SubScores          `json:"sub_scores"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
	Confidence    string             `json:"confidence,omitempty"`
}

// Confidence derives High/Medium/Low from the spread of known sub-scores.
// Fewer than two known sub-scores give no confidence level.
func (s SubScores) Confidence() string {
	vals := s.known()
	if len(vals) < 2 {
		return ""
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var variance float64
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(vals)))
	switch {
	case std < 20:
		return "High"
	case std < 40:
		return "Medium"
	default:
		return "Low"
	}
}

// RecommendationSet is a ranked result plus its provenance.
type RecommendationSet struct {
	Items          []Recommendation `json:"items"`
	EngineUsed     EngineTag        `json:"engine_used"`
	Warnings       []string         `json:"warnings,omitempty"`
	ProfileVersion int              `json:"profile_version"`
	CatalogID      string           `json:"catalog_id"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// ExportName is the base file name export collaborators use.
func (s RecommendationSet) ExportName() string {
	return fmt.Sprintf("suburb-recommendations-%s-%s", s.EngineUsed.Label(), s.GeneratedAt.UTC().Format("20060102-150405"))
}

// Clone returns a deep copy.
func (s RecommendationSet) Clone() RecommendationSet {
	out := s
	out.Warnings = append([]string(nil), s.Warnings...)
	out.Items = make([]Recommendation, len(s.Items))
	for i, r := range s.Items {
		c := r
		c.SubScores = SubScores{
			Growth: clonePtr(r.SubScores.Growth),
			Yield:  clonePtr(r.SubScores.Yield),
			Risk:   clonePtr(r.SubScores.Risk),
			Fit:    clonePtr(r.SubScores.Fit),
		}
		if r.Contributions != nil {
			c.Contributions = make(map[string]float64, len(r.Contributions))
			for k, v := range r.Contributions {
				c.Contributions[k] = v
			}
		}
		out.Items[i] = c
	}
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
