package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// neutral is the sub-score given when a metric cannot discriminate: the
// suburb's value is unknown or the metric has zero range across the catalog.
const neutral = 50.0

// Engine is the deterministic rule-based scorer. It never calls out and
// always scores every suburb in the catalog.
type Engine struct {
	weights    domain.Weights
	configured bool
}

// NewEngine builds a rule engine. Weights loaded from configuration are used
// for profiles that chose neither explicit weights nor an approach.
func NewEngine(w *domain.Weights) *Engine {
	if w == nil {
		return &Engine{}
	}
	return &Engine{weights: *w, configured: true}
}

func (e *Engine) Tag() domain.EngineTag { return domain.EngineRule }

// ResolveWeights applies precedence: request override, profile weights,
// profile approach, configured defaults, risk-tolerance preset.
func (e *Engine) ResolveWeights(p domain.CustomerProfile, override *domain.Weights) (domain.Weights, error) {
	var w domain.Weights
	switch {
	case override != nil:
		w = *override
	case p.Weights != nil:
		w = *p.Weights
	case p.Approach.Valid():
		w = ApproachWeights(p.Approach)
	case e.configured:
		w = e.weights
	default:
		w = ApproachWeights(ApproachFor(p))
	}
	if err := w.Validate(); err != nil {
		return domain.Weights{}, err
	}
	return w, nil
}

// Score computes growth, yield, risk and fit sub-scores against the whole
// catalog and combines them into a 0..100 composite.
func (e *Engine) Score(ctx context.Context, req domain.ScoreRequest) (domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return domain.Batch{}, err
	}
	w, err := e.ResolveWeights(req.Profile, req.Weights)
	if err != nil {
		return domain.Batch{}, err
	}
	if req.Catalog.Len() == 0 {
		return domain.Batch{}, fmt.Errorf("%w: empty catalog", domain.ErrInvalidParameter)
	}

	n := newNormalizer(req.Catalog)
	fitWeights := lifestyleWeights(req.Profile)

	out := make([]domain.EngineResult, 0, req.Catalog.Len())
	for i := 0; i < req.Catalog.Len(); i++ {
		s := req.Catalog.At(i)

		growth := n.scale(domain.MetricGrowthRate, s)
		yield := n.scale(domain.MetricRentalYield, s)
		risk := 100 - (n.scale(domain.MetricVacancyRate, s)+n.scale(domain.MetricCrimeIndex, s))/2
		fit := fitScore(n, s, fitWeights)

		contrib := map[string]float64{
			"growth": w.Growth * growth,
			"yield":  w.Yield * yield,
			"risk":   w.Risk * risk,
			"fit":    w.Fit * fit,
		}
		composite := contrib["growth"] + contrib["yield"] + contrib["risk"] + contrib["fit"]

		out = append(out, domain.EngineResult{
			SuburbKey:     s.Key(),
			RawScore:      clamp(composite, 0, 100),
			Rationale:     rationale(req.Profile, s, growth, yield, risk, fit, contrib),
			Contributions: contrib,
			SubScores: domain.SubScores{
				Growth: domain.Score(growth),
				Yield:  domain.Score(yield),
				Risk:   domain.Score(risk),
				Fit:    domain.Score(fit),
			},
		})
	}
	return domain.Batch{Results: out}, nil
}

type metricRange struct {
	lo, hi float64
	ok     bool
}

// normalizer min-max scales metrics against the full catalog.
type normalizer struct {
	ranges map[string]metricRange
}

func newNormalizer(c *domain.Catalog) normalizer {
	n := normalizer{ranges: make(map[string]metricRange, len(domain.MetricSpecs))}
	for _, spec := range domain.MetricSpecs {
		lo, hi, ok := c.Range(spec)
		n.ranges[spec.Name] = metricRange{lo: lo, hi: hi, ok: ok}
	}
	return n
}

func (n normalizer) scale(metric string, s domain.SuburbRecord) float64 {
	m, _ := s.Metric(metric)
	r := n.ranges[metric]
	if !m.Known || !r.ok || r.hi == r.lo {
		return neutral
	}
	return clamp((m.Value-r.lo)/(r.hi-r.lo)*100, 0, 100)
}

type fitFactor struct {
	key    string
	weight float64
}

func lifestyleWeights(p domain.CustomerProfile) []fitFactor {
	factors := []fitFactor{
		{domain.LifestyleCBDProximity, p.LifestyleWeights[domain.LifestyleCBDProximity]},
		{domain.LifestyleSchools, p.LifestyleWeights[domain.LifestyleSchools]},
		{domain.LifestyleTransport, p.LifestyleWeights[domain.LifestyleTransport]},
	}
	var sum float64
	for _, f := range factors {
		sum += f.weight
	}
	// Client expressed no lifestyle preference: weigh factors equally.
	if sum <= 0 {
		for i := range factors {
			factors[i].weight = 1
		}
	}
	return factors
}

func fitScore(n normalizer, s domain.SuburbRecord, factors []fitFactor) float64 {
	var sumW, sum float64
	for _, f := range factors {
		if f.weight <= 0 {
			continue
		}
		var v float64
		switch f.key {
		case domain.LifestyleCBDProximity:
			// closer is better
			v = 100 - n.scale(domain.MetricDistanceToCBD, s)
		case domain.LifestyleSchools:
			v = n.scale(domain.MetricSchoolRating, s)
		case domain.LifestyleTransport:
			v = n.scale(domain.MetricTransportScore, s)
		}
		sumW += f.weight
		sum += f.weight * v
	}
	if sumW <= 0 {
		return neutral
	}
	return sum / sumW
}

func rationale(p domain.CustomerProfile, s domain.SuburbRecord, growth, yield, risk, fit float64, contrib map[string]float64) string {
	type part struct {
		key    string
		impact float64
		msg    string
	}
	parts := []part{
		{"growth", contrib["growth"], reasonMessage("growth", growth/100)},
		{"yield", contrib["yield"], reasonMessage("yield", yield/100)},
		{"risk", contrib["risk"], reasonMessage("low risk", risk/100)},
		{"fit", contrib["fit"], reasonMessage("lifestyle fit", fit/100)},
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].impact > parts[j].impact })

	msgs := make([]string, 0, len(parts)+2)
	for _, pt := range parts {
		msgs = append(msgs, pt.msg)
	}
	switch {
	case !s.MedianPrice.Known:
		msgs = append(msgs, "median price unknown")
	case p.Budget.Contains(s.MedianPrice.Value):
		msgs = append(msgs, "median price within budget")
	default:
		msgs = append(msgs, "median price outside budget")
	}
	if s.RentalYield.Known && p.TargetYield > 0 {
		if s.RentalYield.Value >= p.TargetYield {
			msgs = append(msgs, fmt.Sprintf("yield %.1f%% meets %.1f%% target", s.RentalYield.Value, p.TargetYield))
		} else {
			msgs = append(msgs, fmt.Sprintf("yield %.1f%% below %.1f%% target", s.RentalYield.Value, p.TargetYield))
		}
	}
	return strings.Join(msgs, "; ")
}

func reasonMessage(label string, v float64) string {
	switch {
	case v >= 0.8:
		return label + ": strong match"
	case v >= 0.6:
		return label + ": good"
	case v >= 0.4:
		return label + ": mixed"
	default:
		return label + ": weak"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
