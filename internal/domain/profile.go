package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

func (r RiskTolerance) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Approach selects a preset weighting of the four sub-scores.
type Approach string

const (
	ApproachBalanced     Approach = "balanced"
	ApproachGrowth       Approach = "growth"
	ApproachYield        Approach = "yield"
	ApproachConservative Approach = "conservative"
)

func (a Approach) Valid() bool {
	switch a {
	case ApproachBalanced, ApproachGrowth, ApproachYield, ApproachConservative:
		return true
	}
	return false
}

// Lifestyle factor keys understood by the rule engine's fit sub-score.
const (
	LifestyleCBDProximity = "proximity_to_cbd"
	LifestyleSchools      = "school_quality"
	LifestyleTransport    = "transport_access"
)

type BudgetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"` // 0 means no upper bound
}

// Contains reports whether price is inside the range.
func (b BudgetRange) Contains(price float64) bool {
	if price < b.Min {
		return false
	}
	return b.Max <= 0 || price <= b.Max
}

type CustomerProfile struct {
	Name             string             `json:"name"`
	Budget           BudgetRange        `json:"budget"`
	TargetYield      float64            `json:"target_yield"`
	RiskTolerance    RiskTolerance      `json:"risk_tolerance"`
	HorizonYears     int                `json:"horizon_years"`
	PropertyTypes    []string           `json:"property_types,omitempty"`
	LifestyleWeights map[string]float64 `json:"lifestyle_weights,omitempty"`
	Approach         Approach           `json:"approach,omitempty"`
	Weights          *Weights           `json:"weights,omitempty"`
}

func (p CustomerProfile) Validate() error {
	if p.Budget.Min < 0 || p.Budget.Max < 0 {
		return fmt.Errorf("%w: budget must not be negative", ErrInvalidParameter)
	}
	if p.Budget.Max > 0 && p.Budget.Max < p.Budget.Min {
		return fmt.Errorf("%w: budget max %.0f below min %.0f", ErrInvalidParameter, p.Budget.Max, p.Budget.Min)
	}
	if p.TargetYield < 0 || p.TargetYield > 30 {
		return fmt.Errorf("%w: target yield %.2f outside [0, 30]", ErrInvalidParameter, p.TargetYield)
	}
	if !p.RiskTolerance.Valid() {
		return fmt.Errorf("%w: risk tolerance %q", ErrInvalidParameter, p.RiskTolerance)
	}
	if p.HorizonYears < 0 {
		return fmt.Errorf("%w: horizon must not be negative", ErrInvalidParameter)
	}
	for k, v := range p.LifestyleWeights {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: lifestyle weight %q=%v outside [0, 1]", ErrInvalidParameter, k, v)
		}
	}
	if p.Approach != "" && !p.Approach.Valid() {
		return fmt.Errorf("%w: approach %q", ErrInvalidParameter, p.Approach)
	}
	if p.Weights != nil {
		if err := p.Weights.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MateriallyDiffers reports a change to budget, target yield or risk
// tolerance, the fields whose change invalidates computed recommendations.
func (p CustomerProfile) MateriallyDiffers(other CustomerProfile) bool {
	return p.Budget != other.Budget ||
		p.TargetYield != other.TargetYield ||
		p.RiskTolerance != other.RiskTolerance
}

// Clone returns a deep copy.
func (p CustomerProfile) Clone() CustomerProfile {
	out := p
	if p.PropertyTypes != nil {
		out.PropertyTypes = append([]string(nil), p.PropertyTypes...)
	}
	if p.LifestyleWeights != nil {
		out.LifestyleWeights = make(map[string]float64, len(p.LifestyleWeights))
		for k, v := range p.LifestyleWeights {
			out.LifestyleWeights[k] = v
		}
	}
	if p.Weights != nil {
		w := *p.Weights
		out.Weights = &w
	}
	return out
}

// Summary is a one-line description used in logs and prompts.
func (p CustomerProfile) Summary() string {
	types := append([]string(nil), p.PropertyTypes...)
	sort.Strings(types)
	budget := fmt.Sprintf("$%.0f+", p.Budget.Min)
	if p.Budget.Max > 0 {
		budget = fmt.Sprintf("$%.0f-$%.0f", p.Budget.Min, p.Budget.Max)
	}
	return fmt.Sprintf("budget %s, target yield %.1f%%, %s risk, %dy horizon, types [%s]",
		budget, p.TargetYield, p.RiskTolerance, p.HorizonYears, strings.Join(types, ", "))
}

// WeightTolerance is how far the sub-score weights may drift from 1.0.
const WeightTolerance = 0.01

// Weights are the composite coefficients of the four sub-scores.
type Weights struct {
	Growth float64 `json:"growth"`
	Yield  float64 `json:"yield"`
	Risk   float64 `json:"risk"`
	Fit    float64 `json:"fit"`
}

func (w Weights) Sum() float64 { return w.Growth + w.Yield + w.Risk + w.Fit }

func (w Weights) Validate() error {
	for _, v := range []float64{w.Growth, w.Yield, w.Risk, w.Fit} {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%w: negative or NaN component in %+v", ErrInvalidWeights, w)
		}
	}
	if math.Abs(w.Sum()-1) > WeightTolerance {
		return fmt.Errorf("%w: sum %.4f, want 1.0±%.2f", ErrInvalidWeights, w.Sum(), WeightTolerance)
	}
	return nil
}
