package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Metric is a suburb measurement that may be unknown. An unknown metric is
// never treated as zero; it encodes as JSON null.
type Metric struct {
	Value float64
	Known bool
}

// Known wraps a measured value.
func Known(v float64) Metric { return Metric{Value: v, Known: true} }

// Unknown is the explicit "not measured" sentinel.
func Unknown() Metric { return Metric{} }

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Known {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*m = Unknown()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("metric: %w", err)
	}
	*m = Known(v)
	return nil
}

func (m Metric) String() string {
	if !m.Known {
		return "unknown"
	}
	return fmt.Sprintf("%g", m.Value)
}

// MetricSpec describes one suburb metric and its valid range.
type MetricSpec struct {
	Name string
	Min  float64
	Max  float64
	Get  func(SuburbRecord) Metric
}

// Metric names used by feature sets and the AI digest.
const (
	MetricMedianPrice    = "median_price"
	MetricRentalYield    = "rental_yield"
	MetricDistanceToCBD  = "distance_to_cbd_km"
	MetricVacancyRate    = "vacancy_rate"
	MetricGrowthRate     = "growth_rate"
	MetricSchoolRating   = "school_rating"
	MetricCrimeIndex     = "crime_index"
	MetricTransportScore = "transport_score"
)

// MetricSpecs lists every suburb metric in catalog column order.
var MetricSpecs = []MetricSpec{
	{MetricMedianPrice, 0, 100_000_000, func(s SuburbRecord) Metric { return s.MedianPrice }},
	{MetricRentalYield, 0, 30, func(s SuburbRecord) Metric { return s.RentalYield }},
	{MetricDistanceToCBD, 0, 2000, func(s SuburbRecord) Metric { return s.DistanceToCBD }},
	{MetricVacancyRate, 0, 100, func(s SuburbRecord) Metric { return s.VacancyRate }},
	{MetricGrowthRate, -50, 100, func(s SuburbRecord) Metric { return s.GrowthRate }},
	{MetricSchoolRating, 0, 10, func(s SuburbRecord) Metric { return s.SchoolRating }},
	{MetricCrimeIndex, 0, 100, func(s SuburbRecord) Metric { return s.CrimeIndex }},
	{MetricTransportScore, 0, 100, func(s SuburbRecord) Metric { return s.TransportScore }},
}

// LookupMetric returns the spec registered under name.
func LookupMetric(name string) (MetricSpec, bool) {
	for _, spec := range MetricSpecs {
		if spec.Name == name {
			return spec, true
		}
	}
	return MetricSpec{}, false
}

func (spec MetricSpec) validate(m Metric) error {
	if !m.Known {
		return nil
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("%s: not a finite number", spec.Name)
	}
	if m.Value < spec.Min || m.Value > spec.Max {
		return fmt.Errorf("%s: %g outside [%g, %g]", spec.Name, m.Value, spec.Min, spec.Max)
	}
	return nil
}
