package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

type SuburbRecord struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	MedianPrice    Metric `json:"median_price"`
	RentalYield    Metric `json:"rental_yield"`
	DistanceToCBD  Metric `json:"distance_to_cbd_km"`
	VacancyRate    Metric `json:"vacancy_rate"`
	GrowthRate     Metric `json:"growth_rate"`
	SchoolRating   Metric `json:"school_rating"`
	CrimeIndex     Metric `json:"crime_index"`
	TransportScore Metric `json:"transport_score"`
}

// SuburbKey builds the case-insensitive unique key for a name+state pair.
func SuburbKey(name, state string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(state))
}

func (s SuburbRecord) Key() string { return SuburbKey(s.Name, s.State) }

func (s SuburbRecord) Ref() SuburbRef {
	return SuburbRef{Name: s.Name, State: s.State}
}

// Label is the display form, e.g. "Paddington (NSW)".
func (s SuburbRecord) Label() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.State)
}

// Metric returns the named metric of the suburb.
func (s SuburbRecord) Metric(name string) (Metric, bool) {
	spec, ok := LookupMetric(name)
	if !ok {
		return Metric{}, false
	}
	return spec.Get(s), true
}

func (s SuburbRecord) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("suburb name is required")
	}
	if strings.TrimSpace(s.State) == "" {
		return fmt.Errorf("suburb %q: state is required", s.Name)
	}
	for _, spec := range MetricSpecs {
		if err := spec.validate(spec.Get(s)); err != nil {
			return fmt.Errorf("suburb %s: %w", s.Label(), err)
		}
	}
	return nil
}

// SuburbRef points at a catalog entry.
type SuburbRef struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

func (r SuburbRef) Key() string { return SuburbKey(r.Name, r.State) }

// Catalog is an immutable, validated table of candidate suburbs. Its ID is
// derived from the content so snapshots can reference it by value.
type Catalog struct {
	id      string
	suburbs []SuburbRecord
	index   map[string]int
}

// NewCatalog validates records and builds a catalog. An empty record set is
// a valid (if useless) catalog; engines decide how to treat it.
func NewCatalog(records []SuburbRecord) (*Catalog, error) {
	c := &Catalog{
		suburbs: make([]SuburbRecord, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}
	for _, r := range records {
		r.Name = strings.TrimSpace(r.Name)
		r.State = strings.ToUpper(strings.TrimSpace(r.State))
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		if _, dup := c.index[r.Key()]; dup {
			return nil, fmt.Errorf("%w: duplicate suburb %s", ErrInvalidParameter, r.Label())
		}
		c.index[r.Key()] = len(c.suburbs)
		c.suburbs = append(c.suburbs, r)
	}
	b, err := json.Marshal(c.suburbs)
	if err != nil {
		return nil, fmt.Errorf("catalog: encode: %w", err)
	}
	sum := sha256.Sum256(b)
	c.id = "cat-" + hex.EncodeToString(sum[:12])
	return c, nil
}

func (c *Catalog) ID() string {
	if c == nil {
		return ""
	}
	return c.id
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.suburbs)
}

func (c *Catalog) At(i int) SuburbRecord { return c.suburbs[i] }

// Suburbs returns a copy of the records in catalog order.
func (c *Catalog) Suburbs() []SuburbRecord {
	if c == nil {
		return nil
	}
	out := make([]SuburbRecord, len(c.suburbs))
	copy(out, c.suburbs)
	return out
}

func (c *Catalog) Lookup(key string) (SuburbRecord, bool) {
	if c == nil {
		return SuburbRecord{}, false
	}
	i, ok := c.index[key]
	if !ok {
		return SuburbRecord{}, false
	}
	return c.suburbs[i], true
}

// Range returns the min and max of the known values of a metric across the
// catalog. ok is false when no suburb has the metric.
func (c *Catalog) Range(spec MetricSpec) (lo, hi float64, ok bool) {
	for _, s := range c.suburbs {
		m := spec.Get(s)
		if !m.Known {
			continue
		}
		if !ok {
			lo, hi, ok = m.Value, m.Value, true
			continue
		}
		if m.Value < lo {
			lo = m.Value
		}
		if m.Value > hi {
			hi = m.Value
		}
	}
	return lo, hi, ok
}

func (c *Catalog) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	return json.Marshal(c.suburbs)
}

func (c *Catalog) UnmarshalJSON(b []byte) error {
	var records []SuburbRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	parsed, err := NewCatalog(records)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}
