package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// ErrMalformedResponse is returned when the reply holds no usable JSON.
var ErrMalformedResponse = errors.New("malformed ai response")

type aiReply struct {
	RecommendedSuburbs []aiSuburb `json:"recommended_suburbs"`
}

type aiSuburb struct {
	SuburbName string          `json:"suburb_name"`
	State      string          `json:"state"`
	Score      json.RawMessage `json:"score"`
	Reasons    []string        `json:"reasons"`
	Rationale  string          `json:"rationale"`
	Growth     json.RawMessage `json:"growth"`
	Yield      json.RawMessage `json:"yield"`
	Risk       json.RawMessage `json:"risk"`
	Fit        json.RawMessage `json:"fit"`
}

// parseReply decodes the model reply strictly against the catalog. Suburbs
// not in the catalog, duplicates and rows without a usable score are dropped
// with a warning; nothing is invented.
func parseReply(text string, c *domain.Catalog) ([]domain.EngineResult, []string, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	var reply aiReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	byName := nameIndex(c)
	seen := make(map[string]bool, len(reply.RecommendedSuburbs))
	var out []domain.EngineResult
	var warnings []string

	for i, row := range reply.RecommendedSuburbs {
		name := strings.TrimSpace(row.SuburbName)
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("ai: row %d has no suburb name, dropped", i+1))
			continue
		}
		rec, ok := resolve(c, byName, name, row.State)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("ai: suburb %q is not in the catalog, dropped", name))
			continue
		}
		if seen[rec.Key()] {
			warnings = append(warnings, fmt.Sprintf("ai: duplicate suburb %s, dropped", rec.Label()))
			continue
		}
		score, ok := parseNumber(row.Score)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("ai: suburb %s has no usable score, dropped", rec.Label()))
			continue
		}
		seen[rec.Key()] = true

		rationale := strings.TrimSpace(row.Rationale)
		if len(row.Reasons) > 0 {
			rationale = strings.Join(row.Reasons, "; ")
		}
		out = append(out, domain.EngineResult{
			SuburbKey: rec.Key(),
			RawScore:  score,
			Rationale: rationale,
			SubScores: domain.SubScores{
				Growth: subScore(row.Growth),
				Yield:  subScore(row.Yield),
				Risk:   subScore(row.Risk),
				Fit:    subScore(row.Fit),
			},
		})
	}
	return out, warnings, nil
}

// extractJSON returns the outermost {...} span, tolerating prose or code
// fences around it.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func nameIndex(c *domain.Catalog) map[string][]domain.SuburbRecord {
	idx := make(map[string][]domain.SuburbRecord, c.Len())
	for i := 0; i < c.Len(); i++ {
		s := c.At(i)
		k := strings.ToLower(s.Name)
		idx[k] = append(idx[k], s)
	}
	return idx
}

// resolve matches on name+state, or on name alone when the name is unique
// in the catalog.
func resolve(c *domain.Catalog, byName map[string][]domain.SuburbRecord, name, state string) (domain.SuburbRecord, bool) {
	if strings.TrimSpace(state) != "" {
		return c.Lookup(domain.SuburbKey(name, state))
	}
	matches := byName[strings.ToLower(name)]
	if len(matches) != 1 {
		return domain.SuburbRecord{}, false
	}
	return matches[0], true
}

// parseNumber accepts 87, 87.5, "87", "87/100" and "87%".
func parseNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, finite(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "/%"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, finite(f)
}

// subScore keeps only values on the canonical 0..100 scale.
func subScore(raw json.RawMessage) *float64 {
	f, ok := parseNumber(raw)
	if !ok || f < 0 || f > 100 {
		return nil
	}
	return domain.Score(f)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
