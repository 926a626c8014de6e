package recommend

import (
	"fmt"
	"math"
	"sort"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// neutralScore is assigned to every row when a batch has no score spread.
const neutralScore = 50.0

// Normalize maps one engine's raw batch onto the canonical schema. Raw
// scores are min-max rescaled to 0..100 within the batch, rows are ordered
// by score, then rental yield (unknown last), then name and state, and ranks
// 1..n are assigned. Rows that reference unknown suburbs, repeat a suburb or
// carry a non-finite score are dropped with a warning.
func Normalize(tag domain.EngineTag, results []domain.EngineResult, catalog *domain.Catalog) ([]domain.Recommendation, []string) {
	type row struct {
		rec    domain.SuburbRecord
		result domain.EngineResult
	}

	var warnings []string
	rows := make([]row, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		rec, ok := catalog.Lookup(r.SuburbKey)
		switch {
		case !ok:
			warnings = append(warnings, fmt.Sprintf("%s: result for unknown suburb %q dropped", tag, r.SuburbKey))
			continue
		case seen[rec.Key()]:
			warnings = append(warnings, fmt.Sprintf("%s: duplicate result for %s dropped", tag, rec.Label()))
			continue
		case math.IsNaN(r.RawScore) || math.IsInf(r.RawScore, 0):
			warnings = append(warnings, fmt.Sprintf("%s: non-numeric score for %s dropped", tag, rec.Label()))
			continue
		}
		seen[rec.Key()] = true
		rows = append(rows, row{rec: rec, result: r})
	}
	if len(rows) == 0 {
		return nil, warnings
	}

	lo, hi := rows[0].result.RawScore, rows[0].result.RawScore
	for _, r := range rows[1:] {
		lo = math.Min(lo, r.result.RawScore)
		hi = math.Max(hi, r.result.RawScore)
	}

	out := make([]domain.Recommendation, len(rows))
	yields := make(map[string]domain.Metric, len(rows))
	for i, r := range rows {
		score := neutralScore
		if hi > lo {
			score = (r.result.RawScore - lo) / (hi - lo) * 100
		}
		out[i] = domain.Recommendation{
			Suburb:        r.rec.Ref(),
			Score:         score,
			Engine:        tag,
			Rationale:     r.result.Rationale,
			SubScores:     r.result.SubScores,
			Contributions: r.result.Contributions,
			Confidence:    r.result.SubScores.Confidence(),
		}
		yields[r.rec.Key()] = r.rec.RentalYield
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ya, yb := yields[a.Suburb.Key()], yields[b.Suburb.Key()]
		if ya.Known != yb.Known {
			return ya.Known
		}
		if ya.Value != yb.Value {
			return ya.Value > yb.Value
		}
		if a.Suburb.Name != b.Suburb.Name {
			return a.Suburb.Name < b.Suburb.Name
		}
		return a.Suburb.State < b.Suburb.State
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, warnings
}

// Top keeps the first n ranked recommendations. Ranks stay contiguous.
func Top(recs []domain.Recommendation, n int) []domain.Recommendation {
	if n < len(recs) {
		recs = recs[:n]
	}
	return recs
}
