package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/saurabh2727/property-finder/internal/domain"
	"github.com/saurabh2727/property-finder/internal/matching"
)

const systemPrompt = "You are an expert property investment advisor specializing in suburb analysis and investment recommendations. " +
	"You only recommend suburbs that appear in the data table you are given and you always answer with a single JSON object."

var approachGuidance = map[domain.Approach]string{
	domain.ApproachBalanced:     "Equal weight to yield and growth potential; stable returns with moderate growth.",
	domain.ApproachGrowth:       "Prioritise capital growth; accept lower initial yields for higher appreciation.",
	domain.ApproachYield:        "Emphasise high rental returns and immediate cash flow.",
	domain.ApproachConservative: "Prefer lower risk, stable options; prioritise capital preservation.",
}

var digestColumns = []string{
	domain.MetricMedianPrice,
	domain.MetricRentalYield,
	domain.MetricGrowthRate,
	domain.MetricVacancyRate,
	domain.MetricDistanceToCBD,
	domain.MetricSchoolRating,
	domain.MetricCrimeIndex,
	domain.MetricTransportScore,
}

// BuildPrompt renders the profile and a compact catalog digest. Catalogs
// larger than digestLimit are pre-filtered so the request stays within the
// model's context budget.
func BuildPrompt(p domain.CustomerProfile, c *domain.Catalog, count, digestLimit int) Prompt {
	approach := matching.ApproachFor(p)
	profileJSON, _ := json.MarshalIndent(p, "", "  ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "INVESTMENT APPROACH: %s\nGUIDANCE: %s\nNUMBER OF RECOMMENDATIONS REQUIRED: %d\n\n", approach, approachGuidance[approach], count)
	sb.WriteString("Customer Profile:\n")
	sb.Write(profileJSON)
	sb.WriteString("\n\nAvailable Suburb Data (pipe separated, ? = unknown):\n")
	sb.WriteString(Digest(p, c, digestLimit))
	fmt.Fprintf(&sb, `
Return exactly %d recommendations as JSON, ranked by suitability:
{
  "recommended_suburbs": [
    {
      "suburb_name": "name exactly as in the table",
      "state": "state exactly as in the table",
      "score": 0-100,
      "reasons": ["reason 1", "reason 2"],
      "growth": 0-100, "yield": 0-100, "risk": 0-100, "fit": 0-100
    }
  ]
}
Only use suburbs from the table. Higher risk score means lower risk.`, count)

	return Prompt{System: systemPrompt, User: sb.String()}
}

// Digest renders the catalog as a pipe-separated table. When the catalog
// exceeds limit rows, suburbs inside the budget come first, then higher
// rental yield, and a summary line describes the full catalog.
func Digest(p domain.CustomerProfile, c *domain.Catalog, limit int) string {
	suburbs := c.Suburbs()
	var sb strings.Builder
	if limit > 0 && len(suburbs) > limit {
		sort.SliceStable(suburbs, func(i, j int) bool {
			a, b := suburbs[i], suburbs[j]
			ia := a.MedianPrice.Known && p.Budget.Contains(a.MedianPrice.Value)
			ib := b.MedianPrice.Known && p.Budget.Contains(b.MedianPrice.Value)
			if ia != ib {
				return ia
			}
			if a.RentalYield.Known != b.RentalYield.Known {
				return a.RentalYield.Known
			}
			if a.RentalYield.Value != b.RentalYield.Value {
				return a.RentalYield.Value > b.RentalYield.Value
			}
			return a.Key() < b.Key()
		})
		fmt.Fprintf(&sb, "Showing %d of %d suburbs (pre-filtered by budget and yield). %s\n", limit, len(suburbs), rangeSummary(c))
		suburbs = suburbs[:limit]
	}

	sb.WriteString("name|state|" + strings.Join(digestColumns, "|") + "\n")
	for _, s := range suburbs {
		sb.WriteString(s.Name)
		sb.WriteString("|")
		sb.WriteString(s.State)
		for _, col := range digestColumns {
			m, _ := s.Metric(col)
			sb.WriteString("|")
			if m.Known {
				fmt.Fprintf(&sb, "%g", m.Value)
			} else {
				sb.WriteString("?")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func rangeSummary(c *domain.Catalog) string {
	var parts []string
	for _, name := range []string{domain.MetricMedianPrice, domain.MetricRentalYield, domain.MetricGrowthRate} {
		spec, _ := domain.LookupMetric(name)
		if lo, hi, ok := c.Range(spec); ok {
			parts = append(parts, fmt.Sprintf("%s %g-%g", name, lo, hi))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Full catalog ranges: " + strings.Join(parts, ", ") + "."
}
