package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/saurabh2727/property-finder/internal/domain"
)

func testProfile() domain.CustomerProfile {
	return domain.CustomerProfile{
		Budget:        domain.BudgetRange{Min: 400000, Max: 900000},
		TargetYield:   4,
		RiskTolerance: domain.RiskMedium,
		HorizonYears:  10,
		LifestyleWeights: map[string]float64{
			domain.LifestyleSchools:   0.7,
			domain.LifestyleTransport: 0.3,
		},
	}
}

// twentySuburbs builds a catalog where growth and yield spread linearly from
// suburb 00 (lowest) to suburb 19 (highest) and every other metric is equal.
func twentySuburbs(t *testing.T) *domain.Catalog {
	t.Helper()
	recs := make([]domain.SuburbRecord, 0, 20)
	for i := 0; i < 20; i++ {
		recs = append(recs, domain.SuburbRecord{
			Name:           fmt.Sprintf("Suburb %02d", i),
			State:          "QLD",
			MedianPrice:    domain.Known(600000),
			RentalYield:    domain.Known(3 + float64(i)*0.2),
			DistanceToCBD:  domain.Known(15),
			VacancyRate:    domain.Known(1.5),
			GrowthRate:     domain.Known(2 + float64(i)*0.5),
			SchoolRating:   domain.Known(7),
			CrimeIndex:     domain.Known(30),
			TransportScore: domain.Known(60),
		})
	}
	c, err := domain.NewCatalog(recs)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func resultFor(t *testing.T, b domain.Batch, name string) domain.EngineResult {
	t.Helper()
	key := domain.SuburbKey(name, "QLD")
	for _, r := range b.Results {
		if r.SuburbKey == key {
			return r
		}
	}
	t.Fatalf("no result for %s", name)
	return domain.EngineResult{}
}

func TestScore_ReturnsEverySuburb(t *testing.T) {
	t.Parallel()

	c := twentySuburbs(t)
	b, err := NewEngine(nil).Score(context.Background(), domain.ScoreRequest{Profile: testProfile(), Catalog: c, Count: 5})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(b.Results) != c.Len() {
		t.Fatalf("results=%d want=%d", len(b.Results), c.Len())
	}
	for _, r := range b.Results {
		if r.RawScore < 0 || r.RawScore > 100 {
			t.Fatalf("score %v outside [0,100]", r.RawScore)
		}
		if r.SubScores.Growth == nil || r.SubScores.Yield == nil || r.SubScores.Risk == nil || r.SubScores.Fit == nil {
			t.Fatalf("rule engine left a sub-score empty: %+v", r.SubScores)
		}
	}
}

func TestScore_GrowthAndYieldLeaderOutscoresLaggard(t *testing.T) {
	t.Parallel()

	w := domain.Weights{Growth: 0.4, Yield: 0.3, Risk: 0.2, Fit: 0.1}
	b, err := NewEngine(nil).Score(context.Background(), domain.ScoreRequest{
		Profile: testProfile(),
		Catalog: twentySuburbs(t),
		Count:   5,
		Weights: &w,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	top := resultFor(t, b, "Suburb 19")
	bottom := resultFor(t, b, "Suburb 00")

	if *top.SubScores.Growth != 100 || *top.SubScores.Yield != 100 {
		t.Fatalf("leader sub-scores=%v/%v want 100/100", *top.SubScores.Growth, *top.SubScores.Yield)
	}
	if *bottom.SubScores.Growth != 0 || *bottom.SubScores.Yield != 0 {
		t.Fatalf("laggard sub-scores=%v/%v want 0/0", *bottom.SubScores.Growth, *bottom.SubScores.Yield)
	}
	if *top.SubScores.Risk != *bottom.SubScores.Risk || *top.SubScores.Fit != *bottom.SubScores.Fit {
		t.Fatalf("risk/fit differ for identical metrics")
	}
	want := 0.4*100 + 0.3*100
	if diff := top.RawScore - bottom.RawScore; diff < want-1e-9 {
		t.Fatalf("score gap=%v want>=%v", diff, want)
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	c := twentySuburbs(t)
	e := NewEngine(nil)
	req := domain.ScoreRequest{Profile: testProfile(), Catalog: c, Count: 10}
	a, err := e.Score(context.Background(), req)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	b, _ := e.Score(context.Background(), req)
	for i := range a.Results {
		if a.Results[i].SuburbKey != b.Results[i].SuburbKey || a.Results[i].RawScore != b.Results[i].RawScore {
			t.Fatalf("run %d differs: %+v vs %+v", i, a.Results[i], b.Results[i])
		}
	}
}

func TestScore_ZeroRangeAndUnknownAreNeutral(t *testing.T) {
	t.Parallel()

	c, err := domain.NewCatalog([]domain.SuburbRecord{
		{Name: "A", State: "VIC", GrowthRate: domain.Known(4), RentalYield: domain.Known(3)},
		{Name: "B", State: "VIC", GrowthRate: domain.Known(4), RentalYield: domain.Unknown()},
		{Name: "C", State: "VIC", GrowthRate: domain.Known(4), RentalYield: domain.Known(5)},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	b, err := NewEngine(nil).Score(context.Background(), domain.ScoreRequest{Profile: testProfile(), Catalog: c, Count: 5})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for _, r := range b.Results {
		if *r.SubScores.Growth != neutral {
			t.Fatalf("zero-range growth=%v want %v", *r.SubScores.Growth, neutral)
		}
	}
	var unknown domain.EngineResult
	for _, r := range b.Results {
		if r.SuburbKey == domain.SuburbKey("B", "VIC") {
			unknown = r
		}
	}
	if *unknown.SubScores.Yield != neutral {
		t.Fatalf("unknown yield scored %v want %v", *unknown.SubScores.Yield, neutral)
	}
}

func TestScore_ValidationErrors(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	bad := domain.Weights{Growth: 0.9, Yield: 0.9}
	_, err := e.Score(context.Background(), domain.ScoreRequest{Profile: testProfile(), Catalog: twentySuburbs(t), Weights: &bad})
	if !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("err=%v want ErrInvalidWeights", err)
	}

	empty, _ := domain.NewCatalog(nil)
	_, err = e.Score(context.Background(), domain.ScoreRequest{Profile: testProfile(), Catalog: empty})
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("err=%v want ErrInvalidParameter", err)
	}
}

func TestResolveWeights_Precedence(t *testing.T) {
	t.Parallel()

	configured := domain.Weights{Growth: 0.25, Yield: 0.25, Risk: 0.25, Fit: 0.25}
	e := NewEngine(&configured)

	p := testProfile()
	got, err := e.ResolveWeights(p, nil)
	if err != nil || got != configured {
		t.Fatalf("configured defaults not used: %+v, %v", got, err)
	}

	p.Approach = domain.ApproachYield
	got, _ = e.ResolveWeights(p, nil)
	if got != ApproachWeights(domain.ApproachYield) {
		t.Fatalf("approach preset not used: %+v", got)
	}

	override := domain.Weights{Growth: 1}
	got, _ = e.ResolveWeights(p, &override)
	if got != override {
		t.Fatalf("override not used: %+v", got)
	}

	p.Approach = ""
	p.RiskTolerance = domain.RiskLow
	got, _ = NewEngine(nil).ResolveWeights(p, nil)
	if got != ApproachWeights(domain.ApproachConservative) {
		t.Fatalf("low risk did not map to conservative: %+v", got)
	}
}

func TestApproachPresetsAreValid(t *testing.T) {
	t.Parallel()

	for _, a := range []domain.Approach{domain.ApproachBalanced, domain.ApproachGrowth, domain.ApproachYield, domain.ApproachConservative} {
		if err := ApproachWeights(a).Validate(); err != nil {
			t.Fatalf("%s preset invalid: %v", a, err)
		}
		if math.Abs(ApproachWeights(a).Sum()-1) > 1e-9 {
			t.Fatalf("%s preset sum=%v", a, ApproachWeights(a).Sum())
		}
	}
}
