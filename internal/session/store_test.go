package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// flakyBackend fails commits while failCommit is set.
type flakyBackend struct {
	*MemoryBackend
	mu         sync.Mutex
	failCommit bool
	failReads  bool
}

func (f *flakyBackend) setFail(commit, reads bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCommit, f.failReads = commit, reads
}

func (f *flakyBackend) Commit(ctx context.Context, key string, next []byte, retain int) error {
	f.mu.Lock()
	fail := f.failCommit
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Commit(ctx, key, next, retain)
}

func (f *flakyBackend) Current(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failReads
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return f.MemoryBackend.Current(ctx, key)
}

func newTestStore(b Backend, opts ...Option) *Store {
	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	opts = append([]Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		}),
	}, opts...)
	return NewStore(b, opts...)
}

func testProfile() domain.CustomerProfile {
	return domain.CustomerProfile{
		Name:          "Sample Client",
		Budget:        domain.BudgetRange{Min: 500000, Max: 800000},
		TargetYield:   4.5,
		RiskTolerance: domain.RiskMedium,
		HorizonYears:  7,
		PropertyTypes: []string{"house"},
		LifestyleWeights: map[string]float64{
			domain.LifestyleSchools: 0.8,
		},
	}
}

func testCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	var recs []domain.SuburbRecord
	for i := 0; i < 6; i++ {
		recs = append(recs, domain.SuburbRecord{
			Name:        fmt.Sprintf("Suburb %d", i),
			State:       "NSW",
			MedianPrice: domain.Known(float64(550000 + i*20000)),
			RentalYield: domain.Known(3.5 + float64(i)*0.2),
			GrowthRate:  domain.Known(float64(i)),
		})
	}
	c, err := domain.NewCatalog(recs)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func testSet(snap Snapshot) domain.RecommendationSet {
	rec := snap.Catalog.At(0)
	return domain.RecommendationSet{
		Items: []domain.Recommendation{{
			Suburb:        rec.Ref(),
			Score:         100,
			Rank:          1,
			Engine:        domain.EngineRule,
			Rationale:     "strong growth",
			SubScores:     domain.SubScores{Growth: domain.Score(90), Yield: domain.Score(70)},
			Contributions: map[string]float64{"growth": 36},
			Confidence:    "High",
		}},
		EngineUsed:     domain.EngineRule,
		ProfileVersion: snap.ProfileVersion,
		CatalogID:      snap.Catalog.ID(),
		GeneratedAt:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

// analysed drives a session up to review with one recommendation set.
func analysed(t *testing.T, s *Store, key string) Snapshot {
	t.Helper()
	ctx := context.Background()
	steps := []Mutation{
		SetProfile(testProfile()),
		GoTo(StepDataUpload),
		SetCatalog(testCatalog(t)),
		GoTo(StepConfigure),
		GoTo(StepRecommend),
	}
	var snap Snapshot
	var err error
	for i, m := range steps {
		if snap, err = s.Save(ctx, key, m); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	snap, err = s.ApplyRecommendations(ctx, key, testSet(snap))
	if err != nil {
		t.Fatalf("ApplyRecommendations: %v", err)
	}
	if snap.Step != StepReview {
		t.Fatalf("step after analysis=%s want review", snap.Step)
	}
	return snap
}

func TestLoad_NewSessionIsEmpty(t *testing.T) {
	t.Parallel()

	snap, warnings, err := newTestStore(NewMemoryBackend()).Load(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings=%v", warnings)
	}
	if !reflect.DeepEqual(snap, Empty()) {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(NewMemoryBackend())
	saved := analysed(t, store, "s1")

	// A second store over the same backend reads from storage, not memory.
	reloaded := newTestStore(store.backend)
	got, warnings, err := reloaded.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings=%v", warnings)
	}
	if !reflect.DeepEqual(got, saved) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, saved)
	}
}

func TestSave_VersionStrictlyIncreases(t *testing.T) {
	t.Parallel()

	store := newTestStore(NewMemoryBackend())
	last := 0
	for i := 0; i < 5; i++ {
		p := testProfile()
		p.HorizonYears = i + 1
		snap, err := store.Save(context.Background(), "v", SetProfile(p))
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if snap.Version <= last {
			t.Fatalf("version %d after %d", snap.Version, last)
		}
		last = snap.Version
	}
}

func TestSave_MaterialProfileChangeMarksStale(t *testing.T) {
	t.Parallel()

	store := newTestStore(NewMemoryBackend())
	before := analysed(t, store, "stale")
	if before.RecommendationsStale {
		t.Fatalf("fresh recommendations flagged stale")
	}

	_, err := store.Save(context.Background(), "stale", func(s *Snapshot) error {
		s.Step = StepProfile
		s.Profile.RiskTolerance = domain.RiskHigh
		return nil
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, err := store.Load(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.RecommendationsStale {
		t.Fatalf("recommendations not marked stale")
	}
	if !reflect.DeepEqual(got.Recommendations, before.Recommendations) {
		t.Fatalf("previous recommendations were not kept")
	}
	if got.ProfileVersion != before.ProfileVersion+1 {
		t.Fatalf("profile version=%d want %d", got.ProfileVersion, before.ProfileVersion+1)
	}
}

func TestSave_MinorProfileEditKeepsRecommendationsFresh(t *testing.T) {
	t.Parallel()

	store := newTestStore(NewMemoryBackend())
	before := analysed(t, store, "minor")
	got, err := store.Save(context.Background(), "minor", func(s *Snapshot) error {
		s.Profile.Name = "Renamed Client"
		s.Profile.HorizonYears = 12
		return nil
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got.RecommendationsStale || got.ProfileVersion != before.ProfileVersion {
		t.Fatalf("stale=%v profile version=%d", got.RecommendationsStale, got.ProfileVersion)
	}
}

func TestApplyRecommendations_RejectsSupersededRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(NewMemoryBackend())
	store.Save(ctx, "race", SetProfile(testProfile()))
	snap, _ := store.Save(ctx, "race", SetCatalog(testCatalog(t)))
	inFlight := testSet(snap)

	changed := testProfile()
	changed.Budget.Max = 1_200_000
	if _, err := store.Save(ctx, "race", SetProfile(changed)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.ApplyRecommendations(ctx, "race", inFlight); !errors.Is(err, ErrStaleResult) {
		t.Fatalf("err=%v want ErrStaleResult", err)
	}
	got, _, _ := store.Load(ctx, "race")
	if got.Recommendations != nil {
		t.Fatalf("stale result was written")
	}
}

func TestLoad_FallsBackToBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend()
	store := newTestStore(backend)
	store.Save(ctx, "c", SetProfile(testProfile()))
	second, _ := store.Save(ctx, "c", SetCatalog(testCatalog(t)))

	// Corrupt the committed copy by committing garbage; version 2 becomes the backup.
	if err := backend.Commit(ctx, "c", []byte(`{"checksum":"00","record":{}}`), DefaultRetain); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, warnings, err := newTestStore(backend).Load(ctx, "c")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != second.Version || got.Catalog.ID() != second.Catalog.ID() {
		t.Fatalf("recovered version %d want %d", got.Version, second.Version)
	}
	if len(warnings) != 2 || !strings.Contains(warnings[1], "recovered version 2") {
		t.Fatalf("warnings=%v", warnings)
	}
}

func TestSave_NumbersPastUnreadableRecords(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current []byte
		want    int
	}{
		{"unparseable", []byte("not json"), 4},
		{"checksum mismatch", []byte(`{"checksum":"00","record":{"version":7,"step":"profile"}}`), 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			backend := NewMemoryBackend()
			store := newTestStore(backend)
			p := testProfile()
			for i := 0; i < 3; i++ {
				p.Name = fmt.Sprintf("Client %d", i)
				if _, err := store.Save(ctx, "hw", SetProfile(p)); err != nil {
					t.Fatalf("Save: %v", err)
				}
			}
			backend.mu.Lock()
			backend.sessions["hw"].current = tc.current
			backend.mu.Unlock()

			fresh := newTestStore(backend)
			recovered, _, err := fresh.Load(ctx, "hw")
			if err != nil || recovered.Version != 2 {
				t.Fatalf("recovered version %d err=%v", recovered.Version, err)
			}
			next, err := fresh.Save(ctx, "hw", GoTo(StepProfile))
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if next.Version != tc.want {
				t.Fatalf("version=%d want %d", next.Version, tc.want)
			}

			seen := map[int]bool{next.Version: true}
			backups, _ := backend.Backups(ctx, "hw")
			for _, b := range backups {
				if rec, err := DecodeRecord(b); err == nil {
					if seen[rec.Version] {
						t.Fatalf("version %d appears twice in history", rec.Version)
					}
					seen[rec.Version] = true
				}
			}
		})
	}
}

func TestSave_AfterNothingReadableKeepsCounting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend()
	backend.Commit(ctx, "junk", []byte("not json"), 3)
	backend.Commit(ctx, "junk", []byte("{}"), 3)

	got, err := newTestStore(backend).Save(ctx, "junk", SetProfile(testProfile()))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got.Version != 3 {
		t.Fatalf("version=%d want 3", got.Version)
	}
}

func TestLoad_NothingReadableStartsEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend()
	backend.Commit(ctx, "junk", []byte("not json"), 2)
	backend.Commit(ctx, "junk", []byte("{}"), 2)

	got, warnings, err := newTestStore(backend).Load(ctx, "junk")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Step != StepProfile || got.Version != 0 {
		t.Fatalf("snapshot=%+v", got)
	}
	if len(warnings) == 0 {
		t.Fatalf("no warning for unreadable session")
	}
}

func TestLoad_MissingCatalogFallsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend()
	store := newTestStore(backend)
	first, _ := store.Save(ctx, "cat", SetProfile(testProfile()))
	store.Save(ctx, "cat", SetCatalog(testCatalog(t)))
	backend.mu.Lock()
	backend.catalogs = map[string][]byte{}
	backend.mu.Unlock()

	got, warnings, err := newTestStore(backend).Load(ctx, "cat")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != first.Version || got.Catalog != nil {
		t.Fatalf("got version %d catalog %v", got.Version, got.Catalog)
	}
	if len(warnings) == 0 {
		t.Fatalf("no recovery warning")
	}
}

func TestSave_PersistenceFailureKeepsPriorCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	store := newTestStore(backend)
	committed, err := store.Save(ctx, "p", SetProfile(testProfile()))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	backend.setFail(true, false)
	next, err := store.Save(ctx, "p", SetCatalog(testCatalog(t)))
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Version != committed.Version+1 {
		t.Fatalf("err=%v want PersistenceError for version %d", err, committed.Version+1)
	}
	if next.Catalog == nil {
		t.Fatalf("in-memory snapshot lost the mutation")
	}

	// Storage still holds the prior version.
	persisted, _, _ := newTestStore(backend).Load(ctx, "p")
	if !reflect.DeepEqual(persisted, committed) {
		t.Fatalf("prior commit damaged: %+v", persisted)
	}

	// The session keeps working from memory.
	got, warnings, err := store.Load(ctx, "p")
	if err != nil || got.Version != next.Version || len(warnings) != 1 {
		t.Fatalf("load=%d warnings=%v err=%v", got.Version, warnings, err)
	}

	backend.setFail(false, false)
	caught, err := store.Save(ctx, "p", GoTo(StepDataUpload))
	if err != nil {
		t.Fatalf("Save after recovery: %v", err)
	}
	persisted, warnings, _ = newTestStore(backend).Load(ctx, "p")
	if persisted.Version != caught.Version || persisted.Catalog == nil || len(warnings) != 0 {
		t.Fatalf("storage did not catch up: version %d warnings %v", persisted.Version, warnings)
	}
}

func TestLoad_UnavailableBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	backend.setFail(false, true)
	if _, _, err := newTestStore(backend).Load(ctx, "down"); err == nil {
		t.Fatalf("Load over a failing backend returned no error")
	}
}

func TestReset_ClearsSessionAndBackups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend()
	store := newTestStore(backend)
	analysed(t, store, "r")

	if err := store.Reset(ctx, "r"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, _, err := store.Load(ctx, "r")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, Empty()) {
		t.Fatalf("snapshot after reset=%+v", got)
	}
	if b, _ := backend.Backups(ctx, "r"); len(b) != 0 {
		t.Fatalf("backups survived reset: %d", len(b))
	}
}

func TestSave_RetainsLimitedBackups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend()
	store := newTestStore(backend, WithRetain(2))
	for i := 0; i < 6; i++ {
		p := testProfile()
		p.HorizonYears = i + 1
		store.Save(ctx, "k", SetProfile(p))
	}
	backups, _ := backend.Backups(ctx, "k")
	if len(backups) != 2 {
		t.Fatalf("backups=%d want 2", len(backups))
	}
	rec, err := DecodeRecord(backups[0])
	if err != nil || rec.Version != 5 {
		t.Fatalf("newest backup version=%d err=%v", rec.Version, err)
	}
}

func TestSave_SerializesConcurrentWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(NewMemoryBackend())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := testProfile()
			p.HorizonYears = i
			if _, err := store.Save(ctx, "busy", SetProfile(p)); err != nil {
				t.Errorf("Save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _, _ := store.Load(ctx, "busy")
	if got.Version != 20 {
		t.Fatalf("version=%d want 20", got.Version)
	}
}

func TestSave_MutationErrorLeavesSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(NewMemoryBackend())
	first, _ := store.Save(ctx, "m", SetProfile(testProfile()))
	boom := errors.New("boom")
	if _, err := store.Save(ctx, "m", func(s *Snapshot) error {
		s.Profile.RiskTolerance = domain.RiskLow
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	got, _, _ := store.Load(ctx, "m")
	if !reflect.DeepEqual(got, first) {
		t.Fatalf("failed mutation leaked into the session")
	}
}

func TestSave_RejectsInvalidProfile(t *testing.T) {
	t.Parallel()

	p := testProfile()
	p.RiskTolerance = "reckless"
	_, err := newTestStore(NewMemoryBackend()).Save(context.Background(), "bad", SetProfile(p))
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("err=%v want ErrInvalidParameter", err)
	}
}
