// Package session keeps each analysis session's snapshot: versioned, backed
// up on every write and recovered from backups when the latest copy is
// unreadable.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// DefaultRetain is how many earlier versions are kept per session.
const DefaultRetain = 5

// Mutation edits a private copy of the current snapshot. Returning an error
// abandons the save.
type Mutation func(*Snapshot) error

type Store struct {
	backend Backend
	retain  int
	logger  *log.Logger
	now     func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	pending  map[string]Snapshot // accepted in memory, not yet persisted
	catalogs map[string]*domain.Catalog
}

type Option func(*Store)

func WithRetain(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retain = n
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		retain:   DefaultRetain,
		logger:   log.Default(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		pending:  make(map[string]Snapshot),
		catalogs: make(map[string]*domain.Catalog),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load returns the latest snapshot for key. Warnings describe any recovery
// that took place: a backup used in place of an unreadable snapshot, or
// in-memory changes that have not been persisted yet.
func (s *Store) Load(ctx context.Context, key string) (Snapshot, []string, error) {
	unlock := s.lock(key)
	defer unlock()

	snap, warnings, _, err := s.load(ctx, key)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap.Clone(), warnings, nil
}

// Save applies m to a copy of the current snapshot and commits it as the
// next version, moving the previous version into the backups. If the
// backend write fails the new snapshot is still returned, is served by later
// loads, and the error is a *PersistenceError.
func (s *Store) Save(ctx context.Context, key string, m Mutation) (Snapshot, error) {
	unlock := s.lock(key)
	defer unlock()

	cur, _, high, err := s.load(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}

	next := cur.Clone()
	if err := m(&next); err != nil {
		return cur.Clone(), err
	}
	if next.Step != cur.Step {
		if err := checkTransition(cur.Step, next); err != nil {
			return cur.Clone(), err
		}
	}
	if next.Profile != nil {
		if err := next.Profile.Validate(); err != nil {
			return cur.Clone(), err
		}
	}

	next.ProfileVersion = cur.ProfileVersion
	if profileChanged(cur.Profile, next.Profile) {
		next.ProfileVersion++
	}
	next.RecommendationsStale = next.staleRecommendations()
	if next.RecommendationsStale && !cur.RecommendationsStale {
		s.logger.Printf("session %s: recommendations marked stale (profile version %d)", key, next.ProfileVersion)
	}
	next.Version = max(cur.Version, high) + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.persist(ctx, key, next); err != nil {
		s.mu.Lock()
		s.pending[key] = next.Clone()
		s.mu.Unlock()
		s.logger.Printf("session %s: keeping version %d in memory only: %v", key, next.Version, err)
		return next.Clone(), &PersistenceError{Key: key, Version: next.Version, Err: err}
	}

	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
	return next.Clone(), nil
}

// Reset clears the session's snapshot and backups.
func (s *Store) Reset(ctx context.Context, key string) error {
	unlock := s.lock(key)
	defer unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("reset session %s: %w", key, err)
	}
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
	s.logger.Printf("session %s: reset", key)
	return nil
}

// ApplyRecommendations stores set if it was computed against the session's
// current profile version and catalog, and moves a session waiting at the
// recommend step on to review. Otherwise it returns ErrStaleResult and the
// session is unchanged.
func (s *Store) ApplyRecommendations(ctx context.Context, key string, set domain.RecommendationSet) (Snapshot, error) {
	return s.Save(ctx, key, func(snap *Snapshot) error {
		if err := snap.Accepts(set); err != nil {
			return err
		}
		c := set.Clone()
		snap.Recommendations = &c
		if snap.Step == StepRecommend {
			snap.Step = StepReview
		}
		return nil
	})
}

func SetProfile(p domain.CustomerProfile) Mutation {
	return func(s *Snapshot) error {
		c := p.Clone()
		s.Profile = &c
		return nil
	}
}

func SetCatalog(c *domain.Catalog) Mutation {
	return func(s *Snapshot) error {
		if c == nil {
			return fmt.Errorf("%w: no catalog", domain.ErrInvalidParameter)
		}
		s.Catalog = c
		return nil
	}
}

func GoTo(step Step) Mutation {
	return func(s *Snapshot) error {
		s.Step = step
		return nil
	}
}

func profileChanged(prev, next *domain.CustomerProfile) bool {
	switch {
	case prev == nil && next == nil:
		return false
	case prev == nil || next == nil:
		return true
	}
	return prev.MateriallyDiffers(*next)
}

// load also reports the highest version the session's history may already
// hold. It exceeds the snapshot's version when unreadable records newer than
// the recovered one exist; the next save must number past them.
func (s *Store) load(ctx context.Context, key string) (Snapshot, []string, int, error) {
	s.mu.Lock()
	pending, hasPending := s.pending[key]
	s.mu.Unlock()

	snap, warnings, high, err := s.readPersisted(ctx, key)
	if err != nil {
		if !hasPending {
			return Snapshot{}, nil, 0, err
		}
		s.logger.Printf("session %s: %v", key, err)
		return pending, []string{fmt.Sprintf("storage unavailable, showing unsaved version %d", pending.Version)}, pending.Version, nil
	}
	if hasPending && pending.Version > snap.Version {
		warnings = append(warnings, fmt.Sprintf("version %d is not saved yet, last saved version is %d", pending.Version, snap.Version))
		return pending, warnings, max(high, pending.Version), nil
	}
	return snap, warnings, high, nil
}

func (s *Store) readPersisted(ctx context.Context, key string) (Snapshot, []string, int, error) {
	data, err := s.backend.Current(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Snapshot{}, nil, 0, fmt.Errorf("read session %s: %w", key, err)
	}

	var warnings []string
	// skipped counts unreadable records newer than the one recovered; high is
	// the largest version still legible inside them.
	skipped, high := 0, 0
	if data != nil {
		snap, err := s.decode(ctx, data)
		if err == nil {
			return snap, nil, snap.Version, nil
		}
		if !errors.Is(err, ErrCorrupt) {
			return Snapshot{}, nil, 0, err
		}
		warnings = append(warnings, fmt.Sprintf("latest snapshot is unreadable: %v", err))
		skipped, high = 1, peekVersion(data)
	}

	backups, err := s.backend.Backups(ctx, key)
	if err != nil {
		return Snapshot{}, nil, 0, fmt.Errorf("read session %s backups: %w", key, err)
	}
	if data == nil && len(backups) == 0 {
		return Empty(), nil, 0, nil
	}
	for i, b := range backups {
		snap, err := s.decode(ctx, b)
		if err == nil {
			warnings = append(warnings, fmt.Sprintf("recovered version %d from backup", snap.Version))
			s.logger.Printf("session %s: recovered version %d from backup %d", key, snap.Version, i+1)
			return snap, warnings, max(high, snap.Version+skipped), nil
		}
		if !errors.Is(err, ErrCorrupt) {
			return Snapshot{}, nil, 0, err
		}
		warnings = append(warnings, fmt.Sprintf("backup %d is unreadable: %v", i+1, err))
		skipped++
		high = max(high, peekVersion(b))
	}
	s.logger.Printf("session %s: no readable snapshot, starting empty", key)
	warnings = append(warnings, "no readable snapshot, starting a new session")
	return Empty(), warnings, max(high, skipped), nil
}

func (s *Store) decode(ctx context.Context, b []byte) (Snapshot, error) {
	rec, err := DecodeRecord(b)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Version:              rec.Version,
		Step:                 rec.Step,
		Profile:              rec.Profile,
		ProfileVersion:       rec.ProfileVersion,
		Recommendations:      rec.Recommendations,
		RecommendationsStale: rec.RecommendationsStale,
		UpdatedAt:            rec.UpdatedAt,
	}
	if rec.CatalogRef != nil {
		c, err := s.catalog(ctx, *rec.CatalogRef)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Catalog = c
	}
	return snap, nil
}

func (s *Store) catalog(ctx context.Context, id string) (*domain.Catalog, error) {
	s.mu.Lock()
	c, ok := s.catalogs[id]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	b, err := s.backend.GetCatalog(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: catalog %s missing", ErrCorrupt, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", id, err)
	}
	c = &domain.Catalog{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%w: catalog %s: %v", ErrCorrupt, id, err)
	}
	if c.ID() != id {
		return nil, fmt.Errorf("%w: catalog %s content hashes to %s", ErrCorrupt, id, c.ID())
	}
	s.mu.Lock()
	s.catalogs[id] = c
	s.mu.Unlock()
	return c, nil
}

func (s *Store) persist(ctx context.Context, key string, next Snapshot) error {
	if next.Catalog != nil {
		id := next.Catalog.ID()
		s.mu.Lock()
		_, stored := s.catalogs[id]
		s.mu.Unlock()
		if !stored {
			b, err := json.Marshal(next.Catalog)
			if err != nil {
				return fmt.Errorf("encode catalog %s: %w", id, err)
			}
			if err := s.backend.PutCatalog(ctx, id, b); err != nil {
				return fmt.Errorf("write catalog %s: %w", id, err)
			}
			s.mu.Lock()
			s.catalogs[id] = next.Catalog
			s.mu.Unlock()
		}
	}

	data, err := EncodeRecord(next.record())
	if err != nil {
		return err
	}
	if err := s.backend.Commit(ctx, key, data, s.retain); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
