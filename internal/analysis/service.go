// Package analysis runs recommendation analyses for workflow sessions.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/saurabh2727/property-finder/internal/domain"
	"github.com/saurabh2727/property-finder/internal/recommend"
	"github.com/saurabh2727/property-finder/internal/session"
)

type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (recommend.Outcome, error)
}

// Options tune one analysis run. Zero values fall back to the service
// defaults.
type Options struct {
	Count    int
	Engines  []domain.EngineTag
	Approach domain.Approach
	Weights  *domain.Weights
}

const DefaultCount = 10

type Result struct {
	Outcome  recommend.Outcome
	Snapshot session.Snapshot
	// Warnings combine engine fallbacks, session recovery notes and
	// persistence degradation.
	Warnings []string
}

type Service struct {
	recommender  Recommender
	store        *session.Store
	defaultOrder []domain.EngineTag
	logger       *log.Logger
}

func NewService(r Recommender, store *session.Store, defaultOrder []domain.EngineTag, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{recommender: r, store: store, defaultOrder: defaultOrder, logger: logger}
}

// Run scores the session's catalog for its profile and writes the result
// back. The write is refused with session.ErrStaleResult if the profile or
// catalog changed while the engines were running; the outcome is still
// returned so the caller can show it. A failed write degrades to the
// in-memory snapshot with a warning.
func (s *Service) Run(ctx context.Context, key string, opts Options) (Result, error) {
	snap, warnings, err := s.store.Load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if snap.Profile == nil {
		return Result{}, fmt.Errorf("%w: session has no customer profile", domain.ErrInvalidParameter)
	}
	if snap.Catalog == nil {
		return Result{}, fmt.Errorf("%w: session has no suburb catalog", domain.ErrInvalidParameter)
	}

	out, err := s.Rank(ctx, *snap.Profile, snap.Catalog, opts)
	if err != nil {
		return Result{}, err
	}
	warnings = append(warnings, out.Warnings...)

	saved, err := s.store.ApplyRecommendations(ctx, key, out.Set(snap.ProfileVersion))
	var perr *session.PersistenceError
	switch {
	case errors.As(err, &perr):
		warnings = append(warnings, fmt.Sprintf("recommendations are not saved yet: %v", perr.Err))
	case errors.Is(err, session.ErrStaleResult):
		s.logger.Printf("analysis %s: discarding %s result: %v", key, out.EngineUsed, err)
		return Result{Outcome: out, Warnings: warnings}, err
	case err != nil:
		return Result{Outcome: out, Warnings: warnings}, err
	}
	return Result{Outcome: out, Snapshot: saved, Warnings: warnings}, nil
}

// Rank runs the engines without touching any session.
func (s *Service) Rank(ctx context.Context, profile domain.CustomerProfile, catalog *domain.Catalog, opts Options) (recommend.Outcome, error) {
	if opts.Approach != "" {
		if !opts.Approach.Valid() {
			return recommend.Outcome{}, fmt.Errorf("%w: approach %q", domain.ErrInvalidParameter, opts.Approach)
		}
		profile = profile.Clone()
		profile.Approach = opts.Approach
	}
	count := opts.Count
	if count == 0 {
		count = DefaultCount
	}
	order := opts.Engines
	if len(order) == 0 {
		order = s.defaultOrder
	}
	return s.recommender.Recommend(ctx, recommend.Request{
		Profile: profile,
		Catalog: catalog,
		Count:   count,
		Order:   order,
		Weights: opts.Weights,
	})
}
