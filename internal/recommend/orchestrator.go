// Package recommend runs the engine fallback chain and turns the winning
// engine's raw batch into a ranked recommendation list.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/saurabh2727/property-finder/internal/domain"
)

const (
	MinCount = 5
	MaxCount = 20
)

// Default per-engine budgets. The AI call is the only one expected to block
// on the network.
const (
	DefaultAITimeout   = 45 * time.Second
	DefaultRuleTimeout = 5 * time.Second
	DefaultMLTimeout   = 10 * time.Second
)

// Engines is the closed set of engines the orchestrator can dispatch to. A
// nil engine is reported as unavailable when it is requested.
type Engines struct {
	AI   domain.Engine
	Rule domain.Engine
	ML   domain.Engine
}

func (e Engines) get(tag domain.EngineTag) domain.Engine {
	switch tag {
	case domain.EngineAI:
		return e.AI
	case domain.EngineRule:
		return e.Rule
	case domain.EngineML:
		return e.ML
	}
	return nil
}

type Timeouts struct {
	AI   time.Duration
	Rule time.Duration
	ML   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{AI: DefaultAITimeout, Rule: DefaultRuleTimeout, ML: DefaultMLTimeout}
}

func (t Timeouts) get(tag domain.EngineTag) time.Duration {
	var d time.Duration
	switch tag {
	case domain.EngineAI:
		d = t.AI
	case domain.EngineRule:
		d = t.Rule
	case domain.EngineML:
		d = t.ML
	}
	if d <= 0 {
		return DefaultTimeouts().get(tag)
	}
	return d
}

type Request struct {
	Profile domain.CustomerProfile
	Catalog *domain.Catalog
	Count   int
	// Order is the fallback chain; empty means domain.DefaultEngineOrder.
	Order   []domain.EngineTag
	Weights *domain.Weights
}

// Outcome is a successful run: ranked rows plus provenance.
type Outcome struct {
	Recommendations []domain.Recommendation
	EngineUsed      domain.EngineTag
	Warnings        []string
	CatalogID       string
	GeneratedAt     time.Time
}

// Set packages the outcome for the session store.
func (o Outcome) Set(profileVersion int) domain.RecommendationSet {
	return domain.RecommendationSet{
		Items:          o.Recommendations,
		EngineUsed:     o.EngineUsed,
		Warnings:       o.Warnings,
		ProfileVersion: profileVersion,
		CatalogID:      o.CatalogID,
		GeneratedAt:    o.GeneratedAt,
	}
}

type Orchestrator struct {
	engines  Engines
	timeouts Timeouts
	logger   *log.Logger
	now      func() time.Time
}

func NewOrchestrator(engines Engines, timeouts Timeouts, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{engines: engines, timeouts: timeouts, logger: logger, now: time.Now}
}

// Recommend validates the request, then tries each engine in order until one
// yields at least min(count, catalog size) valid results. Engine failures
// become warnings; only when every engine fails does it return
// *domain.NoEngineAvailableError.
func (o *Orchestrator) Recommend(ctx context.Context, req Request) (Outcome, error) {
	order, err := validate(req)
	if err != nil {
		return Outcome{}, err
	}
	required := req.Count
	if n := req.Catalog.Len(); n < required {
		required = n
	}

	var failures []domain.EngineFailure
	var warnings []string
	for _, tag := range order {
		recs, engineWarnings, err := o.try(ctx, tag, req, required)
		if err == nil {
			warnings = append(warnings, engineWarnings...)
			o.logger.Printf("recommend: %s engine produced %d recommendations (catalog %s)", tag, len(recs), req.Catalog.ID())
			return Outcome{
				Recommendations: recs,
				EngineUsed:      tag,
				Warnings:        warnings,
				CatalogID:       req.Catalog.ID(),
				GeneratedAt:     o.now().UTC(),
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}

		failures = append(failures, domain.EngineFailure{Engine: tag, Err: cause(err)})
		warnings = append(warnings, fmt.Sprintf("%s engine failed: %v", tag, cause(err)))
		for _, w := range engineWarnings {
			o.logger.Printf("recommend: %s", w)
		}
		if domain.IsRecoverable(err) {
			o.logger.Printf("recommend: %s engine failed, falling back: %v", tag, cause(err))
		} else {
			o.logger.Printf("recommend: %s engine rejected request: %v", tag, err)
		}
	}
	return Outcome{}, &domain.NoEngineAvailableError{Failures: failures}
}

func validate(req Request) ([]domain.EngineTag, error) {
	if req.Count < MinCount || req.Count > MaxCount {
		return nil, fmt.Errorf("%w: count %d outside [%d, %d]", domain.ErrInvalidParameter, req.Count, MinCount, MaxCount)
	}
	if req.Catalog == nil {
		return nil, fmt.Errorf("%w: no catalog", domain.ErrInvalidParameter)
	}
	if err := req.Profile.Validate(); err != nil {
		return nil, err
	}
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return nil, err
		}
	}

	order := req.Order
	if len(order) == 0 {
		order = domain.DefaultEngineOrder
	}
	seen := make(map[domain.EngineTag]bool, len(order))
	for _, tag := range order {
		if !tag.Valid() {
			return nil, fmt.Errorf("%w: unknown engine %q", domain.ErrInvalidParameter, tag)
		}
		if seen[tag] {
			return nil, fmt.Errorf("%w: engine %q listed twice", domain.ErrInvalidParameter, tag)
		}
		seen[tag] = true
	}
	return order, nil
}

func (o *Orchestrator) try(ctx context.Context, tag domain.EngineTag, req Request, required int) ([]domain.Recommendation, []string, error) {
	engine := o.engines.get(tag)
	if engine == nil {
		return nil, nil, domain.Recoverable(tag, errors.New("not configured"))
	}

	batch, err := o.invoke(ctx, tag, engine, domain.ScoreRequest{
		Profile: req.Profile,
		Catalog: req.Catalog,
		Count:   req.Count,
		Weights: req.Weights,
	})
	if err != nil {
		return nil, batch.Warnings, err
	}

	recs, normWarnings := Normalize(tag, batch.Results, req.Catalog)
	warnings := append(batch.Warnings, normWarnings...)
	if len(recs) < required {
		return nil, warnings, domain.Recoverable(tag, fmt.Errorf("returned %d valid results, need %d", len(recs), required))
	}
	return Top(recs, req.Count), warnings, nil
}

// invoke runs the engine under its time budget. The engine runs on its own
// goroutine so a call that ignores its context still cannot hold up the
// chain past the deadline; its late result is discarded.
func (o *Orchestrator) invoke(ctx context.Context, tag domain.EngineTag, engine domain.Engine, req domain.ScoreRequest) (domain.Batch, error) {
	timeout := o.timeouts.get(tag)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		batch domain.Batch
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: domain.Recoverable(tag, fmt.Errorf("panic: %v", r))}
			}
		}()
		b, err := engine.Score(ctx, req)
		done <- result{batch: b, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && !domain.IsRecoverable(r.err) {
			return r.batch, domain.Recoverable(tag, fmt.Errorf("timed out after %s", timeout))
		}
		return r.batch, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Batch{}, domain.Recoverable(tag, fmt.Errorf("timed out after %s", timeout))
		}
		return domain.Batch{}, ctx.Err()
	}
}

// cause strips the EngineFailure wrapper so the aggregated error does not
// repeat the engine tag.
func cause(err error) error {
	var f *domain.EngineFailure
	if errors.As(err, &f) {
		return f.Err
	}
	return err
}
