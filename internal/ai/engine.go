package ai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/saurabh2727/property-finder/internal/domain"
)

const (
	DefaultDigestLimit  = 60
	DefaultMinViability = 0.5
)

// Engine delegates scoring to a language model. It holds no state between
// calls beyond its configuration.
type Engine struct {
	client       Completer
	digestLimit  int
	minViability float64
}

type Option func(*Engine)

// WithDigestLimit caps how many catalog rows are embedded in the prompt.
func WithDigestLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.digestLimit = n
		}
	}
}

// WithMinViability sets the fraction of requested suburbs that must parse
// before the reply is handed on as a batch. Below it the failure names the
// parse shortfall. The orchestrator separately requires the full requested
// count, so a viable but short batch still falls back.
func WithMinViability(f float64) Option {
	return func(e *Engine) {
		if f > 0 && f <= 1 {
			e.minViability = f
		}
	}
}

func NewEngine(client Completer, opts ...Option) *Engine {
	e := &Engine{client: client, digestLimit: DefaultDigestLimit, minViability: DefaultMinViability}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Tag() domain.EngineTag { return domain.EngineAI }

func (e *Engine) Score(ctx context.Context, req domain.ScoreRequest) (domain.Batch, error) {
	if e.client == nil {
		return domain.Batch{}, domain.Recoverable(domain.EngineAI, errors.New("no language model client configured"))
	}
	if req.Catalog.Len() == 0 {
		return domain.Batch{}, fmt.Errorf("%w: empty catalog", domain.ErrInvalidParameter)
	}
	want := req.Count
	if n := req.Catalog.Len(); want > n {
		want = n
	}

	text, err := e.client.Complete(ctx, BuildPrompt(req.Profile, req.Catalog, want, e.digestLimit))
	if err != nil {
		return domain.Batch{}, domain.Recoverable(domain.EngineAI, err)
	}
	results, warnings, err := parseReply(text, req.Catalog)
	if err != nil {
		return domain.Batch{}, domain.Recoverable(domain.EngineAI, err)
	}
	minimum := int(math.Ceil(float64(want) * e.minViability))
	if len(results) < minimum {
		return domain.Batch{Warnings: warnings}, domain.Recoverable(domain.EngineAI,
			fmt.Errorf("only %d of %d suburbs parsed, need at least %d", len(results), want, minimum))
	}
	return domain.Batch{Results: results, Warnings: warnings}, nil
}
