package ml

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// Engine scores suburbs with the currently loaded model artifact. The model
// can be swapped at runtime by Reload; scoring always sees one consistent
// model.
type Engine struct {
	path   string
	model  atomic.Pointer[Model]
	logger *log.Logger
}

// NewEngine creates the engine and attempts an initial load. A missing or
// broken artifact is not fatal: Score reports a recoverable failure until a
// valid artifact appears.
func NewEngine(path string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{path: path, logger: logger}
	if path != "" {
		if err := e.Reload(); err != nil {
			logger.Printf("ml engine disabled until artifact is valid (reason: %v)", err)
		}
	}
	return e
}

// NewEngineWithModel wraps an already loaded model.
func NewEngineWithModel(m *Model) *Engine {
	e := &Engine{logger: log.Default()}
	e.model.Store(m)
	return e
}

func (e *Engine) Tag() domain.EngineTag { return domain.EngineML }

// Path is the watched artifact location.
func (e *Engine) Path() string { return e.path }

// Reload re-reads the artifact. On failure the previous model stays active.
func (e *Engine) Reload() error {
	if e.path == "" {
		return ErrModelMissing
	}
	m, err := LoadModel(e.path)
	if err != nil {
		return err
	}
	e.model.Store(m)
	e.logger.Printf("ml model %q loaded from %s (%d features)", m.Version, e.path, len(m.Features))
	return nil
}

func (e *Engine) Score(ctx context.Context, req domain.ScoreRequest) (domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return domain.Batch{}, err
	}
	m := e.model.Load()
	if m == nil {
		return domain.Batch{}, domain.Recoverable(domain.EngineML, ErrModelMissing)
	}
	if req.Catalog.Len() == 0 {
		return domain.Batch{}, fmt.Errorf("%w: empty catalog", domain.ErrInvalidParameter)
	}

	var warnings []string
	out := make([]domain.EngineResult, 0, req.Catalog.Len())
	for i := 0; i < req.Catalog.Len(); i++ {
		s := req.Catalog.At(i)
		score, contrib, imputed := m.Predict(s)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			warnings = append(warnings, fmt.Sprintf("ml: %s produced a non-finite score, dropped", s.Label()))
			continue
		}
		out = append(out, domain.EngineResult{
			SuburbKey:     s.Key(),
			RawScore:      score,
			Rationale:     explain(contrib, imputed),
			Contributions: contrib,
		})
	}
	return domain.Batch{Results: out, Warnings: warnings}, nil
}

// explain lists the three strongest drivers of a prediction.
func explain(contrib map[string]float64, imputed []string) string {
	keys := make([]string, 0, len(contrib))
	for k := range contrib {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := math.Abs(contrib[keys[i]]), math.Abs(contrib[keys[j]])
		if ai != aj {
			return ai > aj
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 3 {
		keys = keys[:3]
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %+.2f", strings.ReplaceAll(k, "_", " "), contrib[k]))
	}
	if len(imputed) > 0 {
		parts = append(parts, fmt.Sprintf("%d feature(s) imputed", len(imputed)))
	}
	return "model drivers: " + strings.Join(parts, ", ")
}
