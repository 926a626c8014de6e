package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/saurabh2727/property-finder/internal/analysis"
	"github.com/saurabh2727/property-finder/internal/domain"
	"github.com/saurabh2727/property-finder/internal/session"
)

// Pinger reports whether the session backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Analysis *analysis.Service
	Sessions *session.Store
	// Catalog is used by POST /recommend when the request carries none.
	Catalog *domain.Catalog
	Backend Pinger
	// Limiter throttles engine runs per client; nil disables it.
	Limiter *RateLimiter
	Logger  *log.Logger
}

func NewServer(svc *analysis.Service, sessions *session.Store, catalog *domain.Catalog, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{Analysis: svc, Sessions: sessions, Catalog: catalog, Logger: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /recommend", s.limited(s.handleRecommend))
	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /sessions/{key}", s.withSession(s.handleSessionGet))
	mux.HandleFunc("DELETE /sessions/{key}", s.withSession(s.handleSessionReset))
	mux.HandleFunc("PUT /sessions/{key}/profile", s.withSession(s.handleProfilePut))
	mux.HandleFunc("PUT /sessions/{key}/catalog", s.withSession(s.handleCatalogPut))
	mux.HandleFunc("PUT /sessions/{key}/step", s.withSession(s.handleStepPut))
	mux.HandleFunc("POST /sessions/{key}/recommend", s.limited(s.withSession(s.handleSessionRecommend)))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Backend.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- Stateless ranking ----

type RecommendOptions struct {
	Count    int             `json:"count"`
	Engines  []string        `json:"engines"`
	Approach domain.Approach `json:"approach"`
	Weights  *domain.Weights `json:"weights"`
}

func (o RecommendOptions) options() (analysis.Options, error) {
	tags := make([]domain.EngineTag, 0, len(o.Engines))
	for _, name := range o.Engines {
		tag, err := domain.ParseEngineTag(name)
		if err != nil {
			return analysis.Options{}, err
		}
		tags = append(tags, tag)
	}
	return analysis.Options{Count: o.Count, Engines: tags, Approach: o.Approach, Weights: o.Weights}, nil
}

type RecommendRequest struct {
	Profile domain.CustomerProfile `json:"profile"`
	Catalog *domain.Catalog        `json:"catalog"`
	RecommendOptions
}

type RecommendResponse struct {
	Recommendations []domain.Recommendation `json:"recommendations"`
	EngineUsed      domain.EngineTag        `json:"engine_used"`
	Label           string                  `json:"label"`
	ExportName      string                  `json:"export_name"`
	Warnings        []string                `json:"warnings,omitempty"`
	Session         *SnapshotView           `json:"session,omitempty"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	catalog := req.Catalog
	if catalog == nil {
		catalog = s.Catalog
	}
	if catalog == nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "no catalog supplied and no default catalog configured")
		return
	}
	opts, err := req.options()
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	out, err := s.Analysis.Rank(r.Context(), req.Profile, catalog, opts)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	set := out.Set(0)
	writeJSON(w, http.StatusOK, RecommendResponse{
		Recommendations: out.Recommendations,
		EngineUsed:      out.EngineUsed,
		Label:           out.EngineUsed.Label(),
		ExportName:      set.ExportName(),
		Warnings:        out.Warnings,
	})
}

// ---- Sessions ----

type SnapshotView struct {
	SessionKey           string                    `json:"session_key"`
	Version              int                       `json:"version"`
	Step                 session.Step              `json:"step"`
	Progress             int                       `json:"progress"`
	Profile              *domain.CustomerProfile   `json:"profile"`
	ProfileVersion       int                       `json:"profile_version"`
	CatalogID            *string                   `json:"catalog_id"`
	CatalogSize          int                       `json:"catalog_size"`
	Recommendations      *domain.RecommendationSet `json:"recommendations"`
	RecommendationsStale bool                      `json:"recommendations_stale"`
	UpdatedAt            *time.Time                `json:"updated_at,omitempty"`
	Warnings             []string                  `json:"warnings,omitempty"`
}

func newSnapshotView(key string, snap session.Snapshot, warnings []string) SnapshotView {
	v := SnapshotView{
		SessionKey:           key,
		Version:              snap.Version,
		Step:                 snap.Step,
		Progress:             snap.Step.Progress(),
		Profile:              snap.Profile,
		ProfileVersion:       snap.ProfileVersion,
		CatalogSize:          snap.Catalog.Len(),
		Recommendations:      snap.Recommendations,
		RecommendationsStale: snap.RecommendationsStale,
		Warnings:             warnings,
	}
	if snap.Catalog != nil {
		id := snap.Catalog.ID()
		v.CatalogID = &id
	}
	if !snap.UpdatedAt.IsZero() {
		t := snap.UpdatedAt
		v.UpdatedAt = &t
	}
	if snap.RecommendationsStale {
		v.Warnings = append(v.Warnings, "recommendations were computed for an earlier profile or catalog; re-run the analysis to refresh them")
	}
	return v
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, key string)

// withSession rejects keys that were not minted by POST /sessions.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if _, err := uuid.Parse(key); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_key", "session key must be a UUID")
			return
		}
		h(w, r, key)
	}
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	key := uuid.NewString()
	writeJSON(w, http.StatusCreated, newSnapshotView(key, session.Empty(), nil))
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request, key string) {
	snap, warnings, err := s.Sessions.Load(r.Context(), key)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotView(key, snap, warnings))
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.Sessions.Reset(r.Context(), key); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleProfilePut(w http.ResponseWriter, r *http.Request, key string) {
	var p domain.CustomerProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	s.save(w, r, key, session.SetProfile(p))
}

func (s *Server) handleCatalogPut(w http.ResponseWriter, r *http.Request, key string) {
	var c domain.Catalog
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		if errors.Is(err, domain.ErrInvalidParameter) {
			writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	s.save(w, r, key, session.SetCatalog(&c))
}

type StepRequest struct {
	Step session.Step `json:"step"`
}

func (s *Server) handleStepPut(w http.ResponseWriter, r *http.Request, key string) {
	var req StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	s.save(w, r, key, session.GoTo(req.Step))
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, key string, m session.Mutation) {
	snap, err := s.Sessions.Save(r.Context(), key, m)
	var perr *session.PersistenceError
	switch {
	case errors.As(err, &perr):
		writeJSON(w, http.StatusOK, newSnapshotView(key, snap, []string{"changes are kept in memory only: " + perr.Err.Error()}))
	case err != nil:
		s.writeFailure(w, err)
	default:
		writeJSON(w, http.StatusOK, newSnapshotView(key, snap, nil))
	}
}

func (s *Server) handleSessionRecommend(w http.ResponseWriter, r *http.Request, key string) {
	var req RecommendOptions
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	opts, err := req.options()
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	res, err := s.Analysis.Run(r.Context(), key, opts)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	view := newSnapshotView(key, res.Snapshot, nil)
	writeJSON(w, http.StatusOK, RecommendResponse{
		Recommendations: res.Outcome.Recommendations,
		EngineUsed:      res.Outcome.EngineUsed,
		Label:           res.Outcome.EngineUsed.Label(),
		ExportName:      res.Outcome.Set(res.Snapshot.ProfileVersion).ExportName(),
		Warnings:        res.Warnings,
		Session:         &view,
	})
}

// ---- Errors ----

type engineFailure struct {
	Engine domain.EngineTag `json:"engine"`
	Reason string           `json:"reason"`
}

type errorResponse struct {
	Error    string          `json:"error"`
	Message  string          `json:"message"`
	Failures []engineFailure `json:"failures,omitempty"`
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var none *domain.NoEngineAvailableError
	switch {
	case errors.As(err, &none):
		resp := errorResponse{Error: "no_engine_available", Message: err.Error()}
		for _, f := range none.Failures {
			resp.Failures = append(resp.Failures, engineFailure{Engine: f.Engine, Reason: f.Err.Error()})
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, domain.ErrInvalidWeights):
		writeError(w, http.StatusUnprocessableEntity, "invalid_weights", err.Error())
	case errors.Is(err, domain.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
	case errors.Is(err, session.ErrStepNotAllowed):
		writeError(w, http.StatusConflict, "step_not_allowed", err.Error())
	case errors.Is(err, session.ErrStaleResult):
		writeError(w, http.StatusConflict, "stale_result", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "cancelled", err.Error())
	default:
		s.Logger.Printf("http: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
