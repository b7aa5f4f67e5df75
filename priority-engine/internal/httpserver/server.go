package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/aggregator"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/cards"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/confidence"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/pass"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/principal"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/store"
)

const (
	defaultBodyLimit   = 1 << 20
	aggregateBodyLimit = 8 << 20
)

// Deps are the services behind the HTTP surface. Runner may be nil, in which
// case on-demand passes are unavailable.
type Deps struct {
	Store      store.Store
	Cards      *cards.Service
	Resolver   *confidence.Resolver
	Aggregator *aggregator.Aggregator
	Runner     *pass.Runner
	Principals *principal.Extractor
	Logger     *zap.Logger
}

type Server struct {
	db         store.Store
	cards      *cards.Service
	resolver   *confidence.Resolver
	aggregator *aggregator.Aggregator
	runner     *pass.Runner
	principals *principal.Extractor
	logger     *zap.Logger
}

func New(deps Deps) *Server {
	s := &Server{
		db:         deps.Store,
		cards:      deps.Cards,
		resolver:   deps.Resolver,
		aggregator: deps.Aggregator,
		runner:     deps.Runner,
		principals: deps.Principals,
		logger:     logging.OrNop(deps.Logger),
	}
	if s.principals == nil {
		s.principals = principal.NewExtractor("")
	}
	if s.aggregator == nil {
		s.aggregator = aggregator.New(s.logger, aggregator.Options{})
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(s.principalMiddleware)

		r.Post("/aggregate", s.handleAggregate)
		r.Post("/passes", s.handleRunPass)

		r.Get("/metrics/{key}", s.handleResolveMetric)
		r.Post("/metrics/resolve", s.handleResolveMetrics)

		r.Route("/cards", func(r chi.Router) {
			r.Get("/", s.handleListCards)
			r.Post("/", s.handleCreateCard)
			r.Route("/{cardID}", func(r chi.Router) {
				r.Get("/", s.handleGetCard)
				r.Get("/path", s.handleCardPath)
				r.Get("/history", s.handleCardHistory)
				r.Post("/open", s.handleOpenCard)
				r.Post("/start", s.handleStartCard)
				r.Post("/transition", s.handleTransition)
				r.Post("/escalate", s.handleEscalate)
				r.Post("/reset", s.handleResetEscalation)
				r.Post("/reactivate", s.handleReactivate)
				r.Post("/alerts", s.handleLinkAlert)
			})
		})

		r.Get("/alerts", s.handleListAlerts)
		r.Post("/alerts", s.handleRaiseAlert)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.db.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = "down"
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["db"] = "up"
	respondJSON(w, http.StatusOK, status)
}

// principalMiddleware attaches the acting principal for the path tenant.
func (s *Server) principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		if tenantID == "" {
			respondError(w, http.StatusBadRequest, codeBadRequest, "tenant required")
			return
		}
		p, err := s.principals.Extract(r, tenantID)
		switch {
		case errors.Is(err, principal.ErrTenantMismatch):
			respondError(w, http.StatusForbidden, codeForbidden, err.Error())
			return
		case err != nil:
			respondError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(principal.WithPrincipal(r.Context(), p)))
	})
}

const (
	codeBadRequest        = "BAD_REQUEST"
	codeUnauthorized      = "UNAUTHORIZED"
	codeForbidden         = "FORBIDDEN"
	codeNotFound          = "NOT_FOUND"
	codeAlreadyResolved   = "ALREADY_RESOLVED"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeNoImpact          = "NO_IMPACT"
	codeUnavailable       = "UNAVAILABLE"
	codeInternal          = "INTERNAL"
)

// respondServiceError maps service errors onto status codes.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, cards.ErrAlreadyResolved):
		respondError(w, http.StatusConflict, codeAlreadyResolved, err.Error())
	case errors.Is(err, cards.ErrInvalidTransition):
		respondError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.Is(err, cards.ErrNoImpact):
		respondError(w, http.StatusUnprocessableEntity, codeNoImpact, err.Error())
	case errors.Is(err, cards.ErrInvalidCard), errors.Is(err, confidence.ErrMissingDefault):
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("requestId", middleware.GetReqID(r.Context())),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, limit int64) error {
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
		"code":  code,
	})
}
