package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/aggregator"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/confidence"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/principal"
)

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := decodeJSON(w, r, v, defaultBodyLimit); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func tenantOf(r *http.Request) string {
	return chi.URLParam(r, "tenantID")
}

func cardIDOf(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "cardID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid card id")
		return uuid.Nil, false
	}
	return id, true
}

type aggregateRequest struct {
	Signals    []models.Signal        `json:"signals"`
	MaxItems   *int                   `json:"maxItems"`
	Thresholds *aggregator.Thresholds `json:"thresholds"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := decodeJSON(w, r, &req, aggregateBodyLimit); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	opts := s.aggregator.Defaults()
	if req.MaxItems != nil {
		opts.MaxItems = *req.MaxItems
	}
	if req.Thresholds != nil {
		opts.Thresholds = req.Thresholds.WithDefaults(opts.Thresholds)
	}
	items := s.aggregator.Aggregate(tenantOf(r), req.Signals, opts)
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleRunPass(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusServiceUnavailable, codeUnavailable, "aggregation passes are not configured")
		return
	}
	res, err := s.runner.RunPass(r.Context(), tenantOf(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleResolveMetric(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("default")
	if raw == "" {
		respondError(w, http.StatusBadRequest, codeBadRequest, "default is required")
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "default must be a number")
		return
	}
	m, err := s.resolver.Resolve(r.Context(), tenantOf(r), chi.URLParam(r, "key"), confidence.EstimateOf(value, q.Get("source")))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

type resolveMetricsRequest struct {
	Metrics []struct {
		Key     string   `json:"key"`
		Default *float64 `json:"default"`
		Source  string   `json:"source"`
	} `json:"metrics"`
}

func (s *Server) handleResolveMetrics(w http.ResponseWriter, r *http.Request) {
	var req resolveMetricsRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	reqs := make([]confidence.Request, 0, len(req.Metrics))
	for _, m := range req.Metrics {
		if m.Key == "" || m.Default == nil {
			respondError(w, http.StatusBadRequest, codeBadRequest, "every metric needs key and default")
			return
		}
		reqs = append(reqs, confidence.Request{Key: m.Key, Estimate: confidence.EstimateOf(*m.Default, m.Source)})
	}
	out, err := s.resolver.ResolveMany(r.Context(), tenantOf(r), reqs)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"metrics": out})
}

type createCardRequest struct {
	Item   *models.PriorityItem `json:"item"`
	Signal *models.Signal       `json:"signal"`
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if (req.Item == nil) == (req.Signal == nil) {
		respondError(w, http.StatusBadRequest, codeBadRequest, "exactly one of item or signal is required")
		return
	}
	actor := principal.Actor(r.Context())
	var (
		card models.DecisionCard
		err  error
	)
	if req.Item != nil {
		card, err = s.cards.CreateFromItem(r.Context(), tenantOf(r), *req.Item, actor)
	} else {
		card, err = s.cards.CreateFromSignal(r.Context(), tenantOf(r), *req.Signal, actor)
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, card)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	open, err := s.cards.ListOpen(r.Context(), tenantOf(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if open == nil {
		open = []models.DecisionCard{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"cards": open})
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	card, err := s.cards.Get(r.Context(), tenantOf(r), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleCardPath(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	path, err := s.cards.Path(r.Context(), tenantOf(r), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, path)
}

func (s *Server) handleCardHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	history, err := s.cards.History(r.Context(), tenantOf(r), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleOpenCard(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	card, err := s.cards.Open(r.Context(), tenantOf(r), id, principal.Actor(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleStartCard(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	card, err := s.cards.Start(r.Context(), tenantOf(r), id, principal.Actor(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

type transitionRequest struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	action, err := models.ParseDecision(strings.ToUpper(strings.TrimSpace(req.Action)))
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	card, err := s.cards.Transition(r.Context(), tenantOf(r), id, action, principal.Actor(r.Context()), req.Comment)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

type escalateRequest struct {
	ToRole string `json:"toRole"`
	Reason string `json:"reason"`
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	var req escalateRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	card, err := s.cards.Escalate(r.Context(), tenantOf(r), id, strings.TrimSpace(req.ToRole), principal.Actor(r.Context()), req.Reason)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleResetEscalation(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	card, err := s.cards.ResetEscalation(r.Context(), tenantOf(r), id, principal.Actor(r.Context()), req.Reason)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	card, err := s.cards.Reactivate(r.Context(), tenantOf(r), id, principal.Actor(r.Context()), req.Reason)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

type linkAlertRequest struct {
	AlertID string `json:"alertId"`
}

func (s *Server) handleLinkAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDOf(w, r)
	if !ok {
		return
	}
	var req linkAlertRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	alertID, err := uuid.Parse(req.AlertID)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid alert id")
		return
	}
	alert, err := s.cards.LinkToAlert(r.Context(), tenantOf(r), id, alertID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.cards.VisibleAlerts(r.Context(), tenantOf(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

type raiseAlertRequest struct {
	SubjectID string `json:"subjectId"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

func (s *Server) handleRaiseAlert(w http.ResponseWriter, r *http.Request) {
	var req raiseAlertRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	alert, err := s.cards.RaiseAlert(r.Context(), tenantOf(r), models.Alert{
		SubjectID: req.SubjectID,
		Kind:      req.Kind,
		Message:   req.Message,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, alert)
}
