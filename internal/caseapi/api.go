// Package caseapi serves the operator HTTP API over the case on screen:
// scanned alerts, the current affordances, action triggers and flow records.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/caseinv/internal/authmw"
	"github.com/linnemanlabs/caseinv/internal/rules"
	"github.com/linnemanlabs/caseinv/internal/triage"
)

const (
	defaultFlowLimit = 20
	maxFlowLimit     = 200
)

// CaseService defines the business operations caseapi needs.
type CaseService interface {
	Refresh(ctx context.Context) (triage.Snapshot, error)
	Investigate(ctx context.Context, index int) (string, error)
	Trigger(ctx context.Context, action rules.Action) (*triage.Flow, error)
	Get(ctx context.Context, id string) (*triage.Flow, bool, error)
	Recent(ctx context.Context, limit int) ([]*triage.Flow, error)
	Active() (string, bool)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    CaseService
}

// New creates a new API handler.
func New(logger log.Logger, svc CaseService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("case service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/case", a.handleCase)
		r.Get("/alerts", a.handleListAlerts)
		r.Post("/alerts/{index}/investigate", a.handleInvestigate)
		r.Get("/affordances", a.handleAffordances)
		r.Post("/actions/{action}", a.handleTrigger)
		r.Get("/flows", a.handleListFlows)
		r.Get("/flows/{id}", a.handleGetFlow)
	})
}

func (a *API) handleCase(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.refresh(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, caseFromSnapshot(snap, a.activeFlow()))
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.refresh(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alertViews(snap.Alerts),
	})
}

func (a *API) handleAffordances(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.refresh(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, affordanceView{
		Decision:   snap.Decision,
		ActiveFlow: a.activeFlow(),
	})
}

func (a *API) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid alert index")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("caseinv.alert.index", index))

	link, err := a.svc.Investigate(r.Context(), index)
	switch {
	case err == nil:
	case errors.Is(err, triage.ErrNoAlert):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, triage.ErrNoLink):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		a.logger.Error(r.Context(), err, "failed to open evidence link", "index", index)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.logger.Info(r.Context(), "evidence link opened", "index", index, "operator", operator(r))
	writeJSON(w, http.StatusOK, map[string]any{"link": link})
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	action := rules.Action(chi.URLParam(r, "action"))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("caseinv.action", string(action)))

	flow, err := a.svc.Trigger(r.Context(), action)
	if err != nil {
		status := triggerStatus(err)
		if status == http.StatusInternalServerError {
			a.logger.Error(r.Context(), err, "failed to start flow", "action", action)
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	span.SetAttributes(attribute.String("caseinv.flow.id", flow.ID))
	a.logger.Info(r.Context(), "flow started",
		"flow_id", flow.ID,
		"action", action,
		"operator", operator(r),
	)
	writeJSON(w, http.StatusAccepted, flow)
}

func (a *API) handleListFlows(w http.ResponseWriter, r *http.Request) {
	limit := defaultFlowLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxFlowLimit {
			writeError(w, http.StatusBadRequest, "limit must be 1..200")
			return
		}
		limit = n
	}

	flows, err := a.svc.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list flows")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if flows == nil {
		flows = []*triage.Flow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

func (a *API) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("caseinv.flow.id", id))

	flow, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get flow", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("caseinv.flow.status", string(flow.Status)))
	writeJSON(w, http.StatusOK, flow)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) (triage.Snapshot, bool) {
	snap, err := a.svc.Refresh(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to scan case page")
		writeError(w, http.StatusBadGateway, "case page unavailable")
		return triage.Snapshot{}, false
	}
	return snap, true
}

func (a *API) activeFlow() string {
	id, _ := a.svc.Active()
	return id
}

// triggerStatus maps a Trigger error to its HTTP status.
func triggerStatus(err error) int {
	var cfgErr *triage.ConfigError
	switch {
	case errors.Is(err, triage.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, triage.ErrFlowActive), errors.Is(err, triage.ErrNotOffered):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func operator(r *http.Request) string {
	if op, ok := authmw.Operator(r.Context()); ok {
		return op
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
