package casualtyapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/medevac/internal/triage"
)

type startEvacRequest struct {
	Team string `json:"team"`
}

func (a *API) handleEvacStart(w http.ResponseWriter, r *http.Request) {
	var req startEvacRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}

	a.handleTransition(w, r, "start", func(ctx context.Context, devEUI string) (*triage.TransitionResult, error) {
		return a.svc.StartEvacuation(ctx, devEUI, req.Team)
	})
}

func (a *API) handleEvacComplete(w http.ResponseWriter, r *http.Request) {
	a.handleTransition(w, r, "complete", a.svc.CompleteEvacuation)
}

func (a *API) handleEvacCancel(w http.ResponseWriter, r *http.Request) {
	a.handleTransition(w, r, "cancel", a.svc.CancelEvacuation)
}

// handleTransition runs one evacuation transition and writes the outcome:
// 200 when the transition applied, 409 with the rejection reason when the
// state machine refused it.
func (a *API) handleTransition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (*triage.TransitionResult, error)) {
	devEUI := chi.URLParam(r, "devEui")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("medevac.casualty.dev_eui", devEUI),
		attribute.String("medevac.evac.op", op),
	)

	res, err := fn(r.Context(), devEUI)
	if err != nil {
		a.logger.Error(r.Context(), err, "evacuation transition failed", "op", op, "dev_eui", devEUI)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.Bool("medevac.evac.applied", res.Applied))

	status := http.StatusOK
	if !res.Applied {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

type priorityRequest struct {
	Priority *int `json:"priority"`
}

func (a *API) handleEvacPriority(w http.ResponseWriter, r *http.Request) {
	devEUI := chi.URLParam(r, "devEui")

	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Priority == nil {
		http.Error(w, `{"error":"priority is required"}`, http.StatusBadRequest)
		return
	}

	e, err := a.svc.SetEvacuationPriority(r.Context(), devEUI, *req.Priority)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to set evacuation priority", "dev_eui", devEUI)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
