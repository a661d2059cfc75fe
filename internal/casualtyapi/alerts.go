package casualtyapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/medevac/internal/triage"
)

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"

	alerts, err := a.svc.Alerts(r.Context(), unreadOnly)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*triage.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (a *API) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("medevac.alert.id", id))

	ok, err := a.svc.MarkAlertRead(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to mark alert read", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"read": true})
}

func (a *API) handleMarkAllAlertsRead(w http.ResponseWriter, r *http.Request) {
	count, err := a.svc.MarkAllAlertsRead(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to mark all alerts read")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked_read": count})
}
