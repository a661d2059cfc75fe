// Package casualtyapi exposes the triage query and command surface over
// HTTP. Read endpoints are open; mutating endpoints sit behind bearer-token
// auth when a token is configured.
package casualtyapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medevac/internal/authmw"
	"github.com/linnemanlabs/medevac/internal/triage"
)

// TriageService defines the business operations casualtyapi needs.
type TriageService interface {
	Roster(ctx context.Context) ([]*triage.RankedCasualty, error)
	Casualty(ctx context.Context, devEUI string) (*triage.Casualty, bool, error)
	LatestReading(ctx context.Context, devEUI string) (*triage.VitalReading, bool, error)
	Evacuation(ctx context.Context, devEUI string) (*triage.Evacuation, bool, error)
	History(ctx context.Context, devEUI string, days int) (*triage.HistoryReport, bool, error)
	Prioritized(ctx context.Context, mode triage.RankMode) ([]*triage.RankedCasualty, error)
	IssuesSummary(ctx context.Context) (*triage.IssueSummary, error)
	EvacuationsSummary(ctx context.Context) (*triage.EvacuationSummary, error)
	Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]*triage.ProximityHit, error)
	NearCasualty(ctx context.Context, devEUI string, radiusKm float64) ([]*triage.ProximityHit, error)
	StartEvacuation(ctx context.Context, devEUI, team string) (*triage.TransitionResult, error)
	CompleteEvacuation(ctx context.Context, devEUI string) (*triage.TransitionResult, error)
	CancelEvacuation(ctx context.Context, devEUI string) (*triage.TransitionResult, error)
	SetEvacuationPriority(ctx context.Context, devEUI string, priority int) (*triage.Evacuation, error)
	Alerts(ctx context.Context, unreadOnly bool) ([]*triage.Alert, error)
	MarkAlertRead(ctx context.Context, id string) (bool, error)
	MarkAllAlertsRead(ctx context.Context) (int, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger      log.Logger
	svc         TriageService
	token       string
	defaultMode triage.RankMode
}

// New creates a new API handler. token guards the mutating routes; empty
// leaves them open. defaultMode applies to ranking requests that do not
// specify one; empty falls back to basic.
func New(logger log.Logger, svc TriageService, token string, defaultMode triage.RankMode) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if defaultMode == "" {
		defaultMode = triage.RankBasic
	}
	return &API{
		logger:      logger,
		svc:         svc,
		token:       token,
		defaultMode: defaultMode,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/casualties", a.handleListCasualties)
		r.Get("/casualties/prioritized", a.handlePrioritized)
		r.Get("/casualties/issues-summary", a.handleIssuesSummary)
		r.Get("/casualties/evacuation-summary", a.handleEvacuationsSummary)
		r.Get("/casualties/nearby", a.handleNearby)
		r.Get("/casualties/{devEui}", a.handleGetCasualty)
		r.Get("/casualties/{devEui}/history", a.handleHistory)
		r.Get("/casualties/{devEui}/near", a.handleNearCasualty)
		r.Get("/alerts", a.handleListAlerts)

		r.Group(func(r chi.Router) {
			if a.token != "" {
				r.Use(authmw.BearerToken(a.token))
			}
			r.Post("/casualties/{devEui}/evacuation/start", a.handleEvacStart)
			r.Post("/casualties/{devEui}/evacuation/complete", a.handleEvacComplete)
			r.Post("/casualties/{devEui}/evacuation/cancel", a.handleEvacCancel)
			r.Put("/casualties/{devEui}/evacuation/priority", a.handleEvacPriority)
			r.Post("/alerts/{id}/read", a.handleMarkAlertRead)
			r.Post("/alerts/read-all", a.handleMarkAllAlertsRead)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
