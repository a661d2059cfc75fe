package casualtyapi

import (
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/medevac/internal/triage"
)

// Search radius defaults in kilometres, matching the field procedure: a wide
// sweep around a map point, a tight sweep around a casualty awaiting pickup.
const (
	defaultNearbyRadiusKm = 1.0
	defaultNearRadiusKm   = 0.5
)

func (a *API) handleListCasualties(w http.ResponseWriter, r *http.Request) {
	roster, err := a.svc.Roster(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list casualties")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// casualtyDetail is the response shape for the single-casualty endpoint.
type casualtyDetail struct {
	Casualty   *triage.Casualty     `json:"casualty"`
	Latest     *triage.VitalReading `json:"latest_reading,omitempty"`
	Evacuation *triage.Evacuation   `json:"evacuation,omitempty"`
	Tier       int                  `json:"tier"`
}

func (a *API) handleGetCasualty(w http.ResponseWriter, r *http.Request) {
	devEUI := chi.URLParam(r, "devEui")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("medevac.casualty.dev_eui", devEUI))

	c, ok, err := a.svc.Casualty(r.Context(), devEUI)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get casualty", "dev_eui", devEUI)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	detail := casualtyDetail{Casualty: c, Tier: triage.TierNoReading}
	if latest, ok, err := a.svc.LatestReading(r.Context(), devEUI); err != nil {
		a.logger.Error(r.Context(), err, "failed to get latest reading", "dev_eui", devEUI)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	} else if ok {
		detail.Latest = latest
		detail.Tier = triage.RankTier(latest.Severity)
	}
	if evac, ok, err := a.svc.Evacuation(r.Context(), devEUI); err != nil {
		a.logger.Error(r.Context(), err, "failed to get evacuation", "dev_eui", devEUI)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	} else if ok {
		detail.Evacuation = evac
	}

	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	devEUI := chi.URLParam(r, "devEui")

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		var err error
		days, err = strconv.Atoi(raw)
		if err != nil || days < 0 {
			http.Error(w, `{"error":"days must be a non-negative integer"}`, http.StatusBadRequest)
			return
		}
	}

	report, ok, err := a.svc.History(r.Context(), devEUI, days)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get history", "dev_eui", devEUI)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handlePrioritized(w http.ResponseWriter, r *http.Request) {
	mode := a.defaultMode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		var err error
		mode, err = triage.ParseRankMode(raw)
		if err != nil {
			http.Error(w, `{"error":"mode must be basic or duration"}`, http.StatusBadRequest)
			return
		}
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("medevac.rank.mode", string(mode)))

	ranked, err := a.svc.Prioritized(r.Context(), mode)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to rank casualties", "mode", string(mode))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (a *API) handleIssuesSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.IssuesSummary(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to summarize issues")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleEvacuationsSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.EvacuationsSummary(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to summarize evacuations")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		http.Error(w, `{"error":"lat and lon are required coordinates"}`, http.StatusBadRequest)
		return
	}
	radius, err := parseRadius(q.Get("radius"), defaultNearbyRadiusKm)
	if err != nil {
		http.Error(w, `{"error":"radius must be a positive number"}`, http.StatusBadRequest)
		return
	}

	hits, err := a.svc.Nearby(r.Context(), lat, lon, radius)
	if err != nil {
		a.logger.Error(r.Context(), err, "proximity query failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (a *API) handleNearCasualty(w http.ResponseWriter, r *http.Request) {
	devEUI := chi.URLParam(r, "devEui")

	radius, err := parseRadius(r.URL.Query().Get("radius"), defaultNearRadiusKm)
	if err != nil {
		http.Error(w, `{"error":"radius must be a positive number"}`, http.StatusBadRequest)
		return
	}

	hits, err := a.svc.NearCasualty(r.Context(), devEUI, radius)
	if err != nil {
		if errors.Is(err, triage.ErrNoLocation) {
			http.Error(w, `{"error":"no location data for casualty"}`, http.StatusNotFound)
			return
		}
		a.logger.Error(r.Context(), err, "proximity query failed", "dev_eui", devEUI)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func parseRadius(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	radius, err := strconv.ParseFloat(raw, 64)
	if err != nil || radius <= 0 {
		return 0, errors.New("invalid radius")
	}
	return radius, nil
}
