package triage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// ErrNoLocation is returned when a proximity query needs a casualty's
// position but the casualty has no readings.
var ErrNoLocation = errors.New("casualty has no location data")

// Haversine returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	lat1 *= degToRad
	lon1 *= degToRad
	lat2 *= degToRad
	lon2 *= degToRad

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// ProximityHit is one casualty found near a query point.
type ProximityHit struct {
	Casualty   *Casualty     `json:"casualty"`
	Latest     *VitalReading `json:"latest_reading"`
	DistanceKm float64       `json:"distance_km"`
}

// Nearby returns non-evacuated casualties whose latest reading lies within
// radiusKm of the given point, sorted by ascending distance. Casualties
// without readings are skipped: no position, no hit.
func (s *Service) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]*ProximityHit, error) {
	return s.withinRadius(ctx, lat, lon, radiusKm, "")
}

// NearCasualty returns other non-evacuated casualties within radiusKm of the
// given casualty's latest position, sorted by ascending distance. Returns
// ErrNoLocation when the subject has no readings.
func (s *Service) NearCasualty(ctx context.Context, devEUI string, radiusKm float64) ([]*ProximityHit, error) {
	origin, ok, err := s.store.LatestReading(ctx, devEUI)
	if err != nil {
		return nil, fmt.Errorf("latest reading for %s: %w", devEUI, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", devEUI, ErrNoLocation)
	}
	return s.withinRadius(ctx, origin.Latitude, origin.Longitude, radiusKm, devEUI)
}

func (s *Service) withinRadius(ctx context.Context, lat, lon, radiusKm float64, excludeEUI string) ([]*ProximityHit, error) {
	casualties, err := s.store.ListCasualties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list casualties: %w", err)
	}
	latest, err := s.store.LatestReadings(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	evacs, err := s.store.ListEvacuations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list evacuations: %w", err)
	}

	var hits []*ProximityHit
	for _, c := range casualties {
		if c.DevEUI == excludeEUI || evacs[c.DevEUI].Evacuated() {
			continue
		}
		r := latest[c.DevEUI]
		if r == nil {
			continue
		}
		d := Haversine(lat, lon, r.Latitude, r.Longitude)
		if d <= radiusKm {
			hits = append(hits, &ProximityHit{Casualty: c, Latest: r, DistanceKm: d})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].DistanceKm < hits[j].DistanceKm })
	return hits, nil
}
