package triage

import (
	"context"
	"fmt"
	"sort"
)

// RankMode selects the tie-break rule for triage ranking. The source system
// exhibited both variants; they are kept as named modes until product
// settles on one.
type RankMode string

const (
	// RankBasic orders by severity tier only (stable: insertion order
	// breaks ties).
	RankBasic RankMode = "basic"

	// RankDurationWeighted orders by severity tier, then by descending
	// sustained-critical duration.
	RankDurationWeighted RankMode = "duration"
)

// ParseRankMode validates a mode string, defaulting empty to RankBasic.
func ParseRankMode(s string) (RankMode, error) {
	switch RankMode(s) {
	case "":
		return RankBasic, nil
	case RankBasic, RankDurationWeighted:
		return RankMode(s), nil
	default:
		return "", fmt.Errorf("unknown rank mode %q", s)
	}
}

// Rank tiers, ascending urgency order for pickup. Casualties without any
// reading form their own bottom tier.
const (
	TierBoth        = 1
	TierSingleVital = 2
	TierSensorError = 3
	TierNormal      = 4
	TierNoReading   = 5
)

// RankTier maps a latest-reading severity to its tier.
func RankTier(sev Severity) int {
	switch sev {
	case SeverityBoth:
		return TierBoth
	case SeveritySpO2, SeverityHR:
		return TierSingleVital
	case SeveritySensorError:
		return TierSensorError
	default:
		return TierNormal
	}
}

// RankedCasualty is one row of the triage ranking.
type RankedCasualty struct {
	Casualty        *Casualty     `json:"casualty"`
	Latest          *VitalReading `json:"latest_reading,omitempty"`
	Evacuation      *Evacuation   `json:"evacuation,omitempty"`
	Tier            int           `json:"tier"`
	CriticalMinutes float64       `json:"critical_minutes,omitempty"`
}

// Roster returns every known casualty, evacuated or not, with its latest
// reading, evacuation record, and rank tier. Ordering follows the store's
// casualty listing (family name, then given name).
func (s *Service) Roster(ctx context.Context) ([]*RankedCasualty, error) {
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

	roster := make([]*RankedCasualty, 0, len(casualties))
	for _, c := range casualties {
		rc := &RankedCasualty{
			Casualty:   c,
			Latest:     latest[c.DevEUI],
			Evacuation: evacs[c.DevEUI],
			Tier:       TierNoReading,
		}
		if rc.Latest != nil {
			rc.Tier = RankTier(rc.Latest.Severity)
		}
		roster = append(roster, rc)
	}
	return roster, nil
}

// Prioritized returns all non-evacuated casualties ordered for pickup. The
// view is recomputed in full from current data on every call; two calls see
// independent snapshots.
func (s *Service) Prioritized(ctx context.Context, mode RankMode) ([]*RankedCasualty, error) {
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

	ranked := make([]*RankedCasualty, 0, len(casualties))
	for _, c := range casualties {
		if evacs[c.DevEUI].Evacuated() {
			continue
		}

		rc := &RankedCasualty{
			Casualty:   c,
			Latest:     latest[c.DevEUI],
			Evacuation: evacs[c.DevEUI],
			Tier:       TierNoReading,
		}
		if rc.Latest != nil {
			rc.Tier = RankTier(rc.Latest.Severity)
		}

		if mode == RankDurationWeighted {
			_, minutes, err := s.SustainedCritical(ctx, c.DevEUI)
			if err != nil {
				return nil, err
			}
			rc.CriticalMinutes = minutes
		}

		ranked = append(ranked, rc)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Tier != ranked[j].Tier {
			return ranked[i].Tier < ranked[j].Tier
		}
		if mode == RankDurationWeighted {
			return ranked[i].CriticalMinutes > ranked[j].CriticalMinutes
		}
		return false
	})

	return ranked, nil
}
