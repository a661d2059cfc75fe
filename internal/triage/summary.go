package triage

import (
	"context"
	"fmt"
)

// IssueCounts is the headline tally of active medical issues among
// non-evacuated casualties.
type IssueCounts struct {
	SpO2Issues   int `json:"spo2_issues"`
	HRIssues     int `json:"hr_issues"`
	BothIssues   int `json:"both_issues"`
	SensorErrors int `json:"sensor_errors"`
	TotalWounded int `json:"total_wounded"`
}

// IssueSummary groups non-evacuated casualties by the severity of their
// latest reading. Casualties reading NORMAL or with no reading count toward
// TotalWounded but appear in no detail group.
type IssueSummary struct {
	Counts  IssueCounts                    `json:"summary"`
	Details map[Severity][]*RankedCasualty `json:"details"`
}

// EvacuationSummary groups every evacuation record by status, each entry
// carrying the casualty and its latest reading.
type EvacuationSummary struct {
	Counts  map[EvacStatus]int               `json:"summary"`
	Details map[EvacStatus][]*RankedCasualty `json:"details"`
}

// IssuesSummary reports the current issue load across all non-evacuated
// casualties, computed from each one's latest reading.
func (s *Service) IssuesSummary(ctx context.Context) (*IssueSummary, error) {
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

	sum := &IssueSummary{
		Details: map[Severity][]*RankedCasualty{
			SeveritySpO2:        {},
			SeverityHR:          {},
			SeverityBoth:        {},
			SeveritySensorError: {},
		},
	}
	for _, c := range casualties {
		if evacs[c.DevEUI].Evacuated() {
			continue
		}
		sum.Counts.TotalWounded++

		r := latest[c.DevEUI]
		if r == nil || r.Severity == SeverityNormal {
			continue
		}
		sum.Details[r.Severity] = append(sum.Details[r.Severity], &RankedCasualty{
			Casualty:   c,
			Latest:     r,
			Evacuation: evacs[c.DevEUI],
			Tier:       RankTier(r.Severity),
		})
		switch r.Severity {
		case SeveritySpO2:
			sum.Counts.SpO2Issues++
		case SeverityHR:
			sum.Counts.HRIssues++
		case SeverityBoth:
			sum.Counts.BothIssues++
		case SeveritySensorError:
			sum.Counts.SensorErrors++
		}
	}
	return sum, nil
}

// EvacuationsSummary reports every evacuation record grouped by status.
// Casualties that never had a transition attempted have no record and do not
// appear.
func (s *Service) EvacuationsSummary(ctx context.Context) (*EvacuationSummary, error) {
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

	sum := &EvacuationSummary{
		Counts: make(map[EvacStatus]int),
		Details: map[EvacStatus][]*RankedCasualty{
			EvacNotNeeded:  {},
			EvacNeeded:     {},
			EvacInProgress: {},
			EvacEvacuated:  {},
		},
	}
	// Iterate in roster order so the groups are stable across calls.
	for _, c := range casualties {
		e := evacs[c.DevEUI]
		if e == nil {
			continue
		}
		rc := &RankedCasualty{
			Casualty:   c,
			Latest:     latest[c.DevEUI],
			Evacuation: e,
			Tier:       TierNoReading,
		}
		if rc.Latest != nil {
			rc.Tier = RankTier(rc.Latest.Severity)
		}
		sum.Details[e.Status] = append(sum.Details[e.Status], rc)
		sum.Counts[e.Status]++
	}
	return sum, nil
}
