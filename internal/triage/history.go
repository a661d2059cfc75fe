package triage

import (
	"context"
	"fmt"
	"math"
	"time"
)

// HistoryStats summarizes a set of readings. Averages are computed over
// readings with positive values only; sensor faults are excluded from the
// means but counted separately.
type HistoryStats struct {
	AvgSpO2           float64   `json:"avg_spo2"`
	AvgHeartRate      float64   `json:"avg_heart_rate"`
	Records           int       `json:"records_count"`
	FirstAt           time.Time `json:"first_record_at"`
	LastAt            time.Time `json:"last_record_at"`
	CriticalSpO2Count int       `json:"critical_spo2_count"`
	CriticalHRCount   int       `json:"critical_hr_count"`
	BothCount         int       `json:"critical_both_count"`
	SensorErrorCount  int       `json:"sensor_errors"`
}

// HistoryReport is a casualty's reading history with summary statistics.
// Stats is nil when there are no readings in the window.
type HistoryReport struct {
	Casualty   *Casualty       `json:"casualty"`
	Evacuation *Evacuation     `json:"evacuation,omitempty"`
	Stats      *HistoryStats   `json:"statistics,omitempty"`
	Readings   []*VitalReading `json:"readings"`
}

// History returns the casualty's readings (newest first), optionally
// restricted to the last `days` days, with summary statistics. ok=false when
// the casualty does not exist.
func (s *Service) History(ctx context.Context, devEUI string, days int) (*HistoryReport, bool, error) {
	c, ok, err := s.store.GetCasualty(ctx, devEUI)
	if err != nil || !ok {
		return nil, false, err
	}

	var since time.Time
	if days > 0 {
		since = s.now().UTC().AddDate(0, 0, -days)
	}

	readings, err := s.store.Readings(ctx, devEUI, since)
	if err != nil {
		return nil, false, fmt.Errorf("readings for %s: %w", devEUI, err)
	}

	evac, _, err := s.store.GetEvacuation(ctx, devEUI)
	if err != nil {
		return nil, false, fmt.Errorf("evacuation for %s: %w", devEUI, err)
	}

	report := &HistoryReport{
		Casualty:   c,
		Evacuation: evac,
		Stats:      summarize(readings),
		Readings:   readings,
	}
	return report, true, nil
}

// summarize computes HistoryStats over readings ordered newest first.
func summarize(readings []*VitalReading) *HistoryStats {
	if len(readings) == 0 {
		return nil
	}

	st := &HistoryStats{
		Records: len(readings),
		FirstAt: readings[len(readings)-1].Timestamp,
		LastAt:  readings[0].Timestamp,
	}

	var spo2Sum, spo2N, hrSum, hrN int
	for _, r := range readings {
		if r.SpO2 > 0 {
			spo2Sum += r.SpO2
			spo2N++
		}
		if r.HeartRate > 0 {
			hrSum += r.HeartRate
			hrN++
		}

		switch r.Severity {
		case SeveritySpO2:
			st.CriticalSpO2Count++
		case SeverityHR:
			st.CriticalHRCount++
		case SeverityBoth:
			st.CriticalSpO2Count++
			st.CriticalHRCount++
			st.BothCount++
		case SeveritySensorError:
			st.SensorErrorCount++
		}
	}

	if spo2N > 0 {
		st.AvgSpO2 = round1(float64(spo2Sum) / float64(spo2N))
	}
	if hrN > 0 {
		st.AvgHeartRate = round1(float64(hrSum) / float64(hrN))
	}
	return st
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
