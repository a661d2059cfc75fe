package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// sustainedCriticalAfter is how long a casualty must have been critical
// before the state counts as sustained.
const sustainedCriticalAfter = 15 * time.Minute

// RaiseAlert creates an alert for the casualty unless an unread alert of the
// same kind already exists, bounding unread volume to one per (casualty,
// kind). Empty kind and message are derived from the reading: a critical
// severity raises CRITICAL_STATE, anything else NEW_CASUALTY. Returns
// whether an alert was created.
func (s *Service) RaiseAlert(ctx context.Context, c *Casualty, r *VitalReading, kind AlertKind, message string) (bool, error) {
	if kind == "" {
		if r.Severity.Critical() {
			kind = AlertCriticalState
		} else {
			kind = AlertNewCasualty
		}
	}
	if message == "" {
		message = defaultAlertMessage(kind, c)
	}

	a := &Alert{
		ID:      ulid.Make().String(),
		DevEUI:  c.DevEUI,
		Kind:    kind,
		Message: message,
		Detail: AlertDetail{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			SpO2:      r.SpO2,
			HeartRate: r.HeartRate,
			Severity:  r.Severity,
		},
		CreatedAt: s.now().UTC(),
	}

	created, err := s.store.CreateAlertUnlessUnread(ctx, a)
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}
	if !created {
		s.metrics.alertDeduped()
		return false, nil
	}

	s.metrics.alert(kind)
	s.logger.Info(ctx, "alert raised",
		"alert_id", a.ID,
		"dev_eui", a.DevEUI,
		"kind", string(a.Kind),
	)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, c, a); err != nil {
			s.logger.Warn(ctx, "alert notification failed", "alert_id", a.ID, "error", err)
		}
	}
	return true, nil
}

func defaultAlertMessage(kind AlertKind, c *Casualty) string {
	name := c.GivenName + " " + c.FamilyName
	switch kind {
	case AlertCriticalState:
		return "Critical vitals: " + name
	case AlertCriticalDuration:
		return "Sustained critical state: " + name
	default:
		return "New casualty detected: " + name
	}
}

// SustainedCritical reports whether the casualty has been in a critical
// state for longer than the sustained threshold, and for how many minutes.
//
// The duration is measured from the earliest critical reading anywhere in
// the history, not from the start of the current unbroken critical run: a
// casualty who recovered and relapsed keeps the original clock. Compatible
// with the deployed behavior; do not tighten without a product decision.
func (s *Service) SustainedCritical(ctx context.Context, devEUI string) (bool, float64, error) {
	first, ok, err := s.store.EarliestCritical(ctx, devEUI)
	if err != nil {
		return false, 0, fmt.Errorf("earliest critical: %w", err)
	}
	if !ok {
		return false, 0, nil
	}

	elapsed := s.now().Sub(first.Timestamp)
	if elapsed > sustainedCriticalAfter {
		return true, elapsed.Minutes(), nil
	}
	return false, 0, nil
}

// Alerts lists alerts, newest first, optionally only unread ones.
func (s *Service) Alerts(ctx context.Context, unreadOnly bool) ([]*Alert, error) {
	return s.store.ListAlerts(ctx, unreadOnly)
}

// MarkAlertRead marks one alert as read. Idempotent; returns whether the
// alert exists.
func (s *Service) MarkAlertRead(ctx context.Context, id string) (bool, error) {
	if _, ok, err := s.store.GetAlert(ctx, id); err != nil || !ok {
		return false, err
	}
	if _, err := s.store.MarkAlertRead(ctx, id, s.now().UTC()); err != nil {
		return false, err
	}
	return true, nil
}

// MarkAllAlertsRead marks every currently unread alert as read and returns
// the count affected.
func (s *Service) MarkAllAlertsRead(ctx context.Context) (int, error) {
	return s.store.MarkAllAlertsRead(ctx, s.now().UTC())
}
