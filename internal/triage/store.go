package triage

import (
	"context"
	"time"
)

// Store is the persistence interface for the triage engine.
//
// Readings are append-only. MutateEvacuation and the alert write methods must
// serialize concurrent writers on the same record (per-record transaction or
// equivalent) so the state machine's precondition checks hold.
type Store interface {
	// RegisterCasualty is idempotent create-or-fetch by device EUI. It
	// returns the stored record and whether it was created by this call.
	// Defaults are only applied on create; an existing record keeps its
	// name and unit.
	RegisterCasualty(ctx context.Context, c *Casualty) (*Casualty, bool, error)
	GetCasualty(ctx context.Context, devEUI string) (*Casualty, bool, error)
	ListCasualties(ctx context.Context) ([]*Casualty, error)

	// AppendReading persists a reading and bumps the owning casualty's
	// last-update time.
	AppendReading(ctx context.Context, r *VitalReading) error
	LatestReading(ctx context.Context, devEUI string) (*VitalReading, bool, error)
	// LatestReadings returns the most recent reading per casualty, keyed
	// by device EUI. Casualties without readings are absent.
	LatestReadings(ctx context.Context) (map[string]*VitalReading, error)
	// Readings returns a casualty's history, newest first. A zero since
	// returns the full history.
	Readings(ctx context.Context, devEUI string, since time.Time) ([]*VitalReading, error)
	// EarliestCritical returns the oldest reading with a critical severity
	// anywhere in the casualty's history.
	EarliestCritical(ctx context.Context, devEUI string) (*VitalReading, bool, error)

	GetEvacuation(ctx context.Context, devEUI string) (*Evacuation, bool, error)
	ListEvacuations(ctx context.Context) (map[string]*Evacuation, error)
	// MutateEvacuation loads the casualty's evacuation record, creating it
	// with status NEEDED if absent, applies mutate, and persists the
	// result atomically. The returned record reflects the mutation.
	MutateEvacuation(ctx context.Context, devEUI string, mutate func(*Evacuation)) (*Evacuation, error)

	// CreateAlertUnlessUnread inserts the alert unless an unread alert for
	// the same (casualty, kind) already exists; reports whether it was
	// created. The check and insert are atomic.
	CreateAlertUnlessUnread(ctx context.Context, a *Alert) (bool, error)
	GetAlert(ctx context.Context, id string) (*Alert, bool, error)
	ListAlerts(ctx context.Context, unreadOnly bool) ([]*Alert, error)
	// MarkAlertRead flips the read flag. Idempotent: returns false without
	// touching read_at when the alert was already read.
	MarkAlertRead(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkAllAlertsRead marks every alert unread at call time, atomically,
	// and returns how many were affected.
	MarkAllAlertsRead(ctx context.Context, at time.Time) (int, error)
}
