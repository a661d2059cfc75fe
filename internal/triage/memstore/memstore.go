// Package memstore provides an in-memory implementation of triage.Store.
// Suitable for dev and testing; the single mutex also provides the
// per-record write serialization the state machine needs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/medevac/internal/triage"
)

// Store holds all triage state in memory.
type Store struct {
	mu         sync.RWMutex
	casualties map[string]*triage.Casualty
	readings   map[string][]*triage.VitalReading // dev EUI -> readings, append order
	evacs      map[string]*triage.Evacuation
	alerts     []*triage.Alert
	alertByID  map[string]*triage.Alert
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		casualties: make(map[string]*triage.Casualty),
		readings:   make(map[string][]*triage.VitalReading),
		evacs:      make(map[string]*triage.Evacuation),
		alertByID:  make(map[string]*triage.Alert),
	}
}

// RegisterCasualty implements create-or-fetch by device EUI.
func (s *Store) RegisterCasualty(_ context.Context, c *triage.Casualty) (*triage.Casualty, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.casualties[c.DevEUI]; ok {
		cp := *existing
		return &cp, false, nil
	}

	cp := *c
	s.casualties[c.DevEUI] = &cp
	out := cp
	return &out, true, nil
}

// GetCasualty retrieves a casualty by device EUI. Returns a copy.
func (s *Store) GetCasualty(_ context.Context, devEUI string) (*triage.Casualty, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.casualties[devEUI]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

// ListCasualties returns all casualties ordered by family then given name,
// matching the presentation ordering of the query surface.
func (s *Store) ListCasualties(_ context.Context) ([]*triage.Casualty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*triage.Casualty, 0, len(s.casualties))
	for _, c := range s.casualties {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FamilyName != out[j].FamilyName {
			return out[i].FamilyName < out[j].FamilyName
		}
		if out[i].GivenName != out[j].GivenName {
			return out[i].GivenName < out[j].GivenName
		}
		return out[i].DevEUI < out[j].DevEUI
	})
	return out, nil
}

// AppendReading stores a reading and bumps the casualty's last-update time.
func (s *Store) AppendReading(_ context.Context, r *triage.VitalReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.readings[r.DevEUI] = append(s.readings[r.DevEUI], &cp)
	if c, ok := s.casualties[r.DevEUI]; ok {
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// LatestReading returns the reading with the newest timestamp for a casualty.
func (s *Store) LatestReading(_ context.Context, devEUI string) (*triage.VitalReading, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := latestOf(s.readings[devEUI])
	if r == nil {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// LatestReadings returns the newest reading per casualty.
func (s *Store) LatestReadings(_ context.Context) (map[string]*triage.VitalReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*triage.VitalReading, len(s.readings))
	for eui, rs := range s.readings {
		if r := latestOf(rs); r != nil {
			cp := *r
			out[eui] = &cp
		}
	}
	return out, nil
}

// Readings returns a casualty's history newest first; zero since means all.
func (s *Store) Readings(_ context.Context, devEUI string, since time.Time) ([]*triage.VitalReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.VitalReading
	for _, r := range s.readings[devEUI] {
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// EarliestCritical returns the oldest critical-severity reading in the full
// history.
func (s *Store) EarliestCritical(_ context.Context, devEUI string) (*triage.VitalReading, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *triage.VitalReading
	for _, r := range s.readings[devEUI] {
		if !r.Severity.Critical() {
			continue
		}
		if first == nil || r.Timestamp.Before(first.Timestamp) {
			first = r
		}
	}
	if first == nil {
		return nil, false, nil
	}
	cp := *first
	return &cp, true, nil
}

// GetEvacuation retrieves a casualty's evacuation record, if any.
func (s *Store) GetEvacuation(_ context.Context, devEUI string) (*triage.Evacuation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.evacs[devEUI]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

// ListEvacuations returns all evacuation records keyed by device EUI.
func (s *Store) ListEvacuations(_ context.Context) (map[string]*triage.Evacuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*triage.Evacuation, len(s.evacs))
	for eui, e := range s.evacs {
		cp := *e
		out[eui] = &cp
	}
	return out, nil
}

// MutateEvacuation applies mutate under the store lock, creating the record
// with status NEEDED if absent.
func (s *Store) MutateEvacuation(_ context.Context, devEUI string, mutate func(*triage.Evacuation)) (*triage.Evacuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.evacs[devEUI]
	if !ok {
		e = &triage.Evacuation{
			DevEUI: devEUI,
			Status: triage.EvacNeeded,
		}
		s.evacs[devEUI] = e
	}

	mutate(e)
	e.UpdatedAt = time.Now().UTC()

	cp := *e
	return &cp, nil
}

// CreateAlertUnlessUnread inserts the alert unless an unread alert with the
// same (casualty, kind) exists.
func (s *Store) CreateAlertUnlessUnread(_ context.Context, a *triage.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.DevEUI == a.DevEUI && existing.Kind == a.Kind && !existing.Read {
			return false, nil
		}
	}

	cp := *a
	s.alerts = append(s.alerts, &cp)
	s.alertByID[a.ID] = &cp
	return true, nil
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(_ context.Context, id string) (*triage.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alertByID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(_ context.Context, unreadOnly bool) ([]*triage.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.Alert
	for _, a := range s.alerts {
		if unreadOnly && a.Read {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkAlertRead flips the read flag; a second call is a no-op.
func (s *Store) MarkAlertRead(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alertByID[id]
	if !ok || a.Read {
		return false, nil
	}
	a.Read = true
	t := at
	a.ReadAt = &t
	return true, nil
}

// MarkAllAlertsRead marks every unread alert read under a single lock hold.
func (s *Store) MarkAllAlertsRead(_ context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, a := range s.alerts {
		if a.Read {
			continue
		}
		a.Read = true
		t := at
		a.ReadAt = &t
		n++
	}
	return n, nil
}

func latestOf(rs []*triage.VitalReading) *triage.VitalReading {
	var latest *triage.VitalReading
	for _, r := range rs {
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return latest
}
