package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/medevac/internal/triage"
)

func newCasualty(devEUI, given, family string) *triage.Casualty {
	now := time.Now().UTC()
	return &triage.Casualty{
		DevEUI: devEUI, GivenName: given, FamilyName: family,
		Unit: triage.UnknownName, CreatedAt: now, UpdatedAt: now,
	}
}

func newReading(id, devEUI string, ts time.Time, sev triage.Severity) *triage.VitalReading {
	return &triage.VitalReading{
		ID: id, DevEUI: devEUI, SpO2: 95, HeartRate: 75,
		Timestamp: ts, Severity: sev,
	}
}

func TestStore_RegisterCasualty(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	c, created, err := s.RegisterCasualty(ctx, newCasualty("a1", "John", "Doe"))
	if err != nil {
		t.Fatalf("RegisterCasualty: %v", err)
	}
	if !created {
		t.Error("first register should create")
	}
	if c.DevEUI != "a1" {
		t.Errorf("DevEUI = %q, want a1", c.DevEUI)
	}

	// Second register fetches the existing record; new metadata is ignored.
	c2, created, err := s.RegisterCasualty(ctx, newCasualty("a1", "Other", "Name"))
	if err != nil {
		t.Fatalf("RegisterCasualty: %v", err)
	}
	if created {
		t.Error("second register should not create")
	}
	if c2.GivenName != "John" {
		t.Errorf("GivenName = %q, want original John", c2.GivenName)
	}
}

func TestStore_ListCasualtiesOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, c := range []*triage.Casualty{
		newCasualty("c", "Alice", "Young"),
		newCasualty("a", "Bob", "Adams"),
		newCasualty("b", "Ann", "Adams"),
	} {
		if _, _, err := s.RegisterCasualty(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListCasualties(ctx)
	if err != nil {
		t.Fatalf("ListCasualties: %v", err)
	}
	want := []string{"b", "a", "c"} // Adams/Ann, Adams/Bob, Young/Alice
	for i, w := range want {
		if got[i].DevEUI != w {
			t.Errorf("ListCasualties[%d] = %s, want %s", i, got[i].DevEUI, w)
		}
	}
}

func TestStore_AppendReadingBumpsCasualty(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	c := newCasualty("a1", "John", "Doe")
	c.UpdatedAt = time.Now().Add(-time.Hour).UTC()
	if _, _, err := s.RegisterCasualty(ctx, c); err != nil {
		t.Fatal(err)
	}

	before := c.UpdatedAt
	if err := s.AppendReading(ctx, newReading("r1", "a1", time.Now().UTC(), triage.SeverityNormal)); err != nil {
		t.Fatalf("AppendReading: %v", err)
	}

	got, _, _ := s.GetCasualty(ctx, "a1")
	if !got.UpdatedAt.After(before) {
		t.Errorf("UpdatedAt = %v, want bumped past %v", got.UpdatedAt, before)
	}
}

func TestStore_LatestAndReadings(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Appended out of timestamp order on purpose.
	for _, r := range []*triage.VitalReading{
		newReading("r2", "a1", base.Add(time.Minute), triage.SeverityNormal),
		newReading("r1", "a1", base, triage.SeverityNormal),
		newReading("r3", "a1", base.Add(2*time.Minute), triage.SeverityBoth),
	} {
		if err := s.AppendReading(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	latest, ok, err := s.LatestReading(ctx, "a1")
	if err != nil || !ok {
		t.Fatalf("LatestReading: ok=%v err=%v", ok, err)
	}
	if latest.ID != "r3" {
		t.Errorf("latest = %s, want r3", latest.ID)
	}

	all, err := s.Readings(ctx, "a1", time.Time{})
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(all) != 3 || all[0].ID != "r3" || all[2].ID != "r1" {
		t.Errorf("Readings order = %v, want newest first", ids(all))
	}

	windowed, err := s.Readings(ctx, "a1", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("windowed = %d readings, want 2", len(windowed))
	}
}

func TestStore_EarliestCritical(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, ok, _ := s.EarliestCritical(ctx, "a1"); ok {
		t.Error("expected no critical reading in empty store")
	}

	for _, r := range []*triage.VitalReading{
		newReading("r1", "a1", base, triage.SeverityNormal),
		newReading("r2", "a1", base.Add(time.Minute), triage.SeverityHR),
		newReading("r3", "a1", base.Add(2*time.Minute), triage.SeverityBoth),
	} {
		if err := s.AppendReading(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, ok, err := s.EarliestCritical(ctx, "a1")
	if err != nil || !ok {
		t.Fatalf("EarliestCritical: ok=%v err=%v", ok, err)
	}
	if got.ID != "r2" {
		t.Errorf("earliest critical = %s, want r2", got.ID)
	}
}

func TestStore_MutateEvacuationLazyCreate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if _, ok, _ := s.GetEvacuation(ctx, "a1"); ok {
		t.Fatal("expected no record before first mutate")
	}

	e, err := s.MutateEvacuation(ctx, "a1", func(e *triage.Evacuation) {})
	if err != nil {
		t.Fatalf("MutateEvacuation: %v", err)
	}
	if e.Status != triage.EvacNeeded {
		t.Errorf("status = %s, want default NEEDED", e.Status)
	}

	e, err = s.MutateEvacuation(ctx, "a1", func(e *triage.Evacuation) {
		e.Status = triage.EvacInProgress
	})
	if err != nil {
		t.Fatalf("MutateEvacuation: %v", err)
	}
	if e.Status != triage.EvacInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", e.Status)
	}

	stored, ok, _ := s.GetEvacuation(ctx, "a1")
	if !ok || stored.Status != triage.EvacInProgress {
		t.Error("mutation not persisted")
	}
}

func TestStore_CreateAlertUnlessUnread(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	a := &triage.Alert{ID: "al1", DevEUI: "a1", Kind: triage.AlertCriticalState, CreatedAt: now}
	created, err := s.CreateAlertUnlessUnread(ctx, a)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	dup := &triage.Alert{ID: "al2", DevEUI: "a1", Kind: triage.AlertCriticalState, CreatedAt: now}
	created, err = s.CreateAlertUnlessUnread(ctx, dup)
	if err != nil {
		t.Fatalf("dup create: %v", err)
	}
	if created {
		t.Error("duplicate unread (casualty, kind) should be rejected")
	}

	// A different kind for the same casualty is independent.
	other := &triage.Alert{ID: "al3", DevEUI: "a1", Kind: triage.AlertNewCasualty, CreatedAt: now}
	if created, _ := s.CreateAlertUnlessUnread(ctx, other); !created {
		t.Error("different kind should not dedup")
	}

	// After marking read, the same kind can be raised again.
	if ok, _ := s.MarkAlertRead(ctx, "al1", now); !ok {
		t.Fatal("MarkAlertRead failed")
	}
	again := &triage.Alert{ID: "al4", DevEUI: "a1", Kind: triage.AlertCriticalState, CreatedAt: now}
	if created, _ := s.CreateAlertUnlessUnread(ctx, again); !created {
		t.Error("create after read should succeed")
	}
}

func TestStore_MarkAlertRead(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.CreateAlertUnlessUnread(ctx, &triage.Alert{ID: "al1", DevEUI: "a1", Kind: triage.AlertCriticalState, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	first := now.Add(time.Minute)
	ok, err := s.MarkAlertRead(ctx, "al1", first)
	if err != nil || !ok {
		t.Fatalf("MarkAlertRead: ok=%v err=%v", ok, err)
	}

	// Second call is a no-op and keeps the original read time.
	ok, err = s.MarkAlertRead(ctx, "al1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkAlertRead: %v", err)
	}
	if ok {
		t.Error("second mark-read should report false")
	}
	got, _, _ := s.GetAlert(ctx, "al1")
	if !got.ReadAt.Equal(first) {
		t.Errorf("ReadAt = %v, want original %v", got.ReadAt, first)
	}

	if ok, _ := s.MarkAlertRead(ctx, "missing", now); ok {
		t.Error("missing alert should report false")
	}
}

func TestStore_MarkAllAlertsRead(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, kind := range []triage.AlertKind{triage.AlertCriticalState, triage.AlertNewCasualty} {
		a := &triage.Alert{ID: fmt.Sprintf("al%d", i), DevEUI: "a1", Kind: kind, CreatedAt: now}
		if _, err := s.CreateAlertUnlessUnread(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.MarkAllAlertsRead(ctx, now)
	if err != nil {
		t.Fatalf("MarkAllAlertsRead: %v", err)
	}
	if n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}

	unread, _ := s.ListAlerts(ctx, true)
	if len(unread) != 0 {
		t.Errorf("unread = %d, want 0", len(unread))
	}
}

func TestStore_CopiesAreIsolated(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if _, _, err := s.RegisterCasualty(ctx, newCasualty("a1", "John", "Doe")); err != nil {
		t.Fatal(err)
	}

	got, _, _ := s.GetCasualty(ctx, "a1")
	got.GivenName = "Mutated"

	again, _, _ := s.GetCasualty(ctx, "a1")
	if again.GivenName != "John" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		eui := fmt.Sprintf("dev-%d", i)

		go func() {
			defer wg.Done()
			_, _, _ = s.RegisterCasualty(ctx, newCasualty(eui, "C", eui))
			_ = s.AppendReading(ctx, newReading("r-"+eui, eui, time.Now().UTC(), triage.SeverityNormal))
		}()

		go func() {
			defer wg.Done()
			_, _, _ = s.GetCasualty(ctx, eui)
			_, _, _ = s.LatestReading(ctx, eui)
			_, _ = s.ListCasualties(ctx)
		}()
	}

	wg.Wait()
}

func ids(rs []*triage.VitalReading) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
