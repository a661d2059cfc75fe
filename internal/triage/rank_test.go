package triage

import (
	"context"
	"testing"
	"time"
)

func seedCasualty(t *testing.T, store *mockStore, devEUI string, sev Severity, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, _, err := store.RegisterCasualty(ctx, &Casualty{
		DevEUI: devEUI, GivenName: "C", FamilyName: devEUI, Unit: UnknownName,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("RegisterCasualty(%s): %v", devEUI, err)
	}
	if sev == "" {
		return // casualty without any reading
	}
	spo2, hr := 97, 75
	switch sev {
	case SeveritySpO2:
		spo2 = 85
	case SeverityHR:
		hr = 130
	case SeverityBoth:
		spo2, hr = 85, 130
	case SeveritySensorError:
		spo2, hr = 0, 0
	}
	if err := store.AppendReading(ctx, &VitalReading{
		ID: "r-" + devEUI, DevEUI: devEUI, SpO2: spo2, HeartRate: hr,
		Timestamp: ts, Severity: sev,
	}); err != nil {
		t.Fatalf("AppendReading(%s): %v", devEUI, err)
	}
}

func TestPrioritized_BasicOrder(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store)
	ts := time.Now().UTC()

	// Registration order deliberately scrambled relative to rank.
	seedCasualty(t, store, "e-both", SeverityBoth, ts)
	seedCasualty(t, store, "a-spo2", SeveritySpO2, ts)
	seedCasualty(t, store, "b-normal", SeverityNormal, ts)
	seedCasualty(t, store, "c-none", "", ts)
	seedCasualty(t, store, "d-fault", SeveritySensorError, ts)

	ranked, err := svc.Prioritized(context.Background(), RankBasic)
	if err != nil {
		t.Fatalf("Prioritized: %v", err)
	}

	want := []string{"e-both", "a-spo2", "d-fault", "b-normal", "c-none"}
	if len(ranked) != len(want) {
		t.Fatalf("ranked = %d rows, want %d", len(ranked), len(want))
	}
	for i, w := range want {
		if got := ranked[i].Casualty.DevEUI; got != w {
			t.Errorf("ranked[%d] = %s, want %s", i, got, w)
		}
	}

	wantTiers := []int{1, 2, 3, 4, 5}
	for i, w := range wantTiers {
		if ranked[i].Tier != w {
			t.Errorf("ranked[%d].Tier = %d, want %d", i, ranked[i].Tier, w)
		}
	}
}

func TestPrioritized_SkipsEvacuated(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store)
	ctx := context.Background()
	ts := time.Now().UTC()

	seedCasualty(t, store, "a1", SeverityBoth, ts)
	seedCasualty(t, store, "b2", SeverityNormal, ts)

	if res, _ := svc.StartEvacuation(ctx, "a1", ""); !res.Applied {
		t.Fatalf("start rejected: %s", res.Reason)
	}
	if res, _ := svc.CompleteEvacuation(ctx, "a1"); !res.Applied {
		t.Fatalf("complete rejected: %s", res.Reason)
	}

	ranked, err := svc.Prioritized(ctx, RankBasic)
	if err != nil {
		t.Fatalf("Prioritized: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Casualty.DevEUI != "b2" {
		t.Errorf("ranked = %v, want only b2", euis(ranked))
	}

	// In progress is not evacuated; the casualty stays in the ranking.
	if res, _ := svc.StartEvacuation(ctx, "b2", ""); !res.Applied {
		t.Fatalf("start rejected: %s", res.Reason)
	}
	ranked, err = svc.Prioritized(ctx, RankBasic)
	if err != nil {
		t.Fatalf("Prioritized: %v", err)
	}
	if len(ranked) != 1 {
		t.Errorf("ranked = %v, want b2 still present", euis(ranked))
	}
}

func TestPrioritized_DurationWeightedTieBreak(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Same tier; the one critical for longer ranks first.
	seedCasualty(t, store, "recent", SeverityBoth, base.Add(-20*time.Minute))
	seedCasualty(t, store, "longest", SeverityBoth, base.Add(-90*time.Minute))

	svc.now = func() time.Time { return base }

	ranked, err := svc.Prioritized(context.Background(), RankDurationWeighted)
	if err != nil {
		t.Fatalf("Prioritized: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d rows, want 2", len(ranked))
	}
	if ranked[0].Casualty.DevEUI != "longest" {
		t.Errorf("ranked[0] = %s, want longest", ranked[0].Casualty.DevEUI)
	}
	if ranked[0].CriticalMinutes != 90 {
		t.Errorf("CriticalMinutes = %v, want 90", ranked[0].CriticalMinutes)
	}
	if ranked[1].CriticalMinutes != 20 {
		t.Errorf("CriticalMinutes = %v, want 20", ranked[1].CriticalMinutes)
	}
}

func TestParseRankMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    RankMode
		wantErr bool
	}{
		{"", RankBasic, false},
		{"basic", RankBasic, false},
		{"duration", RankDurationWeighted, false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRankMode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRankMode(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRankMode(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRankMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func euis(ranked []*RankedCasualty) []string {
	out := make([]string, len(ranked))
	for i, rc := range ranked {
		out[i] = rc.Casualty.DevEUI
	}
	return out
}
