package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/medevac/internal/telemetry"
)

// Notifier pushes a freshly raised alert to an external channel. Failures
// are logged, never propagated: notification is best-effort.
type Notifier interface {
	Notify(ctx context.Context, c *Casualty, a *Alert) error
}

// Provisioner registers device keys with the LoRaWAN network server. It is
// advisory only; a failure must never block ingestion.
type Provisioner interface {
	ProvisionDevice(ctx context.Context, devEUI, name string) error
}

// Service is the business boundary for triage operations. The ingestion
// entry points are driven by a single sequential consumer (see internal/
// ingest); the query methods are read-only and safe for concurrent use.
type Service struct {
	store       Store
	logger      log.Logger
	metrics     *Metrics
	notifier    Notifier
	provisioner Provisioner

	now func() time.Time // injectable clock for tests
}

// NewService creates a new triage service. notifier and provisioner may be
// nil.
func NewService(store Store, logger log.Logger, m *Metrics, notifier Notifier, provisioner Provisioner) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:       store,
		logger:      logger,
		metrics:     m,
		notifier:    notifier,
		provisioner: provisioner,
		now:         time.Now,
	}
}

// HandleUplink runs the full pipeline for one uplink event: decode, resolve
// or create the casualty, persist the classified reading, and raise an alert
// if needed. An error aborts processing of this message only.
func (s *Service) HandleUplink(ctx context.Context, env *telemetry.Envelope) error {
	devEUI := env.DeviceInfo.DevEUI
	L := s.logger.With("dev_eui", devEUI)

	draft, err := telemetry.DecodeBase64Payload(env.Data)
	if err != nil {
		s.metrics.uplink("malformed")
		return fmt.Errorf("decode uplink from %s: %w", devEUI, err)
	}

	casualty, err := s.registerCasualty(ctx, env)
	if err != nil {
		s.metrics.uplink("store_error")
		return fmt.Errorf("register casualty %s: %w", devEUI, err)
	}

	reading := &VitalReading{
		ID:        ulid.Make().String(),
		DevEUI:    devEUI,
		SpO2:      draft.SpO2,
		HeartRate: draft.HeartRate,
		Latitude:  draft.Latitude,
		Longitude: draft.Longitude,
		Timestamp: draft.Timestamp,
		Severity:  Classify(draft.SpO2, draft.HeartRate),
	}

	if err := s.store.AppendReading(ctx, reading); err != nil {
		s.metrics.uplink("store_error")
		return fmt.Errorf("persist reading for %s: %w", devEUI, err)
	}

	s.metrics.uplink("ok")
	s.metrics.reading(reading.Severity)

	L.Info(ctx, "reading ingested",
		"reading_id", reading.ID,
		"severity", string(reading.Severity),
		"spo2", reading.SpO2,
		"heart_rate", reading.HeartRate,
	)

	if _, err := s.RaiseAlert(ctx, casualty, reading, "", ""); err != nil {
		// the reading is already persisted; a failed alert write should
		// not fail the message
		L.Error(ctx, err, "raise alert failed", "reading_id", reading.ID)
	}

	return nil
}

// HandleInfoEvent processes join/ack/error events. They are informational
// and never touch the data model; a join additionally triggers the advisory
// provisioning call.
func (s *Service) HandleInfoEvent(ctx context.Context, kind string, env *telemetry.Envelope) {
	devEUI := env.DeviceInfo.DevEUI
	name := env.DeviceInfo.DeviceName

	s.metrics.event(kind)

	switch kind {
	case telemetry.EventJoin:
		s.logger.Info(ctx, "device joined the network", "dev_eui", devEUI, "name", name)
		if s.provisioner != nil {
			if err := s.provisioner.ProvisionDevice(ctx, devEUI, name); err != nil {
				s.logger.Warn(ctx, "device provisioning failed (advisory)", "dev_eui", devEUI, "error", err)
			}
		}
	case telemetry.EventAck:
		s.logger.Info(ctx, "downlink acknowledged", "dev_eui", devEUI, "name", name)
	case telemetry.EventError:
		s.logger.Warn(ctx, "device reported error", "dev_eui", devEUI, "name", name, "device_error", env.Error)
	default:
		s.logger.Warn(ctx, "unhandled event kind", "kind", kind, "dev_eui", devEUI)
	}
}

// registerCasualty resolves the casualty by device EUI, creating it from the
// envelope metadata when unknown.
func (s *Service) registerCasualty(ctx context.Context, env *telemetry.Envelope) (*Casualty, error) {
	given, family := splitName(env.DeviceInfo.DeviceName)
	unit := env.Unit()
	if unit == "" {
		unit = UnknownName
	}

	now := s.now().UTC()
	c, created, err := s.store.RegisterCasualty(ctx, &Casualty{
		DevEUI:     env.DeviceInfo.DevEUI,
		GivenName:  given,
		FamilyName: family,
		Unit:       unit,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.registered()
		s.logger.Info(ctx, "new casualty registered",
			"dev_eui", c.DevEUI,
			"name", c.GivenName+" "+c.FamilyName,
			"unit", c.Unit,
		)
	}
	return c, nil
}

// splitName derives given/family name from the device name tag: first
// whitespace token is the given name, last token the family name. A single
// token fills both; an empty name falls back to the Unknown placeholder.
func splitName(name string) (given, family string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return UnknownName, UnknownName
	}
	return fields[0], fields[len(fields)-1]
}

// Casualty returns a casualty by device EUI.
func (s *Service) Casualty(ctx context.Context, devEUI string) (*Casualty, bool, error) {
	return s.store.GetCasualty(ctx, devEUI)
}

// LatestReading returns a casualty's most recent reading.
func (s *Service) LatestReading(ctx context.Context, devEUI string) (*VitalReading, bool, error) {
	return s.store.LatestReading(ctx, devEUI)
}
