// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/medevac/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medevac/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage state in PostgreSQL. Single-record mutations use
// row-level locks so concurrent transition attempts serialize.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const casualtyColumns = `dev_eui, given_name, family_name, unit, created_at, updated_at`
const readingColumns = `id, dev_eui, spo2, heart_rate, latitude, longitude, ts, severity`
const evacColumns = `dev_eui, status, priority, started_at, completed_at, team, notes, updated_at`
const alertColumns = `id, dev_eui, kind, message, detail, created_at, read, read_at`

// RegisterCasualty inserts the casualty unless the device EUI is already
// known, then returns the stored row. Existing rows keep their name/unit.
func (s *Store) RegisterCasualty(ctx context.Context, c *triage.Casualty) (*triage.Casualty, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.RegisterCasualty", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO casualties (`+casualtyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (dev_eui) DO NOTHING`,
		c.DevEUI, c.GivenName, c.FamilyName, c.Unit, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("insert casualty: %w", err)
	}
	created := tag.RowsAffected() == 1

	stored, ok, err := s.GetCasualty(ctx, c.DevEUI)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("casualty %s vanished after register", c.DevEUI)
	}
	return stored, created, nil
}

// GetCasualty retrieves a casualty by device EUI.
func (s *Store) GetCasualty(ctx context.Context, devEUI string) (*triage.Casualty, bool, error) {
	var c triage.Casualty
	err := s.pool.QueryRow(ctx,
		`SELECT `+casualtyColumns+` FROM casualties WHERE dev_eui = $1`, devEUI,
	).Scan(&c.DevEUI, &c.GivenName, &c.FamilyName, &c.Unit, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get casualty: %w", err)
	}
	return &c, true, nil
}

// ListCasualties returns all casualties ordered by family then given name.
func (s *Store) ListCasualties(ctx context.Context) ([]*triage.Casualty, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+casualtyColumns+` FROM casualties ORDER BY family_name, given_name, dev_eui`)
	if err != nil {
		return nil, fmt.Errorf("list casualties: %w", err)
	}
	defer rows.Close()

	var out []*triage.Casualty
	for rows.Next() {
		var c triage.Casualty
		if err := rows.Scan(&c.DevEUI, &c.GivenName, &c.FamilyName, &c.Unit, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan casualty: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AppendReading inserts a reading and bumps the casualty's last-update time
// in one transaction.
func (s *Store) AppendReading(ctx context.Context, r *triage.VitalReading) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendReading", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO vital_readings (`+readingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.DevEUI, r.SpO2, r.HeartRate, r.Latitude, r.Longitude, r.Timestamp, string(r.Severity),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert reading: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE casualties SET updated_at = now() WHERE dev_eui = $1`, r.DevEUI,
	); err != nil {
		return fmt.Errorf("touch casualty: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestReading returns the newest reading for a casualty.
func (s *Store) LatestReading(ctx context.Context, devEUI string) (*triage.VitalReading, bool, error) {
	r, err := scanReading(s.pool.QueryRow(ctx,
		`SELECT `+readingColumns+` FROM vital_readings
		 WHERE dev_eui = $1 ORDER BY ts DESC LIMIT 1`, devEUI))
	if err != nil {
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// LatestReadings returns the newest reading per casualty.
func (s *Store) LatestReadings(ctx context.Context) (map[string]*triage.VitalReading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (dev_eui) `+readingColumns+`
		 FROM vital_readings ORDER BY dev_eui, ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*triage.VitalReading)
	for rows.Next() {
		r, err := scanReadingRows(rows)
		if err != nil {
			return nil, err
		}
		out[r.DevEUI] = r
	}
	return out, rows.Err()
}

// Readings returns a casualty's history newest first; zero since means all.
func (s *Store) Readings(ctx context.Context, devEUI string, since time.Time) ([]*triage.VitalReading, error) {
	query := `SELECT ` + readingColumns + ` FROM vital_readings WHERE dev_eui = $1`
	args := []any{devEUI}
	if !since.IsZero() {
		query += ` AND ts >= $2`
		args = append(args, since)
	}
	query += ` ORDER BY ts DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("readings: %w", err)
	}
	defer rows.Close()

	var out []*triage.VitalReading
	for rows.Next() {
		r, err := scanReadingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EarliestCritical returns the oldest critical reading in the full history.
func (s *Store) EarliestCritical(ctx context.Context, devEUI string) (*triage.VitalReading, bool, error) {
	r, err := scanReading(s.pool.QueryRow(ctx,
		`SELECT `+readingColumns+` FROM vital_readings
		 WHERE dev_eui = $1 AND severity IN ('SPO2', 'HR', 'BOTH')
		 ORDER BY ts ASC LIMIT 1`, devEUI))
	if err != nil {
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// GetEvacuation retrieves a casualty's evacuation record.
func (s *Store) GetEvacuation(ctx context.Context, devEUI string) (*triage.Evacuation, bool, error) {
	e, err := scanEvacuation(s.pool.QueryRow(ctx,
		`SELECT `+evacColumns+` FROM evacuations WHERE dev_eui = $1`, devEUI))
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

// ListEvacuations returns all evacuation records keyed by device EUI.
func (s *Store) ListEvacuations(ctx context.Context) (map[string]*triage.Evacuation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+evacColumns+` FROM evacuations`)
	if err != nil {
		return nil, fmt.Errorf("list evacuations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*triage.Evacuation)
	for rows.Next() {
		var e triage.Evacuation
		if err := rows.Scan(&e.DevEUI, &e.Status, &e.Priority, &e.StartedAt, &e.CompletedAt, &e.Team, &e.Notes, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan evacuation: %w", err)
		}
		out[e.DevEUI] = &e
	}
	return out, rows.Err()
}

// MutateEvacuation loads the record under a row lock (creating it with
// status NEEDED if absent), applies mutate, and writes the result back. The
// row lock serializes concurrent transition attempts on one casualty.
func (s *Store) MutateEvacuation(ctx context.Context, devEUI string, mutate func(*triage.Evacuation)) (*triage.Evacuation, error) {
	ctx, span := tracer.Start(ctx, "pgstore.MutateEvacuation", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	// Ensure the row exists, then lock it. The insert is a no-op when a
	// concurrent writer got there first.
	if _, err := tx.Exec(ctx,
		`INSERT INTO evacuations (dev_eui, status, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (dev_eui) DO NOTHING`,
		devEUI, string(triage.EvacNeeded),
	); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ensure evacuation row: %w", err)
	}

	e, err := scanEvacuation(tx.QueryRow(ctx,
		`SELECT `+evacColumns+` FROM evacuations WHERE dev_eui = $1 FOR UPDATE`, devEUI))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("evacuation row %s vanished under lock", devEUI)
	}

	mutate(e)
	e.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx,
		`UPDATE evacuations
		 SET status = $2, priority = $3, started_at = $4, completed_at = $5,
		     team = $6, notes = $7, updated_at = $8
		 WHERE dev_eui = $1`,
		e.DevEUI, string(e.Status), e.Priority, e.StartedAt, e.CompletedAt, e.Team, e.Notes, e.UpdatedAt,
	); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("update evacuation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

// CreateAlertUnlessUnread inserts the alert in a single statement that lands
// on the partial unique index alerts_unread_dedup, so check and insert are
// atomic even against concurrent raisers.
func (s *Store) CreateAlertUnlessUnread(ctx context.Context, a *triage.Alert) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CreateAlertUnlessUnread", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	detail, err := json.Marshal(a.Detail)
	if err != nil {
		return false, fmt.Errorf("marshal alert detail: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, NULL)
		 ON CONFLICT (dev_eui, kind) WHERE NOT read DO NOTHING`,
		a.ID, a.DevEUI, string(a.Kind), a.Message, detail, a.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*triage.Alert, bool, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// ListAlerts returns alerts newest first, optionally only unread.
func (s *Store) ListAlerts(ctx context.Context, unreadOnly bool) ([]*triage.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if unreadOnly {
		query += ` WHERE NOT read`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*triage.Alert
	for rows.Next() {
		a, err := scanAlertRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlertRead flips the read flag; already-read rows are untouched so the
// original read time survives repeated calls.
func (s *Store) MarkAlertRead(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET read = TRUE, read_at = $2 WHERE id = $1 AND NOT read`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("mark alert read: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllAlertsRead marks every currently unread alert in one statement.
func (s *Store) MarkAllAlertsRead(ctx context.Context, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET read = TRUE, read_at = $1 WHERE NOT read`, at,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all alerts read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanReading(row pgx.Row) (*triage.VitalReading, error) {
	var r triage.VitalReading
	var sev string
	err := row.Scan(&r.ID, &r.DevEUI, &r.SpO2, &r.HeartRate, &r.Latitude, &r.Longitude, &r.Timestamp, &sev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reading: %w", err)
	}
	r.Severity = triage.Severity(sev)
	return &r, nil
}

func scanReadingRows(rows pgx.Rows) (*triage.VitalReading, error) {
	var r triage.VitalReading
	var sev string
	if err := rows.Scan(&r.ID, &r.DevEUI, &r.SpO2, &r.HeartRate, &r.Latitude, &r.Longitude, &r.Timestamp, &sev); err != nil {
		return nil, fmt.Errorf("scan reading: %w", err)
	}
	r.Severity = triage.Severity(sev)
	return &r, nil
}

func scanEvacuation(row pgx.Row) (*triage.Evacuation, error) {
	var e triage.Evacuation
	var status string
	err := row.Scan(&e.DevEUI, &status, &e.Priority, &e.StartedAt, &e.CompletedAt, &e.Team, &e.Notes, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan evacuation: %w", err)
	}
	e.Status = triage.EvacStatus(status)
	return &e, nil
}

func scanAlert(row pgx.Row) (*triage.Alert, error) {
	var a triage.Alert
	var kind string
	var detail []byte
	err := row.Scan(&a.ID, &a.DevEUI, &kind, &a.Message, &detail, &a.CreatedAt, &a.Read, &a.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Kind = triage.AlertKind(kind)
	if err := json.Unmarshal(detail, &a.Detail); err != nil {
		return nil, fmt.Errorf("unmarshal alert detail: %w", err)
	}
	return &a, nil
}

func scanAlertRows(rows pgx.Rows) (*triage.Alert, error) {
	var a triage.Alert
	var kind string
	var detail []byte
	if err := rows.Scan(&a.ID, &a.DevEUI, &kind, &a.Message, &detail, &a.CreatedAt, &a.Read, &a.ReadAt); err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Kind = triage.AlertKind(kind)
	if err := json.Unmarshal(detail, &a.Detail); err != nil {
		return nil, fmt.Errorf("unmarshal alert detail: %w", err)
	}
	return &a, nil
}
