package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Availability values stored in the availability column.
const (
	AvailabilityUnknown = "unknown"
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// Power sources.
const (
	PowerMains   = "mains"
	PowerBattery = "battery"
	PowerUnknown = "unknown"
)

// Record is the persisted runtime record of one device.
type Record struct {
	ID            string     `json:"id"`
	FriendlyName  string     `json:"friendly_name"`
	Model         string     `json:"model"`
	PowerSource   string     `json:"power_source"`
	ConfiguredKey string     `json:"configured_key,omitempty"`
	Availability  string     `json:"availability"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PowerClass normalises a coordinator power source string.
func PowerClass(source string) string {
	s := strings.ToLower(source)
	switch {
	case strings.Contains(s, "mains"), strings.Contains(s, "dc source"):
		return PowerMains
	case strings.Contains(s, "battery"):
		return PowerBattery
	}
	return PowerUnknown
}

// Repository defines device record persistence.
type Repository interface {
	// Get returns ErrDeviceNotFound if the device does not exist.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns every record ordered by friendly name.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts a record or refreshes its name, model and power source.
	// The configure marker and availability of an existing record are kept.
	Upsert(ctx context.Context, rec *Record) error

	// Delete removes a record and its property values.
	Delete(ctx context.Context, id string) error

	// Rename changes a device's friendly name.
	Rename(ctx context.Context, id, name string) error

	// SetConfiguredKey records the last configure procedure that succeeded.
	SetConfiguredKey(ctx context.Context, id, key string) error

	// UpdateAvailability stores an availability change and when the device
	// was last heard from.
	UpdateAvailability(ctx context.Context, id, availability string, lastSeen time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository over an open
// connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
		SELECT id, friendly_name, model, power_source, configured_key,
			availability, last_seen, created_at, updated_at
		FROM devices`

// Get retrieves a record by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return rec, nil
}

// List retrieves all records.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY friendly_name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// Upsert inserts or refreshes a record. A stale record holding the same
// friendly name under another id is removed first: the coordinator keeps
// names unique, so such a row belongs to a device that has since left.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == "" || rec.FriendlyName == "" {
		return fmt.Errorf("%w: id and friendly name are required", ErrInvalidDevice)
	}
	if rec.PowerSource == "" {
		rec.PowerSource = PowerUnknown
	}
	if rec.Availability == "" {
		rec.Availability = AvailabilityUnknown
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM devices WHERE friendly_name = ? AND id <> ?", rec.FriendlyName, rec.ID); err != nil {
		return fmt.Errorf("clearing stale name: %w", err)
	}

	query := `
		INSERT INTO devices (
			id, friendly_name, model, power_source, configured_key,
			availability, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			friendly_name = excluded.friendly_name,
			model = CASE WHEN excluded.model = '' THEN devices.model ELSE excluded.model END,
			power_source = excluded.power_source,
			updated_at = excluded.updated_at`

	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		rec.FriendlyName,
		rec.Model,
		rec.PowerSource,
		rec.ConfiguredKey,
		rec.Availability,
		nullableTime(rec.LastSeen),
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device: %w", err)
	}
	return nil
}

// Delete removes a record by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// Rename changes a record's friendly name.
func (r *SQLiteRepository) Rename(ctx context.Context, id, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty friendly name", ErrInvalidDevice)
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET friendly_name = ?, updated_at = ? WHERE id = ?",
		name, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("renaming device: %w", err)
	}
	return requireRow(result)
}

// SetConfiguredKey records the configure marker.
func (r *SQLiteRepository) SetConfiguredKey(ctx context.Context, id, key string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET configured_key = ?, updated_at = ? WHERE id = ?",
		key, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating configured key: %w", err)
	}
	return requireRow(result)
}

// UpdateAvailability stores availability and last seen.
func (r *SQLiteRepository) UpdateAvailability(ctx context.Context, id, availability string, lastSeen time.Time) error {
	var seen sql.NullString
	if !lastSeen.IsZero() {
		seen = nullableTime(&lastSeen)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET availability = ?, last_seen = COALESCE(?, last_seen), updated_at = ?
		WHERE id = ?`,
		availability, seen, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating availability: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                  Record
		lastSeen             sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&rec.ID,
		&rec.FriendlyName,
		&rec.Model,
		&rec.PowerSource,
		&rec.ConfiguredKey,
		&rec.Availability,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		rec.LastSeen = &t
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
