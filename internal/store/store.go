// Package store provides SQLite-backed persistence for glucose samples,
// carbohydrate entries, and insulin doses, and computes the glucose effect
// series the decision engine consumes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mrcode/glucoloop/internal/bus"
	"github.com/mrcode/glucoloop/internal/models"
	"github.com/mrcode/glucoloop/internal/prediction"
)

// effectHorizon bounds how far effect series reach past their anchor
const effectHorizon = 6 * time.Hour

// Store wraps a SQLite database holding the loop's input history. Glucose
// and carb writes publish the matching change signal on the bus so the
// decision engine can invalidate its caches; dose writes publish nothing.
type Store struct {
	db     *sql.DB
	params prediction.Parameters
	events *bus.Bus
}

// New opens or creates the SQLite database at dbPath. An empty dbPath
// defaults to $TMPDIR/glucoloop/data.db. events may be nil.
func New(dbPath string, params prediction.Parameters, events *bus.Bus) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "glucoloop", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db, params: params, events: events}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS glucose_samples (
			id     TEXT PRIMARY KEY,
			date   INTEGER NOT NULL,
			value  REAL NOT NULL,
			device TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_glucose_date ON glucose_samples(date)`,
		`CREATE TABLE IF NOT EXISTS carb_entries (
			id                 TEXT PRIMARY KEY,
			date               INTEGER NOT NULL,
			grams              REAL NOT NULL,
			absorption_seconds INTEGER NOT NULL DEFAULT 0,
			entered_by         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_carbs_date ON carb_entries(date)`,
		`CREATE TABLE IF NOT EXISTS insulin_doses (
			id               TEXT PRIMARY KEY,
			type             TEXT NOT NULL,
			date             INTEGER NOT NULL,
			units            REAL NOT NULL DEFAULT 0,
			rate             REAL NOT NULL DEFAULT 0,
			duration_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_doses_date ON insulin_doses(date)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) publish(topic bus.Topic) {
	if s.events != nil {
		s.events.Publish(topic)
	}
}

// AddGlucoseSample records a sensor reading and signals GlucoseUpdated
func (s *Store) AddGlucoseSample(ctx context.Context, sample models.GlucoseSample) error {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO glucose_samples (id, date, value, device) VALUES (?, ?, ?, ?)`,
		id, sample.Date.UnixMilli(), sample.Value, sample.Device)
	if err != nil {
		return fmt.Errorf("failed to insert glucose sample: %w", err)
	}
	s.publish(bus.GlucoseUpdated)
	return nil
}

// LatestGlucose returns the most recent sensor reading, or nil when the
// store holds none.
func (s *Store) LatestGlucose(ctx context.Context) (*models.GlucoseSample, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT date, value, device FROM glucose_samples ORDER BY date DESC LIMIT 1`)

	var dateMillis int64
	var sample models.GlucoseSample
	if err := row.Scan(&dateMillis, &sample.Value, &sample.Device); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest glucose: %w", err)
	}
	sample.Date = time.UnixMilli(dateMillis)
	return &sample, nil
}

// RecentGlucose returns samples at or after since, oldest first
func (s *Store) RecentGlucose(ctx context.Context, since time.Time) ([]models.GlucoseSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value, device FROM glucose_samples WHERE date >= ? ORDER BY date ASC`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query glucose samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []models.GlucoseSample
	for rows.Next() {
		var dateMillis int64
		var sample models.GlucoseSample
		if err := rows.Scan(&dateMillis, &sample.Value, &sample.Device); err != nil {
			return nil, fmt.Errorf("failed to scan glucose sample: %w", err)
		}
		sample.Date = time.UnixMilli(dateMillis)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// MomentumEffect extrapolates the recent glucose slope into a short-horizon
// effect series anchored at the latest sample.
func (s *Store) MomentumEffect(ctx context.Context) (models.EffectSeries, error) {
	latest, err := s.LatestGlucose(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("no glucose samples recorded")
	}

	samples, err := s.RecentGlucose(ctx, latest.Date.Add(-30*time.Minute))
	if err != nil {
		return nil, err
	}
	return prediction.MomentumEffect(samples, latest.Date), nil
}

// AddCarbEntry records a carbohydrate intake and signals CarbEntriesUpdated
func (s *Store) AddCarbEntry(ctx context.Context, entry models.CarbEntry) error {
	if entry.Grams <= 0 {
		return fmt.Errorf("carb entry must have positive grams, got %v", entry.Grams)
	}
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO carb_entries (id, date, grams, absorption_seconds, entered_by) VALUES (?, ?, ?, ?, ?)`,
		id, entry.Date.UnixMilli(), entry.Grams, int64(entry.Absorption.Seconds()), entry.EnteredBy)
	if err != nil {
		return fmt.Errorf("failed to insert carb entry: %w", err)
	}
	s.publish(bus.CarbEntriesUpdated)
	return nil
}

// carbEntries returns entries still absorbing at the anchor
func (s *Store) carbEntries(ctx context.Context, anchor time.Time) ([]models.CarbEntry, error) {
	window := s.params.CarbAbsorptionDefault * 2
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, grams, absorption_seconds, entered_by FROM carb_entries WHERE date >= ? ORDER BY date ASC`,
		anchor.Add(-window).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query carb entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.CarbEntry
	for rows.Next() {
		var dateMillis, absorptionSecs int64
		var entry models.CarbEntry
		if err := rows.Scan(&dateMillis, &entry.Grams, &absorptionSecs, &entry.EnteredBy); err != nil {
			return nil, fmt.Errorf("failed to scan carb entry: %w", err)
		}
		entry.Date = time.UnixMilli(dateMillis)
		entry.Absorption = time.Duration(absorptionSecs) * time.Second
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CarbGlucoseEffects models the glucose rise from outstanding carbohydrate
// absorption, anchored at startAfter.
func (s *Store) CarbGlucoseEffects(ctx context.Context, startAfter time.Time) (models.EffectSeries, error) {
	entries, err := s.carbEntries(ctx, startAfter)
	if err != nil {
		return nil, err
	}
	return prediction.CarbGlucoseEffects(entries, s.params, startAfter, effectHorizon), nil
}

// AddDose records insulin delivered by the pump
func (s *Store) AddDose(ctx context.Context, dose models.DoseEntry) error {
	id := dose.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insulin_doses (id, type, date, units, rate, duration_seconds) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(dose.Type), dose.Date.UnixMilli(), dose.Units, dose.Rate, int64(dose.Duration.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to insert dose: %w", err)
	}
	return nil
}

// doses returns doses still active at the anchor
func (s *Store) doses(ctx context.Context, anchor time.Time) ([]models.DoseEntry, error) {
	window := time.Duration(s.params.DIA * float64(time.Hour))
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, date, units, rate, duration_seconds FROM insulin_doses WHERE date >= ? ORDER BY date ASC`,
		anchor.Add(-window).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query doses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.DoseEntry
	for rows.Next() {
		var dateMillis, durationSecs int64
		var doseType string
		var dose models.DoseEntry
		if err := rows.Scan(&doseType, &dateMillis, &dose.Units, &dose.Rate, &durationSecs); err != nil {
			return nil, fmt.Errorf("failed to scan dose: %w", err)
		}
		dose.Type = models.DoseType(doseType)
		dose.Date = time.UnixMilli(dateMillis)
		dose.Duration = time.Duration(durationSecs) * time.Second
		entries = append(entries, dose)
	}
	return entries, rows.Err()
}

// InsulinGlucoseEffects models the glucose suppression from outstanding
// insulin activity, anchored at startAfter.
func (s *Store) InsulinGlucoseEffects(ctx context.Context, startAfter time.Time) (models.EffectSeries, error) {
	entries, err := s.doses(ctx, startAfter)
	if err != nil {
		return nil, err
	}
	return prediction.InsulinGlucoseEffects(entries, s.params, startAfter, effectHorizon), nil
}

// Prune drops history older than the cutoff from all three tables
func (s *Store) Prune(ctx context.Context, olderThan time.Time) error {
	cutoff := olderThan.UnixMilli()
	for _, table := range []string{"glucose_samples", "carb_entries", "insulin_doses"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE date < ?`, cutoff); err != nil {
			return fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	return nil
}
