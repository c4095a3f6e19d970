// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

// PostgresConfig holds connection settings for the shared backend.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN constructs a postgres:// URL from the components.
func (c PostgresConfig) DSN() (string, error) {
	if c.Host == "" || c.Port == "" || c.User == "" || c.Name == "" {
		return "", fmt.Errorf("invalid postgres config: host, port, user and name are required")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PostgresStore persists events in PostgreSQL via the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with OTel instrumentation, applies pool settings
// and runs migrations.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	driverName, err := otelsql.Register("pgx",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	s := NewPostgres(db)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// NewPostgres wraps an existing connection. Tests inject mocks here.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies the connection pool is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		detector TEXT NOT NULL,
		kind TEXT NOT NULL CHECK(kind IN ('detection', 'hazard', 'heartbeat')),
		seq BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		detections JSONB NOT NULL DEFAULT '[]',
		meta JSONB NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS hazards (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		classes TEXT NOT NULL,
		distance DOUBLE PRECISION NOT NULL,
		predicted BOOLEAN NOT NULL DEFAULT FALSE,
		seq BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		tracks JSONB NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_events_pipeline_ts ON events(pipeline_id, ts);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_hazards_pipeline_ts ON hazards(pipeline_id, ts);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// InsertEvent stores one detection event.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev detect.Event) error {
	start := time.Now()
	detections, err := json.Marshal(ev.Detections)
	if err != nil {
		return fmt.Errorf("marshal detections: %w", err)
	}
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if ev.Meta == nil {
		meta = []byte("{}")
	}

	query := `
	INSERT INTO events (id, pipeline_id, detector, kind, seq, ts, detections, meta)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		ev.ID, ev.PipelineID, ev.Detector, string(ev.Kind), int64(ev.Seq),
		ev.Timestamp.UTC(), string(detections), string(meta))
	metrics.ObserveStoreOp("postgres", "insert_event", time.Since(start), err)
	return err
}

// InsertHazard stores one proximity hazard.
func (s *PostgresStore) InsertHazard(ctx context.Context, pipelineID string, hz track.Hazard) error {
	start := time.Now()
	tracks, err := json.Marshal(hz.Tracks)
	if err != nil {
		return fmt.Errorf("marshal tracks: %w", err)
	}

	query := `
	INSERT INTO hazards (id, pipeline_id, classes, distance, predicted, seq, ts, tracks)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		hz.ID, pipelineID, hz.PairKey(), hz.Distance, hz.Predicted, int64(hz.Seq),
		hz.Timestamp.UTC(), string(tracks))
	metrics.ObserveStoreOp("postgres", "insert_hazard", time.Since(start), err)
	return err
}

// RecentEvents returns up to limit events, newest first.
func (s *PostgresStore) RecentEvents(ctx context.Context, pipelineID string, limit int) ([]detect.Event, error) {
	start := time.Now()
	limit = clampLimit(limit)

	query := `
	SELECT id, pipeline_id, detector, kind, seq, ts, detections::text, meta::text
	FROM events
	WHERE ($1 = '' OR pipeline_id = $1)
	ORDER BY ts DESC
	LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, limit)
	metrics.ObserveStoreOp("postgres", "recent_events", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEventsPG(rows)
}

// RecentHazards returns up to limit hazards, newest first.
func (s *PostgresStore) RecentHazards(ctx context.Context, pipelineID string, limit int) ([]HazardRecord, error) {
	start := time.Now()
	limit = clampLimit(limit)

	query := `
	SELECT id, pipeline_id, distance, predicted, seq, ts, tracks::text
	FROM hazards
	WHERE ($1 = '' OR pipeline_id = $1)
	ORDER BY ts DESC
	LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, limit)
	metrics.ObserveStoreOp("postgres", "recent_hazards", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var hazards []HazardRecord
	for rows.Next() {
		var (
			rec    HazardRecord
			seq    int64
			tracks string
		)
		if err := rows.Scan(&rec.ID, &rec.PipelineID, &rec.Distance, &rec.Predicted, &seq, &rec.Timestamp, &tracks); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		if err := json.Unmarshal([]byte(tracks), &rec.Tracks); err != nil {
			return nil, fmt.Errorf("unmarshal tracks: %w", err)
		}
		rec.Classes = [2]string{rec.Tracks[0].Class, rec.Tracks[1].Class}
		hazards = append(hazards, rec)
	}
	return hazards, rows.Err()
}

// CountByClass aggregates detection counts per class using jsonb expansion.
func (s *PostgresStore) CountByClass(ctx context.Context, pipelineID string) (map[string]int64, error) {
	start := time.Now()
	query := `
	SELECT d->>'class' AS class, COUNT(*)
	FROM events, jsonb_array_elements(detections) AS d
	WHERE ($1 = '' OR pipeline_id = $1) AND kind = 'detection'
	GROUP BY class
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID)
	metrics.ObserveStoreOp("postgres", "count_by_class", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var class string
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		counts[class] = n
	}
	return counts, rows.Err()
}

// Prune deletes rows older than the cutoff.
func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	start := time.Now()
	cutoff := olderThan.UTC()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts < $1`, cutoff)
	if err != nil {
		metrics.ObserveStoreOp("postgres", "prune", time.Since(start), err)
		return 0, err
	}
	removed, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM hazards WHERE ts < $1`, cutoff)
	metrics.ObserveStoreOp("postgres", "prune", time.Since(start), err)
	if err != nil {
		return removed, err
	}
	n, _ := res.RowsAffected()
	return removed + n, nil
}

// scanEventsPG differs from the SQLite scanner in timestamp handling; the
// pgx driver returns time.Time directly.
func scanEventsPG(rows *sql.Rows) ([]detect.Event, error) {
	var events []detect.Event
	for rows.Next() {
		var (
			ev         detect.Event
			kind       string
			seq        int64
			detections string
			meta       string
		)
		if err := rows.Scan(&ev.ID, &ev.PipelineID, &ev.Detector, &kind, &seq, &ev.Timestamp, &detections, &meta); err != nil {
			return nil, err
		}
		ev.Kind = detect.Kind(kind)
		ev.Seq = uint64(seq)
		if err := json.Unmarshal([]byte(detections), &ev.Detections); err != nil {
			return nil, fmt.Errorf("unmarshal detections: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ev.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
