// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

// SQLiteStore persists events in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database, applies pragmas and runs migrations.
// busy_timeout avoids "database locked" errors under concurrent watchers.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	// modernc.org/sqlite takes pragmas as _pragma=name(value) DSN params.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Ping verifies the database file is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		detector TEXT NOT NULL,
		kind TEXT NOT NULL CHECK(kind IN ('detection', 'hazard', 'heartbeat')),
		seq INTEGER NOT NULL,
		ts TEXT NOT NULL,
		detections TEXT NOT NULL DEFAULT '[]',
		meta TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS hazards (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		classes TEXT NOT NULL,
		distance REAL NOT NULL,
		predicted INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL,
		ts TEXT NOT NULL,
		tracks TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_events_pipeline_ts ON events(pipeline_id, ts);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_hazards_pipeline_ts ON hazards(pipeline_id, ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertEvent stores one detection event.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev detect.Event) error {
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
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		ev.ID, ev.PipelineID, ev.Detector, string(ev.Kind), ev.Seq,
		ev.Timestamp.UTC().Format(time.RFC3339Nano), string(detections), string(meta))
	metrics.ObserveStoreOp("sqlite", "insert_event", time.Since(start), err)
	return err
}

// InsertHazard stores one proximity hazard.
func (s *SQLiteStore) InsertHazard(ctx context.Context, pipelineID string, hz track.Hazard) error {
	start := time.Now()
	tracks, err := json.Marshal(hz.Tracks)
	if err != nil {
		return fmt.Errorf("marshal tracks: %w", err)
	}

	query := `
	INSERT INTO hazards (id, pipeline_id, classes, distance, predicted, seq, ts, tracks)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	predicted := 0
	if hz.Predicted {
		predicted = 1
	}
	_, err = s.db.ExecContext(ctx, query,
		hz.ID, pipelineID, hz.PairKey(), hz.Distance, predicted, hz.Seq,
		hz.Timestamp.UTC().Format(time.RFC3339Nano), string(tracks))
	metrics.ObserveStoreOp("sqlite", "insert_hazard", time.Since(start), err)
	return err
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, pipelineID string, limit int) ([]detect.Event, error) {
	start := time.Now()
	limit = clampLimit(limit)

	query := `
	SELECT id, pipeline_id, detector, kind, seq, ts, detections, meta
	FROM events
	WHERE (? = '' OR pipeline_id = ?)
	ORDER BY ts DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, pipelineID, limit)
	metrics.ObserveStoreOp("sqlite", "recent_events", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// RecentHazards returns up to limit hazards, newest first.
func (s *SQLiteStore) RecentHazards(ctx context.Context, pipelineID string, limit int) ([]HazardRecord, error) {
	start := time.Now()
	limit = clampLimit(limit)

	query := `
	SELECT id, pipeline_id, distance, predicted, seq, ts, tracks
	FROM hazards
	WHERE (? = '' OR pipeline_id = ?)
	ORDER BY ts DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, pipelineID, limit)
	metrics.ObserveStoreOp("sqlite", "recent_hazards", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanHazards(rows)
}

// CountByClass aggregates persisted detection counts per class. Counting
// walks the JSON payloads in Go rather than depending on the json1
// extension being compiled in.
func (s *SQLiteStore) CountByClass(ctx context.Context, pipelineID string) (map[string]int64, error) {
	start := time.Now()
	query := `
	SELECT detections FROM events
	WHERE (? = '' OR pipeline_id = ?) AND kind = 'detection'
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, pipelineID)
	metrics.ObserveStoreOp("sqlite", "count_by_class", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var dets []detect.Detection
		if err := json.Unmarshal([]byte(raw), &dets); err != nil {
			continue // tolerate rows written by newer versions
		}
		for _, d := range dets {
			counts[d.Class]++
		}
	}
	return counts, rows.Err()
}

// Prune deletes rows older than the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	start := time.Now()
	cutoff := olderThan.UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, cutoff)
	if err != nil {
		metrics.ObserveStoreOp("sqlite", "prune", time.Since(start), err)
		return 0, err
	}
	removed, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM hazards WHERE ts < ?`, cutoff)
	metrics.ObserveStoreOp("sqlite", "prune", time.Since(start), err)
	if err != nil {
		return removed, err
	}
	n, _ := res.RowsAffected()
	return removed + n, nil
}

// scanEvents converts rows with the canonical event column order.
func scanEvents(rows *sql.Rows) ([]detect.Event, error) {
	var events []detect.Event
	for rows.Next() {
		var (
			ev         detect.Event
			kind       string
			ts         string
			detections string
			meta       string
		)
		if err := rows.Scan(&ev.ID, &ev.PipelineID, &ev.Detector, &kind, &ev.Seq, &ts, &detections, &meta); err != nil {
			return nil, err
		}
		ev.Kind = detect.Kind(kind)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		ev.Timestamp = parsed
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

// scanHazards converts rows with the canonical hazard column order.
func scanHazards(rows *sql.Rows) ([]HazardRecord, error) {
	var hazards []HazardRecord
	for rows.Next() {
		var (
			rec       HazardRecord
			predicted int
			ts        string
			tracks    string
		)
		if err := rows.Scan(&rec.ID, &rec.PipelineID, &rec.Distance, &predicted, &rec.Seq, &ts, &tracks); err != nil {
			return nil, err
		}
		rec.Predicted = predicted != 0
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse hazard timestamp: %w", err)
		}
		rec.Timestamp = parsed
		if err := json.Unmarshal([]byte(tracks), &rec.Tracks); err != nil {
			return nil, fmt.Errorf("unmarshal tracks: %w", err)
		}
		rec.Classes = [2]string{rec.Tracks[0].Class, rec.Tracks[1].Class}
		hazards = append(hazards, rec)
	}
	return hazards, rows.Err()
}
