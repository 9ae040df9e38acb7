// Package store persists scan history in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spectrum-scan/rfscan/internal/plan"
	"github.com/spectrum-scan/rfscan/internal/scan"
	"github.com/spectrum-scan/rfscan/internal/stats"
	"github.com/spectrum-scan/rfscan/internal/sweep"
)

// ErrNotFound is returned when a scan ID is not in the history.
var ErrNotFound = errors.New("store: scan not found")

// Store is a SQLite-backed scan history.
type Store struct {
	db   *sql.DB
	path string
}

var _ scan.Store = (*Store)(nil)

// Record is one history entry without its points.
type Record struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Ranges     []plan.Range  `json:"ranges"`
	RBWMHz     float64       `json:"rbwMhz"`
	Dwell      time.Duration `json:"dwell"`
	Calculator string        `json:"calculator"`
	PointCount int           `json:"pointCount"`
	Stats      stats.Summary `json:"stats"`
}

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	ranges_json TEXT NOT NULL,
	rbw_mhz REAL NOT NULL,
	dwell_ms INTEGER NOT NULL,
	calculator TEXT NOT NULL,
	point_count INTEGER NOT NULL,
	stats_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS points (
	scan_id TEXT NOT NULL,
	freq_khz INTEGER NOT NULL,
	dbm REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_points_scan ON points(scan_id);
`

// Open initializes the history database at the given path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save persists a completed scan result with its points.
func (s *Store) Save(ctx context.Context, res *scan.Result) error {
	rangesJSON, err := json.Marshal(res.Request.Ranges)
	if err != nil {
		return fmt.Errorf("store: marshal ranges: %w", err)
	}
	statsJSON := []byte("{}")
	if res.Stats.Count > 0 {
		// An empty summary carries infinite min/max markers, which JSON
		// cannot represent.
		if statsJSON, err = json.Marshal(res.Stats); err != nil {
			return fmt.Errorf("store: marshal stats: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scans (id, started_at, finished_at, ranges_json, rbw_mhz,
			dwell_ms, calculator, point_count, stats_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(rangesJSON),
		res.Request.RBWMHz,
		res.Request.Dwell.Milliseconds(),
		res.Request.Calculator,
		len(res.Points),
		string(statsJSON),
	)
	if err != nil {
		return fmt.Errorf("store: insert scan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO points (scan_id, freq_khz, dbm) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("store: prepare point insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range res.Points {
		khz := int64(math.Round(p.FreqMHz * 1000))
		if _, err := stmt.ExecContext(ctx, res.ID, khz, p.DBm); err != nil {
			return fmt.Errorf("store: insert point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// List returns history records, newest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, ranges_json, rbw_mhz, dwell_ms,
			calculator, point_count, stats_json
		 FROM scans ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list scans: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list scans: %w", err)
	}
	return records, nil
}

// Get returns one scan with its points, sorted by ascending frequency.
func (s *Store) Get(ctx context.Context, id string) (*scan.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, ranges_json, rbw_mhz, dwell_ms,
			calculator, point_count, stats_json
		 FROM scans WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT freq_khz, dbm FROM points WHERE scan_id = ? ORDER BY freq_khz", id)
	if err != nil {
		return nil, fmt.Errorf("store: load points: %w", err)
	}
	defer rows.Close()

	var points []sweep.Point
	for rows.Next() {
		var khz int64
		var dbm float64
		if err := rows.Scan(&khz, &dbm); err != nil {
			return nil, fmt.Errorf("store: scan point: %w", err)
		}
		points = append(points, sweep.Point{FreqMHz: float64(khz) / 1000, DBm: dbm})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load points: %w", err)
	}

	return &scan.Result{
		ID:         rec.ID,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Request: scan.Request{
			Ranges:     rec.Ranges,
			RBWMHz:     rec.RBWMHz,
			Dwell:      rec.Dwell,
			Calculator: rec.Calculator,
		},
		Points: points,
		Stats:  rec.Stats,
	}, nil
}

// Prune keeps the newest keep scans and deletes the rest. It returns the
// number of scans removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	const victims = "SELECT id FROM scans ORDER BY started_at DESC LIMIT -1 OFFSET ?"

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM points WHERE scan_id IN ("+victims+")", keep); err != nil {
		return 0, fmt.Errorf("store: prune points: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"DELETE FROM scans WHERE id IN ("+victims+")", keep)
	if err != nil {
		return 0, fmt.Errorf("store: prune scans: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune scans: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return pruned, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var started, finished, rangesJSON, statsJSON string
	var dwellMS int64

	err := row.Scan(&rec.ID, &started, &finished, &rangesJSON, &rec.RBWMHz,
		&dwellMS, &rec.Calculator, &rec.PointCount, &statsJSON)
	if err != nil {
		return Record{}, err
	}

	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Record{}, fmt.Errorf("store: parse started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Record{}, fmt.Errorf("store: parse finished_at: %w", err)
	}
	rec.Dwell = time.Duration(dwellMS) * time.Millisecond
	if err := json.Unmarshal([]byte(rangesJSON), &rec.Ranges); err != nil {
		return Record{}, fmt.Errorf("store: unmarshal ranges: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &rec.Stats); err != nil {
		return Record{}, fmt.Errorf("store: unmarshal stats: %w", err)
	}
	return rec, nil
}
