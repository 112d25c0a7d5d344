// Package db owns the sqlite store for the localization pipeline: receiver
// nodes, tag deployments, raw detections, run records and the location
// estimates each run produced. The engine never touches this package; all
// I/O belongs to the callers.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wildtrack-data/telemetry.report/internal/telemetry"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS nodes (
			node_id           TEXT PRIMARY KEY,
			x                 DOUBLE NOT NULL,
			y                 DOUBLE NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tags (
			tag_id            TEXT PRIMARY KEY,
			deploy_date       TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS detections (
			tag_id            TEXT NOT NULL,
			node_id           TEXT NOT NULL,
			ts                TIMESTAMP NOT NULL,
			rssi              DOUBLE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_detections_tag_ts ON detections(tag_id, ts);
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			started_at        TIMESTAMP NOT NULL,
			finished_at       TIMESTAMP,
			config_json       TEXT,
			detections        BIGINT,
			buckets           BIGINT,
			solved            BIGINT,
			skipped_insufficient BIGINT,
			skipped_singular  BIGINT,
			skipped_diverged  BIGINT
		);
		CREATE TABLE IF NOT EXISTS estimates (
			run_id            TEXT NOT NULL,
			tag_id            TEXT NOT NULL,
			bucket_ts         TIMESTAMP NOT NULL,
			hour              INTEGER NOT NULL,
			node_count        INTEGER NOT NULL,
			x                 DOUBLE NOT NULL,
			y                 DOUBLE NOT NULL,
			x_low             DOUBLE NOT NULL,
			x_high            DOUBLE NOT NULL,
			y_low             DOUBLE NOT NULL,
			y_high            DOUBLE NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS idx_estimates_run_tag ON estimates(run_id, tag_id);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// UpsertNode inserts or replaces a receiver node's coordinates.
func (db *DB) UpsertNode(n telemetry.Node) error {
	_, err := db.Exec(
		"INSERT INTO nodes (node_id, x, y) VALUES (?, ?, ?) ON CONFLICT(node_id) DO UPDATE SET x=excluded.x, y=excluded.y",
		n.ID, n.X, n.Y)
	return err
}

// LoadNodes returns the full anchor table keyed by node id.
func (db *DB) LoadNodes() (map[string]telemetry.Node, error) {
	rows, err := db.Query("SELECT node_id, x, y FROM nodes")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make(map[string]telemetry.Node)
	for rows.Next() {
		var n telemetry.Node
		if err := rows.Scan(&n.ID, &n.X, &n.Y); err != nil {
			return nil, err
		}
		nodes[n.ID] = n
	}
	return nodes, rows.Err()
}

// UpsertTag inserts or replaces a tag deployment record.
func (db *DB) UpsertTag(t telemetry.Tag) error {
	_, err := db.Exec(
		"INSERT INTO tags (tag_id, deploy_date) VALUES (?, ?) ON CONFLICT(tag_id) DO UPDATE SET deploy_date=excluded.deploy_date",
		t.ID, t.DeployDate.UTC())
	return err
}

// RecordDetection appends one raw detection row.
func (db *DB) RecordDetection(d telemetry.Detection) error {
	_, err := db.Exec(
		"INSERT INTO detections (tag_id, node_id, ts, rssi) VALUES (?, ?, ?, ?)",
		d.TagID, d.NodeID, d.Time.UTC(), d.RSSI)
	return err
}

// DetectionsBetween returns detections in [from, to) for the given tag, or
// for all tags when tagID is empty. Detections recorded before a tag's
// deployment date are excluded: they predate the tag being on an animal.
func (db *DB) DetectionsBetween(tagID string, from, to time.Time) ([]telemetry.Detection, error) {
	query := `
		SELECT d.tag_id, d.node_id, d.ts, d.rssi
		FROM detections d
		JOIN tags t ON t.tag_id = d.tag_id
		WHERE d.ts >= ? AND d.ts < ? AND d.ts >= t.deploy_date`
	args := []interface{}{from.UTC(), to.UTC()}
	if tagID != "" {
		query += " AND d.tag_id = ?"
		args = append(args, tagID)
	}
	query += " ORDER BY d.tag_id, d.node_id, d.ts"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dets []telemetry.Detection
	for rows.Next() {
		var d telemetry.Detection
		if err := rows.Scan(&d.TagID, &d.NodeID, &d.Time, &d.RSSI); err != nil {
			return nil, err
		}
		d.Time = d.Time.UTC()
		dets = append(dets, d)
	}
	return dets, rows.Err()
}

// RecordRun creates the run row before the pipeline starts so a crash leaves
// an unfinished run visible rather than nothing.
func (db *DB) RecordRun(runID string, startedAt time.Time, configJSON string) error {
	_, err := db.Exec(
		"INSERT INTO runs (run_id, started_at, config_json) VALUES (?, ?, ?)",
		runID, startedAt.UTC(), configJSON)
	return err
}

// FinishRun records the skip accounting for a completed run. Every bucket
// the pipeline saw is in exactly one of the four counters.
func (db *DB) FinishRun(runID string, finishedAt time.Time, stats telemetry.PipelineStats) error {
	res, err := db.Exec(`
		UPDATE runs SET finished_at = ?, detections = ?, buckets = ?, solved = ?,
			skipped_insufficient = ?, skipped_singular = ?, skipped_diverged = ?
		WHERE run_id = ?`,
		finishedAt.UTC(), stats.Detections, stats.Buckets, stats.Solved,
		stats.SkippedInsufficient, stats.SkippedSingular, stats.SkippedDiverged, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no run with id %q", runID)
	}
	return nil
}

// RecordEstimates stores a run's output in one transaction.
func (db *DB) RecordEstimates(runID string, ests []telemetry.LocationEstimate) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO estimates (run_id, tag_id, bucket_ts, hour, node_count, x, y, x_low, x_high, y_low, y_high)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range ests {
		if _, err := stmt.Exec(runID, e.TagID, e.Bucket.UTC(), e.Hour, e.NodeCount,
			e.X, e.Y, e.XLow, e.XHigh, e.YLow, e.YHigh); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EstimatesForTag returns a tag's estimates for a run in bucket order. An
// empty runID selects the most recently started run.
func (db *DB) EstimatesForTag(runID, tagID string) ([]telemetry.LocationEstimate, error) {
	if runID == "" {
		row := db.QueryRow("SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1")
		if err := row.Scan(&runID); err != nil {
			if err == sql.ErrNoRows {
				return nil, nil
			}
			return nil, err
		}
	}

	rows, err := db.Query(`
		SELECT tag_id, bucket_ts, hour, node_count, x, y, x_low, x_high, y_low, y_high
		FROM estimates WHERE run_id = ? AND tag_id = ? ORDER BY bucket_ts`,
		runID, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ests []telemetry.LocationEstimate
	for rows.Next() {
		var e telemetry.LocationEstimate
		if err := rows.Scan(&e.TagID, &e.Bucket, &e.Hour, &e.NodeCount,
			&e.X, &e.Y, &e.XLow, &e.XHigh, &e.YLow, &e.YHigh); err != nil {
			return nil, err
		}
		e.Bucket = e.Bucket.UTC()
		ests = append(ests, e)
	}
	return ests, rows.Err()
}

// RunSummary mirrors one row of the runs table for reporting.
type RunSummary struct {
	RunID               string     `json:"run_id"`
	StartedAt           time.Time  `json:"started_at"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	Detections          int        `json:"detections"`
	Buckets             int        `json:"buckets"`
	Solved              int        `json:"solved"`
	SkippedInsufficient int        `json:"skipped_insufficient"`
	SkippedSingular     int        `json:"skipped_singular"`
	SkippedDiverged     int        `json:"skipped_diverged"`
}

// Runs lists recent runs, newest first.
func (db *DB) Runs(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT run_id, started_at, finished_at,
			COALESCE(detections, 0), COALESCE(buckets, 0), COALESCE(solved, 0),
			COALESCE(skipped_insufficient, 0), COALESCE(skipped_singular, 0), COALESCE(skipped_diverged, 0)
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.StartedAt, &finished,
			&r.Detections, &r.Buckets, &r.Solved,
			&r.SkippedInsufficient, &r.SkippedSingular, &r.SkippedDiverged); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time.UTC()
			r.FinishedAt = &t
		}
		r.StartedAt = r.StartedAt.UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
