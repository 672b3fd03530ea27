package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the SQLite database connection and operations
type DB struct {
	conn *sql.DB
	path string
}

// RunRecord represents one completed sandboxed run. Rows are history for
// display and search only; a finished session is never resurrected from them.
type RunRecord struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Stopped    bool      `json:"stopped"`
	Transcript string    `json:"transcript"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// AnalysisRecord summarizes one static analysis report
type AnalysisRecord struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Language      string    `json:"language"`
	Vulnerability int       `json:"vulnerability_count"`
	Warning       int       `json:"warning_count"`
	Informational int       `json:"info_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{
		conn: conn,
		path: dbPath,
	}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates the database schema
func (db *DB) initialize() error {
	schema := `
	-- Completed runs table
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		stopped BOOLEAN DEFAULT 0,
		transcript TEXT DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	-- Static analysis reports table
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		language TEXT NOT NULL,
		vulnerability_count INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		info_count INTEGER NOT NULL,
		timestamp DATETIME NOT NULL
	);

	-- Indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_command ON runs(command);
	CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// HealthCheck verifies the database is reachable
func (db *DB) HealthCheck() error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.Ping()
}

// Run operations

// StoreRun records a completed sandboxed run
func (db *DB) StoreRun(run *RunRecord) error {
	query := `
	INSERT INTO runs (id, command, exit_code, stopped, transcript, started_at, finished_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query, run.ID, run.Command, run.ExitCode, run.Stopped,
		run.Transcript, run.StartedAt, run.FinishedAt, run.DurationMS)

	return err
}

// GetRun retrieves a run by session ID
func (db *DB) GetRun(runID string) (*RunRecord, error) {
	query := `
	SELECT id, command, exit_code, stopped, transcript, started_at, finished_at, duration_ms
	FROM runs WHERE id = ?
	`

	row := db.conn.QueryRow(query, runID)

	var run RunRecord
	err := row.Scan(&run.ID, &run.Command, &run.ExitCode, &run.Stopped,
		&run.Transcript, &run.StartedAt, &run.FinishedAt, &run.DurationMS)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, err
	}

	return &run, nil
}

// SearchRuns searches run history with various filters
func (db *DB) SearchRuns(command, output string, exitCode *int, startTime, endTime time.Time, limit int) ([]*RunRecord, error) {
	query := `
	SELECT id, command, exit_code, stopped, transcript, started_at, finished_at, duration_ms
	FROM runs WHERE 1=1
	`

	var args []interface{}

	if command != "" {
		query += " AND command LIKE ?"
		args = append(args, "%"+command+"%")
	}

	if output != "" {
		query += " AND transcript LIKE ?"
		args = append(args, "%"+output+"%")
	}

	if exitCode != nil {
		query += " AND exit_code = ?"
		args = append(args, *exitCode)
	}

	if !startTime.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, startTime)
	}

	if !endTime.IsZero() {
		query += " AND started_at <= ?"
		args = append(args, endTime)
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord

	for rows.Next() {
		var run RunRecord

		err := rows.Scan(&run.ID, &run.Command, &run.ExitCode, &run.Stopped,
			&run.Transcript, &run.StartedAt, &run.FinishedAt, &run.DurationMS)
		if err != nil {
			return nil, err
		}

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// Analysis operations

// StoreAnalysis records a static analysis report summary
func (db *DB) StoreAnalysis(rec *AnalysisRecord) error {
	query := `
	INSERT INTO analyses (id, filename, language, vulnerability_count, warning_count, info_count, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query, rec.ID, rec.Filename, rec.Language,
		rec.Vulnerability, rec.Warning, rec.Informational, rec.Timestamp)

	return err
}

// Utility methods

// GetRunStats returns aggregate statistics over the recorded runs
func (db *DB) GetRunStats() (map[string]interface{}, error) {
	query := `
	SELECT
		COUNT(*) as total_runs,
		SUM(CASE WHEN exit_code = 0 THEN 1 ELSE 0 END) as successful_runs,
		SUM(CASE WHEN stopped = 1 THEN 1 ELSE 0 END) as stopped_runs,
		COALESCE(AVG(duration_ms), 0) as avg_duration_ms
	FROM runs
	`

	row := db.conn.QueryRow(query)

	var totalRuns, successfulRuns, stoppedRuns int
	var avgDuration float64

	err := row.Scan(&totalRuns, &successfulRuns, &stoppedRuns, &avgDuration)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"total_runs":      totalRuns,
		"successful_runs": successfulRuns,
		"failed_runs":     totalRuns - successfulRuns,
		"stopped_runs":    stoppedRuns,
		"avg_duration_ms": avgDuration,
	}, nil
}
