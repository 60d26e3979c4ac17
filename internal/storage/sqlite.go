package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"hostwatch/internal/models"
)

const createMetricsTable = `CREATE TABLE IF NOT EXISTS metrics (
	timestamp    INTEGER NOT NULL,
	cpu_usage    REAL    NOT NULL,
	memory_used  INTEGER NOT NULL,
	memory_total INTEGER NOT NULL
)`

const insertMetric = `INSERT INTO metrics (timestamp, cpu_usage, memory_used, memory_total) VALUES (?, ?, ?, ?)`

// SQLite appends one row per sample to a local database file.
type SQLite struct {
	db *sql.DB
}

// Row is one persisted metrics row.
type Row struct {
	Timestamp   int64
	CPUUsage    float64
	MemoryUsed  uint64
	MemoryTotal uint64
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &PersistenceError{Backend: "sqlite", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &PersistenceError{Backend: "sqlite", Err: err}
	}
	// One writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createMetricsTable); err != nil {
		db.Close()
		return nil, &PersistenceError{Backend: "sqlite", Err: fmt.Errorf("creating schema: %w", err)}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Backend() string { return "sqlite" }

// Store inserts a single sample.
func (s *SQLite) Store(ctx context.Context, sample models.Sample) error {
	if _, err := s.db.ExecContext(ctx, insertMetric, rowArgs(sample)...); err != nil {
		return &PersistenceError{Backend: "sqlite", Err: err}
	}
	return nil
}

// StoreBatch inserts samples in one transaction.
func (s *SQLite) StoreBatch(ctx context.Context, samples []models.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Backend: "sqlite", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertMetric)
	if err != nil {
		return &PersistenceError{Backend: "sqlite", Err: err}
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, rowArgs(sample)...); err != nil {
			return &PersistenceError{Backend: "sqlite", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Backend: "sqlite", Err: err}
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, cpu_usage, memory_used, memory_total FROM metrics ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &PersistenceError{Backend: "sqlite", Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Timestamp, &r.CPUUsage, &r.MemoryUsed, &r.MemoryTotal); err != nil {
			return nil, &PersistenceError{Backend: "sqlite", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Backend: "sqlite", Err: err}
	}
	return out, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func rowArgs(s models.Sample) []any {
	return []any{s.Timestamp.Unix(), s.CPUUsage, int64(s.UsedMemory), int64(s.TotalMemory)}
}
