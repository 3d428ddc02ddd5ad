// Package executor defines the external query collaborator: it accepts one
// batch query string and returns (cache_key, result) rows. Connection
// management and authentication live with the adapter, not the engine.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Register duckdb driver
)

// Row is one result row: the literal cache key the fragment projected, and
// the aggregate value. A NULL value is a legitimate result, not a miss.
type Row struct {
	Key   string
	Value sql.NullString
}

// QueryExecutor executes one batch query. Failures — including timeouts —
// surface as ordinary errors; the caller treats them as per-batch failures.
type QueryExecutor interface {
	Execute(ctx context.Context, query string) ([]Row, error)
}

// SQLExecutor runs batches against any database/sql source that understands
// the rendered fragment grammar.
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor wraps an existing connection pool.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// OpenDuckDB opens a DuckDB-backed executor. An empty dsn uses an in-memory
// database.
func OpenDuckDB(dsn string) (*SQLExecutor, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	return &SQLExecutor{db: db}, nil
}

// DB exposes the underlying pool.
func (e *SQLExecutor) DB() *sql.DB {
	return e.db
}

// Close releases the connection pool.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// Execute runs one batch and scans its two projected columns.
func (e *SQLExecutor) Execute(ctx context.Context, query string) ([]Row, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute batch: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Key, &row.Value); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return results, nil
}
