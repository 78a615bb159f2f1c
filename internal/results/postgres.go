package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scraperd/scraperd/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool for the Postgres store.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type resultPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore writes result rows into Postgres.
type PostgresStore struct {
	pool  resultPool
	table string
}

// NewPostgresStore creates a Postgres-backed store using the provided
// config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("results.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scrape_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostgresStoreWithPool(pool resultPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Write inserts a result row.
func (s *PostgresStore) Write(ctx context.Context, result scraper.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if result.JobID == "" {
		return fmt.Errorf("result job id is required")
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	source_url,
	status,
	error_code,
	completed_at,
	document
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)

	args := []any{
		result.JobID,
		result.SourceURL,
		result.Status,
		result.ErrorCode,
		result.CompletedAt,
		doc,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Read loads the stored result document for the job id.
func (s *PostgresStore) Read(ctx context.Context, jobID string) (scraper.Result, error) {
	if s == nil || s.pool == nil {
		return scraper.Result{}, fmt.Errorf("result store is not configured")
	}
	query := fmt.Sprintf("SELECT document FROM %s WHERE job_id = $1", s.table)

	var doc []byte
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Result{}, scraper.ErrNotFound
		}
		return scraper.Result{}, fmt.Errorf("select result: %w", err)
	}
	var result scraper.Result
	if err := json.Unmarshal(doc, &result); err != nil {
		return scraper.Result{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}

// Delete removes a result row, used by retention sweeps.
func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE job_id = $1", s.table)
	if _, err := s.pool.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}
