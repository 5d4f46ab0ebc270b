// Package store provides implementations of the posting storage
// collaborator: a Postgres-backed store for production and an in-memory
// store for development and tests. Writes have at-least-once semantics; no
// transaction spans more than one record.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joblens/joblens/internal/joblens"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// updatableFields are the columns UpdateStatus may set alongside status.
var updatableFields = map[string]struct{}{
	"description": {},
	"score":       {},
}

// PostgresConfig controls the Postgres connection pool for posting rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres persists postings in a single table keyed by the identity tuple
// (normalized title, normalized company, final URL).
type Postgres struct {
	pool  pgxPool
	table string
	clock joblens.Clock
}

// NewPostgres creates a Postgres store using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig, clock joblens.Clock) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "postings"
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
	return &Postgres{pool: pool, table: table, clock: clock}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool pgxPool, table string, clock joblens.Clock) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "postings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Exists reports whether a posting with the identity tuple is already
// stored.
func (s *Postgres) Exists(ctx context.Context, key joblens.IdentityKey) (bool, error) {
	query := fmt.Sprintf(
		`SELECT 1 FROM %s WHERE norm_title = $1 AND norm_company = $2 AND url = $3`, s.table)
	var one int
	err := s.pool.QueryRow(ctx, query, key.Title, key.Company, key.URL).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check posting existence: %w", err)
	}
	return true, nil
}

// Upsert inserts the record or refreshes the mutable columns of an
// existing row with the same identity tuple.
func (s *Postgres) Upsert(ctx context.Context, record joblens.StoredRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	norm_title,
	norm_company,
	title,
	company,
	location,
	salary,
	url,
	description,
	score,
	status,
	discovered_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (norm_title, norm_company, url) DO UPDATE SET
	location = EXCLUDED.location,
	salary = EXCLUDED.salary,
	description = EXCLUDED.description,
	score = EXCLUDED.score,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`, s.table)

	args := []any{
		record.ID,
		record.Identity.Title,
		record.Identity.Company,
		record.Title,
		record.Company,
		record.Location,
		record.Salary,
		record.URL,
		record.Description,
		record.Score,
		string(record.Status),
		record.DiscoveredAt,
		s.clock.Now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert posting: %w", err)
	}
	return nil
}

// ReadPending returns up to limit records in the given status, oldest
// first.
func (s *Postgres) ReadPending(ctx context.Context, status joblens.RecordStatus, limit int) ([]joblens.StoredRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT id, norm_title, norm_company, title, company, location, salary, url,
	description, score, status, discovered_at, updated_at
FROM %s
WHERE status = $1
ORDER BY discovered_at
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("read pending postings: %w", err)
	}
	defer rows.Close()

	var records []joblens.StoredRecord
	for rows.Next() {
		var r joblens.StoredRecord
		var st string
		if err := rows.Scan(
			&r.ID, &r.Identity.Title, &r.Identity.Company, &r.Title, &r.Company,
			&r.Location, &r.Salary, &r.URL, &r.Description, &r.Score, &st,
			&r.DiscoveredAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan posting row: %w", err)
		}
		r.Identity.URL = r.URL
		r.Status = joblens.RecordStatus(st)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posting rows: %w", err)
	}
	return records, nil
}

// UpdateStatus sets the record's status and any recognized extra fields.
// Unknown field names are rejected rather than interpolated.
func (s *Postgres) UpdateStatus(ctx context.Context, id string, status joblens.RecordStatus, fields map[string]any) error {
	sets := "status = $2, updated_at = $3"
	args := []any{id, string(status), s.clock.Now()}
	for _, name := range []string{"description", "score"} {
		value, ok := fields[name]
		if !ok {
			continue
		}
		args = append(args, value)
		sets += fmt.Sprintf(", %s = $%d", name, len(args))
	}
	for name := range fields {
		if _, ok := updatableFields[name]; !ok {
			return fmt.Errorf("unknown update field %q", name)
		}
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, s.table, sets)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update posting status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("posting %s not found", id)
	}
	return nil
}
