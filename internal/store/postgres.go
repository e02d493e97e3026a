package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/crmport/internal/core"
)

// seqColumn orders rows by insertion. It is never returned to callers.
const seqColumn = "seq"

// Postgres is a Backend on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres parses dsn, applies the pool options and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, opts PoolOptions) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Insert writes a record and returns the stored row.
func (p *Postgres) Insert(ctx context.Context, table string, rec core.Record) (core.Record, error) {
	row := make(core.Record, len(rec)+1)
	for k, v := range rec {
		row[k] = v
	}
	if row.ID() == "" {
		row["id"] = uuid.New().String()
	}

	cols := sortedKeys(row)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = pgValue(row[col])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quoteIdentifier(table),
		strings.Join(quoteColumns(cols), ", "),
		strings.Join(placeholders, ", "),
	)

	out, err := p.queryOne(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return out, nil
}

// Update applies patch to the row with the given id.
func (p *Postgres) Update(ctx context.Context, table, id string, patch core.Record) (core.Record, error) {
	cols := sortedKeys(patch)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		if col == "id" {
			continue
		}
		args = append(args, pgValue(patch[col]))
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdentifier(col), len(args)))
	}
	if len(sets) == 0 {
		rows, err := p.Select(ctx, table, core.Query{IDs: []string{id}, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, notFound(table, id)
		}
		return rows[0], nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING *",
		quoteIdentifier(table),
		strings.Join(sets, ", "),
		len(args),
	)

	out, err := p.queryOne(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return out, nil
}

// Select returns matching rows in insertion order.
func (p *Postgres) Select(ctx context.Context, table string, q core.Query) ([]core.Record, error) {
	var where []string
	var args []any

	if len(q.IDs) > 0 {
		args = append(args, q.IDs)
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	for _, c := range q.Conditions {
		col := quoteIdentifier(c.Field)
		if c.Fold {
			args = append(args, asText(c.Value))
			where = append(where, fmt.Sprintf("lower(%s::text) = lower($%d)", col, len(args)))
			continue
		}
		args = append(args, pgValue(c.Value))
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	query := "SELECT * FROM " + quoteIdentifier(table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + seqColumn
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Delete removes a row.
func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdentifier(table)), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(table, id)
	}
	return nil
}

// EnsureSchema creates one table per entity if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context, cfgs []*core.EntityConfig) error {
	for _, cfg := range cfgs {
		if _, err := p.pool.Exec(ctx, createTableSQL(cfg, postgresTypes)); err != nil {
			return fmt.Errorf("create table %s: %w", cfg.Table, err)
		}
	}
	return nil
}

// Ping verifies the connection.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) queryOne(ctx context.Context, query string, args ...any) (core.Record, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	return rec, rows.Err()
}

// scanRecord reads the current row into a record, converting pgx types to
// the plain values the pipeline works with.
func scanRecord(rows pgx.Rows) (core.Record, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}

	rec := make(core.Record, len(values))
	for i, fd := range rows.FieldDescriptions() {
		if fd.Name == seqColumn {
			continue
		}
		rec[fd.Name] = fromPG(fd.DataTypeOID, values[i])
	}
	return rec, nil
}

func fromPG(oid uint32, v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		if oid == pgtype.DateOID {
			return t.Format(time.DateOnly)
		}
		return t.UTC()
	case int32:
		return int64(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return v
}

// pgValue converts pipeline values to parameters pgx encodes for any column type.
func pgValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

func sortedKeys(rec core.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quoteColumns quotes each column name in the slice.
func quoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdentifier(col)
	}
	return quoted
}
