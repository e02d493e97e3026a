package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/crmport/internal/core"
)

// SQL is a Backend over database/sql for SQLite and MySQL.
//
// Lists are stored as JSON text and timestamps as RFC 3339 text, so both
// engines share one encoding. Column types are restored from the entity
// configs passed to EnsureSchema.
type SQL struct {
	db      *sqlx.DB
	dialect dialect

	mu      sync.RWMutex
	schemas map[string]*core.EntityConfig
}

// OpenSQL connects with the sqlite3 or mysql driver.
func OpenSQL(ctx context.Context, driver, dsn string, opts PoolOptions) (*SQL, error) {
	driverName, d := "sqlite3", sqliteTypes
	if driver == DriverMySQL {
		driverName, d = "mysql", mysqlTypes
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		db.SetMaxIdleConns(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(opts.MaxConnLifetime)
	}
	if opts.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.MaxConnIdleTime)
	}
	if driverName == "sqlite3" {
		// SQLite allows one writer; serialize through a single connection.
		db.SetMaxOpenConns(1)
	}

	return NewSQL(db, d), nil
}

// NewSQL wraps an open connection.
func NewSQL(db *sqlx.DB, d dialect) *SQL {
	return &SQL{db: db, dialect: d, schemas: make(map[string]*core.EntityConfig)}
}

// Insert writes a record and returns the stored row.
func (s *SQL) Insert(ctx context.Context, table string, rec core.Record) (core.Record, error) {
	row := make(core.Record, len(rec)+1)
	for k, v := range rec {
		row[k] = v
	}
	id := row.ID()
	if id == "" {
		id = uuid.New().String()
		row["id"] = id
	}

	cols := sortedKeys(row)
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = s.dialect.quote(col)
		args[i] = sqlValue(row[col])
	}

	query := s.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.quote(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return s.byID(ctx, table, id)
}

// Update applies patch to the row with the given id.
func (s *SQL) Update(ctx context.Context, table, id string, patch core.Record) (core.Record, error) {
	var sets []string
	var args []any
	for _, col := range sortedKeys(patch) {
		if col == "id" {
			continue
		}
		sets = append(sets, s.dialect.quote(col)+" = ?")
		args = append(args, sqlValue(patch[col]))
	}

	if len(sets) > 0 {
		args = append(args, id)
		query := s.db.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
			s.dialect.quote(table), strings.Join(sets, ", ")))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("update %s: %w", table, err)
		}
	}

	// MySQL reports zero affected rows when values are unchanged, so
	// existence is decided by reading the row back.
	return s.byID(ctx, table, id)
}

// Select returns matching rows in insertion order.
func (s *SQL) Select(ctx context.Context, table string, q core.Query) ([]core.Record, error) {
	var where []string
	var args []any

	if len(q.IDs) > 0 {
		clause, inArgs, err := sqlx.In("id IN (?)", q.IDs)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, inArgs...)
	}
	for _, c := range q.Conditions {
		col := s.dialect.quote(c.Field)
		if c.Fold {
			where = append(where, fmt.Sprintf("LOWER(%s) = LOWER(?)", col))
			args = append(args, asText(c.Value))
			continue
		}
		where = append(where, col+" = ?")
		args = append(args, sqlValue(c.Value))
	}

	query := "SELECT * FROM " + s.dialect.quote(table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + s.dialect.quote(seqColumn)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	cfg := s.schema(table)
	var out []core.Record
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, decodeRow(cfg, raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Delete removes a row.
func (s *SQL) Delete(ctx context.Context, table, id string) error {
	query := s.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.dialect.quote(table)))
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(table, id)
	}
	return nil
}

// EnsureSchema creates missing tables and remembers column types for decoding.
func (s *SQL) EnsureSchema(ctx context.Context, cfgs []*core.EntityConfig) error {
	for _, cfg := range cfgs {
		if _, err := s.db.ExecContext(ctx, createTableSQL(cfg, s.dialect)); err != nil {
			return fmt.Errorf("create table %s: %w", cfg.Table, err)
		}
		s.mu.Lock()
		s.schemas[cfg.Table] = cfg
		s.mu.Unlock()
	}
	return nil
}

// Ping verifies the connection.
func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the connection pool.
func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) schema(table string) *core.EntityConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemas[table]
}

func (s *SQL) byID(ctx context.Context, table, id string) (core.Record, error) {
	rows, err := s.Select(ctx, table, core.Query{IDs: []string{id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(table, id)
	}
	return rows[0], nil
}

// sqlValue encodes a pipeline value as a database/sql argument.
func sqlValue(v any) any {
	switch t := v.(type) {
	case []string:
		b, _ := json.Marshal(t)
		return string(b)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

// decodeRow restores typed values from a scanned row. Without a config
// every value is returned as scanned, with bytes turned into strings.
func decodeRow(cfg *core.EntityConfig, raw map[string]any) core.Record {
	rec := make(core.Record, len(raw))
	for col, v := range raw {
		if col == seqColumn {
			continue
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if v == nil {
			rec[col] = nil
			continue
		}
		if cfg != nil {
			if spec, ok := cfg.Field(col); ok {
				v = decodeValue(spec.Type, v)
			}
		}
		rec[col] = v
	}
	return rec
}

func decodeValue(ft core.FieldType, v any) any {
	switch ft {
	case core.FieldNumber:
		if f, ok := asFloat(v); ok {
			return f
		}
	case core.FieldInteger:
		if f, ok := asFloat(v); ok {
			return int64(f)
		}
	case core.FieldBool:
		switch t := v.(type) {
		case bool:
			return t
		case int64:
			return t != 0
		case string:
			return t == "1" || strings.EqualFold(t, "true")
		}
	case core.FieldList:
		if s, ok := v.(string); ok {
			var list []string
			if err := json.Unmarshal([]byte(s), &list); err == nil {
				return list
			}
		}
	}
	return v
}

var (
	_ Backend = (*SQL)(nil)
	_ Backend = (*Postgres)(nil)
	_ Backend = (*Memory)(nil)
)
