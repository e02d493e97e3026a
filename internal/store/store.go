// Package store implements core.Store over the supported backends.
//
// Every backend assigns string ids on insert, applies sparse patches on
// update and returns records in insertion order.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/crmport/internal/core"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

// Backend is a core.Store with lifecycle management.
type Backend interface {
	core.Store

	// EnsureSchema creates missing tables for the given entities.
	EnsureSchema(ctx context.Context, cfgs []*core.EntityConfig) error
	Ping(ctx context.Context) error
	Close() error
}

// PoolOptions tunes connection pooling for SQL backends.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects to a backend by driver name.
func Open(ctx context.Context, driver, dsn string, opts PoolOptions) (Backend, error) {
	switch strings.ToLower(driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverPostgres, "postgresql", "pgx":
		return OpenPostgres(ctx, dsn, opts)
	case DriverSQLite, "sqlite3":
		return OpenSQL(ctx, DriverSQLite, dsn, opts)
	case DriverMySQL:
		return OpenSQL(ctx, DriverMySQL, dsn, opts)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func notFound(table, id string) error {
	return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// asFloat reads a numeric value of any common Go type, including numeric text.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// asText renders a scalar as the text a database would compare it by.
func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []string:
		return strings.Join(t, ", ")
	}
	return core.FormatCell(core.FieldSpec{}, v)
}
