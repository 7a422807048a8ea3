// Package store is the single point of access to the relational store. Every
// table in the pipeline is written through Gateway.Write with full-replace
// semantics and read back through Gateway.Read as a generic row set.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrBadIdentifier = errors.New("invalid table or column identifier")
	ErrNoColumns     = errors.New("row set has no columns")
)

// identPattern matches the identifiers we are willing to interpolate into
// DDL. Everything else is rejected before any SQL is built.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Rows is a column-ordered tabular result. It is the unit of exchange
// between every task and the store: extractors build one, Write persists it,
// Read produces one.
type Rows struct {
	Columns []string
	Records [][]any
}

// NewRows creates an empty row set with the given column order.
func NewRows(columns ...string) *Rows {
	return &Rows{Columns: columns}
}

// Append adds one record. Values must match the column order.
func (r *Rows) Append(values ...any) {
	r.Records = append(r.Records, values)
}

// Len returns the number of records.
func (r *Rows) Len() int {
	return len(r.Records)
}

// Col returns the index of a column by name, or -1 if absent.
func (r *Rows) Col(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// WriteOptions adjusts how a table is persisted. IndexColumns name columns
// that form the row identity of the table; they are written out as ordinary
// columns and backed by an index.
type WriteOptions struct {
	IndexColumns []string
}

// Gateway provides read and write access to the relational store over a
// pooled database/sql connection. It performs no retries: connectivity and
// query errors surface to the caller unchanged.
type Gateway struct {
	db *sql.DB
}

// Open connects to the store described by (driver, dsn) and verifies the
// connection with a ping.
func Open(driver, dsn string) (*Gateway, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &Gateway{db: db}, nil
}

// NewGateway wraps an already-open database handle. Used by tests that run
// against an in-memory store.
func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{db: db}
}

// Ping verifies connectivity by running a trivial query.
func (g *Gateway) Ping(ctx context.Context) error {
	var one int
	if err := g.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// Read executes a query and returns the full result set. Column names are
// normalized: any structural separator ('.') becomes an underscore. The
// connection used is scoped to this call and released on every exit path.
func (g *Gateway) Read(ctx context.Context, query string) (*Rows, error) {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	out := &Rows{Columns: make([]string, len(cols))}
	for i, c := range cols {
		out.Columns[i] = normalizeColumn(c)
	}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Records = append(out.Records, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// Write persists a row set as a named table with full-replace semantics. The
// new contents are built under a staging name and swapped in within a single
// transaction, so a failure mid-write leaves any previous version of the
// table untouched.
func (g *Gateway) Write(ctx context.Context, table string, rows *Rows, opts WriteOptions) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, table)
	}
	if rows == nil || len(rows.Columns) == 0 {
		return fmt.Errorf("write %s: %w", table, ErrNoColumns)
	}
	for _, c := range rows.Columns {
		if !identPattern.MatchString(c) {
			return fmt.Errorf("%w: column %q", ErrBadIdentifier, c)
		}
	}
	for _, c := range opts.IndexColumns {
		if rows.Col(c) < 0 {
			return fmt.Errorf("write %s: index column %q not in row set", table, c)
		}
	}

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	staging := table + "__staging"
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
		return fmt.Errorf("drop staging %s: %w", staging, err)
	}
	if _, err := tx.ExecContext(ctx, createStatement(staging, rows)); err != nil {
		return fmt.Errorf("create %s: %w", staging, err)
	}

	insert := insertStatement(staging, rows.Columns)
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range rows.Records {
		if len(rec) != len(rows.Columns) {
			return fmt.Errorf("write %s: record width %d, want %d", table, len(rec), len(rows.Columns))
		}
		if _, err := stmt.ExecContext(ctx, rec...); err != nil {
			return fmt.Errorf("insert into %s: %w", staging, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE "+staging+" RENAME TO "+table); err != nil {
		return fmt.Errorf("swap %s: %w", table, err)
	}
	if len(opts.IndexColumns) > 0 {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_key ON %s (%s)",
			table, table, strings.Join(opts.IndexColumns, ", "))
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("index %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}

func normalizeColumn(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// createStatement infers a column type from the first non-nil value in each
// column. Columns with no values at all default to TEXT. The table schema is
// redefined from the data on every write; there is no migration path.
func createStatement(table string, rows *Rows) string {
	defs := make([]string, len(rows.Columns))
	for i, col := range rows.Columns {
		typ := "TEXT"
		for _, rec := range rows.Records {
			if rec[i] == nil {
				continue
			}
			typ = sqlType(rec[i])
			break
		}
		defs[i] = col + " " + typ
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
}

func sqlType(v any) string {
	switch v.(type) {
	case int, int32, int64, bool:
		return "INTEGER"
	case float32, float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func insertStatement(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
}

// AsInt coerces a value read from the store to int64. Drivers hand back
// int64 for INTEGER columns but TEXT sources may carry numerals.
func AsInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

// AsFloat coerces a value read from the store to float64.
func AsFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		var out float64
		if _, err := fmt.Sscanf(n, "%g", &out); err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// AsString coerces a value read from the store to its string form.
func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
