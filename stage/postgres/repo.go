// Package postgres implements the PostgreSQL staging backend, registered
// under kind "postgres". Bulk operations run natively on a pgx pool; DB
// exposes the same pool through the pgx stdlib adapter so a merge engine can
// share the connections.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"dimload/dialect"
	_ "dimload/dialect/postgres"
	"dimload/stage"
)

func init() {
	stage.Register("postgres", New)
}

var d = dialect.MustLookup("postgres")

// Repo implements stage.Repository for PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// New opens a pgx pool for the DSN and validates connectivity with a ping
// before returning.
func New(ctx context.Context, cfg stage.Config) (stage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

func (r *Repo) Close() {
	if r == nil || r.pool == nil {
		return
	}
	_ = r.db.Close()
	r.pool.Close()
}

func (r *Repo) DB() *sql.DB { return r.db }

// EnsureTable creates the staging table (and its schema) when absent.
func (r *Repo) EnsureTable(ctx context.Context, spec stage.TableSpec) error {
	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	// pgx runs one statement per Exec in the extended protocol, so the
	// schema DDL cannot ride along with the table DDL.
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("postgres: create schema for %s: %w", spec.Name, err)
		}
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) TruncateTable(ctx context.Context, table string) error {
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, "TRUNCATE TABLE "+d.QuoteTable(t)); err != nil {
		return fmt.Errorf("postgres: truncate %s: %w", t, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+d.QuoteTable(t)); err != nil {
		return fmt.Errorf("postgres: drop %s: %w", t, err)
	}
	return nil
}

// BulkInsert appends rows in chunks sized to the 65535 parameter ceiling of
// the extended protocol.
func (r *Repo) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("BulkInsert: columns is empty")
	}
	if err := dialect.ValidColumns(columns); err != nil {
		return 0, err
	}

	maxRows := stage.RowsPerStatement(d.MaxParams(), len(columns))

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}

		q, args := buildInsertSQL(t, columns, rows[start:end])
		cmd, err := r.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("postgres: insert into %s: %w", t, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// SelectKeyValue reads the table as normalized key -> id.
func (r *Repo) SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return nil, err
	}
	if err := dialect.ValidColumns([]string{keyColumn, valueColumn}); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT %s, %s FROM %s", d.QuoteIdent(keyColumn), d.QuoteIdent(valueColumn), d.QuoteTable(t))
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: select key value from %s: %w", t, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, fmt.Errorf("postgres: select key value from %s: %w", t, err)
		}
		out[stage.NormalizeKey(k)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: select key value from %s: %w", t, err)
	}
	return out, nil
}

// buildCreateSQL builds the CREATE SCHEMA and CREATE TABLE statements. The
// schema statement is empty for unqualified names.
func buildCreateSQL(spec stage.TableSpec) (schemaSQL, tableSQL string, err error) {
	t, err := dialect.ParseTableName(spec.Name)
	if err != nil {
		return "", "", err
	}
	defs, err := columnDefs(spec.Columns)
	if err != nil {
		return "", "", err
	}
	if t.Schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + d.QuoteIdent(t.Schema)
	}
	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteTable(t), defs)
	return schemaSQL, tableSQL, nil
}

func columnDefs(cols []stage.ColumnSpec) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("postgres: table has no columns")
	}
	var parts []string
	for _, c := range cols {
		if !dialect.ValidIdent(c.Name) {
			return "", &dialect.InvalidIdentifierError{Input: c.Name, Reason: "column is not a valid identifier"}
		}
		if strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("postgres: column %s type is empty", c.Name)
		}

		var b strings.Builder
		b.WriteString(d.QuoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(c.Type)

		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			b.WriteString(" NOT NULL")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ", "), nil
}

// buildInsertSQL constructs one INSERT statement and its args for a chunk of
// rows. Pure so placeholder numbering can be unit tested without a database.
func buildInsertSQL(t dialect.TableName, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QuoteTable(t))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

var _ stage.Repository = (*Repo)(nil)
