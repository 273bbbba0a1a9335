// Package sqlite implements the SQLite staging backend, registered under
// kind "sqlite". It rides the pure-Go modernc driver, so local and in-memory
// staging work without cgo.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"dimload/dialect"
	_ "dimload/dialect/sqlite"
	"dimload/stage"
)

func init() {
	stage.Register("sqlite", New)
}

var d = dialect.MustLookup("sqlite")

// Repo implements stage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

// New opens the SQLite database at the DSN path (":memory:" works) and
// validates it with a ping.
func New(ctx context.Context, cfg stage.Config) (stage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// One connection serializes writers and keeps an in-memory database
	// from vanishing between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) DB() *sql.DB { return r.db }

// EnsureTable creates the staging table when absent.
func (r *Repo) EnsureTable(ctx context.Context, spec stage.TableSpec) error {
	q, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", spec.Name, err)
	}
	return nil
}

// TruncateTable empties the table. SQLite has no TRUNCATE statement; an
// unqualified DELETE takes the truncate optimization path instead.
func (r *Repo) TruncateTable(ctx context.Context, table string) error {
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+d.QuoteTable(t)); err != nil {
		return fmt.Errorf("sqlite: truncate %s: %w", t, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.QuoteTable(t)); err != nil {
		return fmt.Errorf("sqlite: drop %s: %w", t, err)
	}
	return nil
}

// BulkInsert appends rows in chunks sized to the 999 parameter ceiling.
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
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert into %s: %w", t, err)
		}
		n, _ := res.RowsAffected()
		total += n
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
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select key value from %s: %w", t, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, fmt.Errorf("sqlite: select key value from %s: %w", t, err)
		}
		out[stage.NormalizeKey(k)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: select key value from %s: %w", t, err)
	}
	return out, nil
}

func buildCreateSQL(spec stage.TableSpec) (string, error) {
	t, err := dialect.ParseTableName(spec.Name)
	if err != nil {
		return "", err
	}
	defs, err := columnDefs(spec.Columns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteTable(t), defs), nil
}

func columnDefs(cols []stage.ColumnSpec) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("sqlite: table has no columns")
	}
	var parts []string
	for _, c := range cols {
		if !dialect.ValidIdent(c.Name) {
			return "", &dialect.InvalidIdentifierError{Input: c.Name, Reason: "column is not a valid identifier"}
		}
		if strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("sqlite: column %s type is empty", c.Name)
		}

		def := d.QuoteIdent(c.Name) + " " + c.Type
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	return strings.Join(parts, ", "), nil
}

// buildInsertSQL constructs one INSERT statement and its args for a chunk of
// rows.
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
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	return b.String(), args
}

var _ stage.Repository = (*Repo)(nil)
