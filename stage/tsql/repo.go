// Package tsql implements the SQL Server staging backend, registered under
// kind "tsql". Importing it also registers the "sqlserver" database/sql
// driver.
package tsql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"dimload/dialect"
	_ "dimload/dialect/tsql"
	"dimload/stage"
)

func init() {
	stage.Register("tsql", New)
}

var d = dialect.MustLookup("tsql")

// Repo implements stage.Repository for SQL Server, Azure SQL and Fabric
// Warehouse.
type Repo struct {
	db *sql.DB
}

// New connects via the "sqlserver" driver and validates connectivity with a
// ping before returning.
func New(ctx context.Context, cfg stage.Config) (stage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty staging loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

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

// EnsureTable creates the staging table unless it already exists. The CREATE
// is wrapped in an OBJECT_ID guard since T-SQL has no IF NOT EXISTS form.
func (r *Repo) EnsureTable(ctx context.Context, spec stage.TableSpec) error {
	q, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("tsql: create table %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) TruncateTable(ctx context.Context, table string) error {
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, "TRUNCATE TABLE "+d.QuoteTable(t)); err != nil {
		return fmt.Errorf("tsql: truncate %s: %w", t, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL BEGIN DROP TABLE %s; END;", t, d.QuoteTable(t))
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("tsql: drop %s: %w", t, err)
	}
	return nil
}

// BulkInsert appends rows in chunks sized to stay under SQL Server's 2100
// parameter limit.
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
			return total, fmt.Errorf("tsql: insert into %s: %w", t, err)
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
		return nil, fmt.Errorf("tsql: select key value from %s: %w", t, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, fmt.Errorf("tsql: select key value from %s: %w", t, err)
		}
		out[stage.NormalizeKey(k)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tsql: select key value from %s: %w", t, err)
	}
	return out, nil
}

// buildCreateSQL builds the guarded CREATE TABLE statement. Split out for
// testability.
func buildCreateSQL(spec stage.TableSpec) (string, error) {
	t, err := dialect.ParseTableName(spec.Name)
	if err != nil {
		return "", err
	}
	defs, err := columnDefs(spec.Columns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		t, d.QuoteTable(t), defs), nil
}

func columnDefs(cols []stage.ColumnSpec) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("tsql: table has no columns")
	}
	var parts []string
	for _, c := range cols {
		if !dialect.ValidIdent(c.Name) {
			return "", &dialect.InvalidIdentifierError{Input: c.Name, Reason: "column is not a valid identifier"}
		}
		if strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("tsql: column %s type is empty", c.Name)
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
