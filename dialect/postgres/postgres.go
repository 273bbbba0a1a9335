// Package postgres implements the PostgreSQL dialect. Registered under the
// name "postgres".
package postgres

import (
	"strconv"
	"strings"

	"dimload/dialect"
)

func init() {
	dialect.Register(Dialect{})
}

// Dialect is the PostgreSQL dialect. The zero value is ready to use.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

// QuoteIdent double-quotes an identifier, escaping '"' as '""'.
func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d Dialect) QuoteTable(t dialect.TableName) string {
	if t.Schema == "" {
		return d.QuoteIdent(t.Table)
	}
	return d.QuoteIdent(t.Schema) + "." + d.QuoteIdent(t.Table)
}

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// MaxParams reflects the 16-bit parameter count in the extended protocol.
func (Dialect) MaxParams() int { return 65535 }

func (Dialect) IntegerType() string { return "BIGINT" }

func (d Dialect) RowNumberExpr(orderBy []string) string {
	if len(orderBy) == 0 {
		return "ROW_NUMBER() OVER ()"
	}
	var b strings.Builder
	b.WriteString("ROW_NUMBER() OVER (ORDER BY ")
	for i, c := range orderBy {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(")")
	return b.String()
}

func (d Dialect) TableExistsSQL(t dialect.TableName) (string, []any) {
	if t.Schema == "" {
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1 AND table_schema = current_schema()",
			[]any{t.Table}
	}
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1 AND table_schema = $2",
		[]any{t.Table, t.Schema}
}

func (d Dialect) TableColumnsSQL(t dialect.TableName) (string, []any) {
	if t.Schema == "" {
		return "SELECT column_name FROM information_schema.columns WHERE table_name = $1 AND table_schema = current_schema() ORDER BY ordinal_position",
			[]any{t.Table}
	}
	return "SELECT column_name FROM information_schema.columns WHERE table_name = $1 AND table_schema = $2 ORDER BY ordinal_position",
		[]any{t.Table, t.Schema}
}

func (d Dialect) AddColumnSQL(t dialect.TableName, column, columnType string) string {
	return "ALTER TABLE " + d.QuoteTable(t) + " ADD COLUMN " + d.QuoteIdent(column) + " " + columnType
}

// CloneTableSQL copies column structure without rows. AS TABLE ... WITH NO
// DATA carries column names and types but not constraints or defaults.
func (d Dialect) CloneTableSQL(source, target dialect.TableName) string {
	return "CREATE TABLE " + d.QuoteTable(target) + " AS TABLE " + d.QuoteTable(source) + " WITH NO DATA"
}

func (d Dialect) DropTableSQL(t dialect.TableName) string {
	return "DROP TABLE " + d.QuoteTable(t)
}

// UpdateFromJoinSQL builds the PostgreSQL UPDATE ... FROM form. The SET list
// must not qualify target columns with the alias; PostgreSQL rejects it.
func (d Dialect) UpdateFromJoinSQL(target, source dialect.TableName, joinKeys []string, surrogateKey string, columns []string) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(d.QuoteTable(target))
	b.WriteString(" AS tgt SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
		b.WriteString(" = src.")
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(d.QuoteTable(source))
	b.WriteString(" AS src WHERE ")
	for i, k := range joinKeys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("tgt.")
		b.WriteString(d.QuoteIdent(k))
		b.WriteString(" = src.")
		b.WriteString(d.QuoteIdent(k))
	}
	if surrogateKey != "" {
		b.WriteString(" AND tgt.")
		b.WriteString(d.QuoteIdent(surrogateKey))
		b.WriteString(" IS NOT NULL")
	}
	return b.String()
}

var _ dialect.Dialect = Dialect{}
