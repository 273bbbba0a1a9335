// Package sqlite implements the SQLite dialect. Registered under the name
// "sqlite".
//
// SQLite accepts bracket-quoted identifiers, so statements generated here
// read the same as the tsql dialect's where the syntax overlaps. SQLite has
// no schemas; a parsed schema part is ignored rather than rejected, since
// callers commonly run the same qualified names against SQLite in tests.
package sqlite

import (
	"strings"

	"dimload/dialect"
)

func init() {
	dialect.Register(Dialect{})
}

// Dialect is the SQLite dialect. The zero value is ready to use.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

// QuoteIdent bracket-quotes an identifier, escaping ']' as ']]'.
func (Dialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d Dialect) QuoteTable(t dialect.TableName) string {
	return d.QuoteIdent(t.Table)
}

func (Dialect) Placeholder(int) string { return "?" }

// MaxParams stays at the conservative historical SQLITE_MAX_VARIABLE_NUMBER.
func (Dialect) MaxParams() int { return 999 }

func (Dialect) IntegerType() string { return "INTEGER" }

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
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{t.Table}
}

// TableColumnsSQL introspects via the pragma_table_info table-valued function,
// which accepts a bound parameter where PRAGMA table_info does not.
func (d Dialect) TableColumnsSQL(t dialect.TableName) (string, []any) {
	return "SELECT name FROM pragma_table_info(?) ORDER BY cid", []any{t.Table}
}

func (d Dialect) AddColumnSQL(t dialect.TableName, column, columnType string) string {
	return "ALTER TABLE " + d.QuoteTable(t) + " ADD COLUMN " + d.QuoteIdent(column) + " " + columnType
}

// CloneTableSQL copies column structure without rows; column affinities are
// inferred from the source expressions.
func (d Dialect) CloneTableSQL(source, target dialect.TableName) string {
	return "CREATE TABLE " + d.QuoteTable(target) + " AS SELECT * FROM " + d.QuoteTable(source) + " WHERE 0"
}

func (d Dialect) DropTableSQL(t dialect.TableName) string {
	return "DROP TABLE " + d.QuoteTable(t)
}

// UpdateFromJoinSQL builds the UPDATE ... FROM form supported since SQLite
// 3.33. As in PostgreSQL, the SET list must not qualify target columns.
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
