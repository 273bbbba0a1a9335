// Package tsql implements the T-SQL family dialect (SQL Server, Azure SQL,
// Fabric Warehouse). Registered under the name "tsql".
package tsql

import (
	"strconv"
	"strings"

	"dimload/dialect"
)

func init() {
	dialect.Register(Dialect{})
}

// Dialect is the T-SQL dialect. The zero value is ready to use.
type Dialect struct{}

func (Dialect) Name() string { return "tsql" }

// QuoteIdent bracket-quotes an identifier, escaping ']' as ']]'.
func (Dialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d Dialect) QuoteTable(t dialect.TableName) string {
	if t.Schema == "" {
		return d.QuoteIdent(t.Table)
	}
	return d.QuoteIdent(t.Schema) + "." + d.QuoteIdent(t.Table)
}

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

// MaxParams reflects SQL Server's hard limit of 2100 parameters per statement.
func (Dialect) MaxParams() int { return 2100 }

func (Dialect) IntegerType() string { return "BIGINT" }

// RowNumberExpr numbers rows with ROW_NUMBER(). T-SQL requires an ORDER BY
// inside the window; ORDER BY (SELECT NULL) requests an arbitrary but valid
// ordering when the caller does not pin one.
func (d Dialect) RowNumberExpr(orderBy []string) string {
	if len(orderBy) == 0 {
		return "ROW_NUMBER() OVER (ORDER BY (SELECT NULL))"
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
		return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1 AND TABLE_SCHEMA = SCHEMA_NAME()",
			[]any{t.Table}
	}
	return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1 AND TABLE_SCHEMA = @p2",
		[]any{t.Table, t.Schema}
}

func (d Dialect) TableColumnsSQL(t dialect.TableName) (string, []any) {
	if t.Schema == "" {
		return "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1 AND TABLE_SCHEMA = SCHEMA_NAME() ORDER BY ORDINAL_POSITION",
			[]any{t.Table}
	}
	return "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1 AND TABLE_SCHEMA = @p2 ORDER BY ORDINAL_POSITION",
		[]any{t.Table, t.Schema}
}

func (d Dialect) AddColumnSQL(t dialect.TableName, column, columnType string) string {
	return "ALTER TABLE " + d.QuoteTable(t) + " ADD " + d.QuoteIdent(column) + " " + columnType + " NULL"
}

// CloneTableSQL copies column structure without rows via SELECT INTO with a
// false predicate. Constraints and indexes do not carry over.
func (d Dialect) CloneTableSQL(source, target dialect.TableName) string {
	return "SELECT * INTO " + d.QuoteTable(target) + " FROM " + d.QuoteTable(source) + " WHERE 1 = 0"
}

func (d Dialect) DropTableSQL(t dialect.TableName) string {
	return "DROP TABLE " + d.QuoteTable(t)
}

// UpdateFromJoinSQL builds the T-SQL UPDATE ... FROM ... INNER JOIN form. The
// SET list qualifies target columns with the tgt alias, which T-SQL permits.
func (d Dialect) UpdateFromJoinSQL(target, source dialect.TableName, joinKeys []string, surrogateKey string, columns []string) string {
	var b strings.Builder
	b.WriteString("UPDATE tgt SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("tgt.")
		b.WriteString(d.QuoteIdent(c))
		b.WriteString(" = src.")
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(d.QuoteTable(target))
	b.WriteString(" AS tgt INNER JOIN ")
	b.WriteString(d.QuoteTable(source))
	b.WriteString(" AS src ON ")
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
		b.WriteString(" WHERE tgt.")
		b.WriteString(d.QuoteIdent(surrogateKey))
		b.WriteString(" IS NOT NULL")
	}
	return b.String()
}

var _ dialect.Dialect = Dialect{}
