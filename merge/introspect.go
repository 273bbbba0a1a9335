package merge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dimload/dialect"
)

// tableExists reports whether t exists in the connected catalog.
func (e *Engine) tableExists(ctx context.Context, t dialect.TableName) (bool, error) {
	q, args := e.dialect.TableExistsSQL(t)
	var n int64
	if err := e.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", t, err)
	}
	return n > 0, nil
}

// tableColumns returns t's column names in ordinal order.
func (e *Engine) tableColumns(ctx context.Context, t dialect.TableName) ([]string, error) {
	q, args := e.dialect.TableColumnsSQL(t)
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("table columns %s: %w", t, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("table columns %s: %w", t, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table columns %s: %w", t, err)
	}
	return out, nil
}

// tableRowCount returns COUNT(*) for t. Only used on tables expected to be
// small or empty (the cloner's is-empty check).
func (e *Engine) tableRowCount(ctx context.Context, t dialect.TableName) (int64, error) {
	q := "SELECT COUNT(*) FROM " + e.dialect.QuoteTable(t)
	var n int64
	if err := e.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("row count %s: %w", t, err)
	}
	return n, nil
}

// maxSurrogate reads MAX(column) from t. present is false when the table has
// no rows or only NULLs in the column.
func (e *Engine) maxSurrogate(ctx context.Context, q rowQuerier, t dialect.TableName, column string) (maxID int64, present bool, err error) {
	stmt := "SELECT MAX(" + e.dialect.QuoteIdent(column) + ") FROM " + e.dialect.QuoteTable(t)
	var v sql.NullInt64
	if err := q.QueryRowContext(ctx, stmt).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("max %s of %s: %w", column, t, err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return v.Int64, true, nil
}

// Column membership is case-insensitive: the warehouses this targets fold
// identifier case, and staged extracts routinely disagree with DDL casing.

func containsFold(cols []string, name string) bool {
	for _, c := range cols {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// missingColumns returns the entries of want absent from have, in want order.
func missingColumns(have, want []string) []string {
	var out []string
	for _, w := range want {
		if !containsFold(have, w) {
			out = append(out, w)
		}
	}
	return out
}

// requireColumns returns a ValidationError naming every column of want that
// table is missing.
func requireColumns(op string, t dialect.TableName, have, want []string) error {
	missing := missingColumns(have, want)
	if len(missing) == 0 {
		return nil
	}
	return validationErrf(op, "column(s) missing from %s: %s", t, strings.Join(missing, ", "))
}
