package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dimload/dialect"
	"dimload/metrics"
)

// ValidateTableNoNulls fails when any of columns holds a NULL in table.
//
// The check is a single read-only aggregate, so it takes no transaction. An
// empty table passes. A failed check returns a *DataQualityError carrying the
// offending row count; nothing is modified either way.
func (e *Engine) ValidateTableNoNulls(ctx context.Context, table string, columns []string) error {
	const op = "validate_no_nulls"
	logf := e.logger()
	start := time.Now()

	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return validationErrf(op, "columns must be a non-empty list")
	}
	if err := dialect.ValidColumns(columns); err != nil {
		return err
	}

	var n int64
	if err := e.db.QueryRowContext(ctx, buildNoNullsSQL(e.dialect, t, columns)).Scan(&n); err != nil {
		logf("stage=%s table=%s status=error err=%v", op, t, err)
		return fmt.Errorf("%s %s: %w", op, t, err)
	}
	if n > 0 {
		e.count("dimload.quality.failures", 1, metrics.Labels{"check": "no_nulls"})
		logf("stage=%s table=%s status=failed rows=%d", op, t, n)
		return &DataQualityError{
			Table: t.String(),
			Check: "no_nulls",
			Rows:  n,
			Msg:   fmt.Sprintf("found %d rows with NULL values in columns %s of %s", n, strings.Join(columns, ", "), t),
		}
	}

	e.observeStep(op, start)
	logf("stage=%s table=%s ok duration=%s", op, t, durMS(start))
	return nil
}

// ValidateTableUniqueness fails when the combination of columns is not unique
// across table.
//
// Same contract as ValidateTableNoNulls: read-only, empty table passes, a
// *DataQualityError carries the duplicated key-group count.
func (e *Engine) ValidateTableUniqueness(ctx context.Context, table string, columns []string) error {
	const op = "validate_uniqueness"
	logf := e.logger()
	start := time.Now()

	t, err := dialect.ParseTableName(table)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return validationErrf(op, "columns must be a non-empty list")
	}
	if err := dialect.ValidColumns(columns); err != nil {
		return err
	}

	var n int64
	if err := e.db.QueryRowContext(ctx, buildUniquenessSQL(e.dialect, t, columns)).Scan(&n); err != nil {
		logf("stage=%s table=%s status=error err=%v", op, t, err)
		return fmt.Errorf("%s %s: %w", op, t, err)
	}
	if n > 0 {
		e.count("dimload.quality.failures", 1, metrics.Labels{"check": "uniqueness"})
		logf("stage=%s table=%s status=failed key_groups=%d", op, t, n)
		return &DataQualityError{
			Table: t.String(),
			Check: "uniqueness",
			Rows:  n,
			Msg:   fmt.Sprintf("duplicate business keys found in %s: %d duplicated combinations of %s", t, n, strings.Join(columns, ", ")),
		}
	}

	e.observeStep(op, start)
	logf("stage=%s table=%s ok duration=%s", op, t, durMS(start))
	return nil
}

// buildNoNullsSQL counts rows where any checked column is NULL.
func buildNoNullsSQL(d dialect.Dialect, t dialect.TableName, columns []string) string {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(d.QuoteTable(t))
	b.WriteString(" WHERE ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString(d.QuoteIdent(c))
		b.WriteString(" IS NULL")
	}
	return b.String()
}

// buildUniquenessSQL counts key combinations occurring more than once.
func buildUniquenessSQL(d dialect.Dialect, t dialect.TableName, columns []string) string {
	var cols strings.Builder
	for i, c := range columns {
		if i > 0 {
			cols.WriteString(", ")
		}
		cols.WriteString(d.QuoteIdent(c))
	}

	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM (SELECT ")
	b.WriteString(cols.String())
	b.WriteString(" FROM ")
	b.WriteString(d.QuoteTable(t))
	b.WriteString(" GROUP BY ")
	b.WriteString(cols.String())
	b.WriteString(" HAVING COUNT(*) > 1) AS dup_keys")
	return b.String()
}
