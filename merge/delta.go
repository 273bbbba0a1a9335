package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dimload/dialect"
	"dimload/metrics"
)

// DeltaOptions configure InsertNewRecords.
type DeltaOptions struct {
	// BusinessKeys are the natural key columns defining row identity across
	// source and target.
	BusinessKeys []string

	// SurrogateKey is the target's integer key column, assigned sequentially
	// for inserted rows.
	SurrogateKey string

	// DefaultStartID seeds key assignment when the target has no rows (or
	// only NULL keys): the first inserted row gets DefaultStartID + 1.
	DefaultStartID int64

	// BatchSize caps rows per INSERT statement. 0 derives a batch size from
	// the dialect's parameter ceiling.
	BatchSize int
}

// InsertNewRecords copies the source rows whose business keys are absent from
// target, assigning each a surrogate key above the target's current maximum.
// Existing target rows are never touched, which makes reruns idempotent.
//
// Only columns present in both tables are copied (the surrogate key is
// excluded from that set and assigned here instead).
//
// Edge cases:
//   - Rows whose business keys are NULL never match the anti-join and would
//     be re-inserted on every run; run ValidateTableNoNulls over the keys
//     first.
//   - A business key that is missing from either table, or that names the
//     surrogate key column, fails validation before anything is written.
//
// Returns the number of rows inserted.
func (e *Engine) InsertNewRecords(ctx context.Context, source, target string, opts DeltaOptions) (int64, error) {
	const op = "delta_insert"
	logf := e.logger()
	start := time.Now()

	src, err := dialect.ParseTableName(source)
	if err != nil {
		return 0, err
	}
	tgt, err := dialect.ParseTableName(target)
	if err != nil {
		return 0, err
	}
	if len(opts.BusinessKeys) == 0 {
		return 0, validationErrf(op, "business keys must be a non-empty list of column names")
	}
	for _, k := range opts.BusinessKeys {
		if strings.TrimSpace(k) == "" {
			return 0, validationErrf(op, "business keys must be a non-empty list of column names")
		}
	}
	if err := dialect.ValidColumns(opts.BusinessKeys); err != nil {
		return 0, err
	}
	if opts.SurrogateKey == "" {
		return 0, validationErrf(op, "surrogate key column is required")
	}
	if !dialect.ValidIdent(opts.SurrogateKey) {
		return 0, &dialect.InvalidIdentifierError{Input: opts.SurrogateKey, Reason: "column is not a valid identifier"}
	}

	if ok, err := e.tableExists(ctx, src); err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return 0, err
	} else if !ok {
		return 0, validationErrf(op, "source table %s does not exist", src)
	}
	if ok, err := e.tableExists(ctx, tgt); err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return 0, err
	} else if !ok {
		return 0, validationErrf(op, "target table %s does not exist", tgt)
	}

	srcCols, err := e.tableColumns(ctx, src)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return 0, err
	}
	tgtCols, err := e.tableColumns(ctx, tgt)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return 0, err
	}
	if err := requireColumns(op, tgt, tgtCols, []string{opts.SurrogateKey}); err != nil {
		return 0, err
	}

	common := commonColumns(srcCols, tgtCols, opts.SurrogateKey)
	if len(common) == 0 {
		return 0, validationErrf(op, "no common columns between %s and %s (excluding surrogate key %s)", src, tgt, opts.SurrogateKey)
	}
	if missing := missingColumns(common, opts.BusinessKeys); len(missing) > 0 {
		return 0, validationErrf(op, "business key(s) missing from source or target: %s", strings.Join(missing, ", "))
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s %s: begin tx: %w", op, tgt, err)
	}
	defer func() { _ = tx.Rollback() }()

	maxID, present, err := e.maxSurrogate(ctx, tx, tgt, opts.SurrogateKey)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return 0, err
	}
	base := opts.DefaultStartID
	if present {
		base = maxID
	}

	newRows, err := fetchDeltaRows(ctx, tx, buildDeltaSelectSQL(e.dialect, src, tgt, opts.BusinessKeys, common), len(common))
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return 0, fmt.Errorf("%s %s: select new rows: %w", op, tgt, err)
	}
	if len(newRows) == 0 {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("%s %s: commit: %w", op, tgt, err)
		}
		e.observeStep(op, start)
		logf("stage=%s table=%s ok inserted=0 duration=%s", op, tgt, durMS(start))
		return 0, nil
	}

	insertCols := append([]string{opts.SurrogateKey}, common...)
	batch := deltaBatchSize(opts.BatchSize, len(insertCols), e.dialect.MaxParams())

	next := base
	for s := 0; s < len(newRows); s += batch {
		end := s + batch
		if end > len(newRows) {
			end = len(newRows)
		}

		part := make([][]any, 0, end-s)
		for _, r := range newRows[s:end] {
			next++
			part = append(part, append([]any{next}, r...))
		}

		q, args := buildDeltaInsertSQL(e.dialect, tgt, insertCols, part)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			logf("stage=%s table=%s status=error err=%v", op, tgt, err)
			return 0, fmt.Errorf("%s %s: insert: %w", op, tgt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s %s: commit: %w", op, tgt, err)
	}

	inserted := int64(len(newRows))
	e.count("dimload.load.rows", float64(inserted), metrics.Labels{"kind": "inserted"})
	e.observeStep(op, start)
	logf("stage=%s table=%s ok inserted=%d duration=%s", op, tgt, inserted, durMS(start))
	return inserted, nil
}

// commonColumns intersects source and target columns preserving source order,
// excluding the surrogate key.
func commonColumns(srcCols, tgtCols []string, surrogateKey string) []string {
	var out []string
	for _, c := range srcCols {
		if strings.EqualFold(c, surrogateKey) {
			continue
		}
		if containsFold(tgtCols, c) {
			out = append(out, c)
		}
	}
	return out
}

// deltaBatchSize derives rows-per-statement from the parameter ceiling,
// leaving headroom the way the staging backends do. A caller-set size is
// still clamped to the safe bound.
func deltaBatchSize(requested, columns, maxParams int) int {
	safe := (maxParams - 100) / columns
	if safe < 1 {
		safe = 1
	}
	if requested > 0 && requested < safe {
		return requested
	}
	return safe
}

// fetchDeltaRows scans every result row into a generic value slice.
func fetchDeltaRows(ctx context.Context, tx txConn, query string, width int) ([][]any, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, width)
		dests := make([]any, width)
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// buildDeltaSelectSQL selects the common columns of source rows whose
// business keys have no match in target.
func buildDeltaSelectSQL(d dialect.Dialect, src, tgt dialect.TableName, businessKeys, common []string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range common {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("src.")
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(d.QuoteTable(src))
	b.WriteString(" AS src WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(d.QuoteTable(tgt))
	b.WriteString(" AS tgt WHERE ")
	for i, k := range businessKeys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("tgt.")
		b.WriteString(d.QuoteIdent(k))
		b.WriteString(" = src.")
		b.WriteString(d.QuoteIdent(k))
	}
	b.WriteString(")")
	return b.String()
}

// buildDeltaInsertSQL builds one INSERT ... VALUES statement for a chunk of
// rows that already carry their assigned surrogate keys.
func buildDeltaInsertSQL(d dialect.Dialect, tgt dialect.TableName, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QuoteTable(tgt))
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
