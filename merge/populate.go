package merge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dimload/dialect"
	"dimload/metrics"
)

// MergeSpec describes one merge load from a staged source table into a
// target dimension table.
type MergeSpec struct {
	// Target and Source are table references in any form ParseTableName
	// accepts. They are parsed and their column sets re-validated against
	// the live catalog on every call.
	Target string
	Source string

	// MatchKeys are the business key columns joining target rows to source
	// rows.
	MatchKeys []string

	// SurrogateKey is the target's integer key column. Inserted rows get
	// max(SurrogateKey) + ROW_NUMBER(); an empty or all-NULL column counts
	// as max 0.
	SurrogateKey string

	// UpdateColumns are set on matched target rows from the source.
	UpdateColumns []string

	// InsertColumns are copied from source for unmatched rows.
	InsertColumns []string

	// OrderBy pins which source row receives which surrogate key. Empty
	// means the numbering order is arbitrary (still unique and gap-free).
	OrderBy []string

	// DropSourceAfter drops the source table inside the same transaction
	// once the merge succeeds.
	DropSourceAfter bool
}

// LoadResult reports the effect of one merge load.
type LoadResult struct {
	RowsUpdated  int64
	RowsInserted int64
}

// PopulateTableFromSource merges source into target in one transaction:
// matched rows (by MatchKeys) get their UpdateColumns overwritten, unmatched
// source rows are inserted with sequential surrogate keys continuing from
// the target's current maximum. No native MERGE statement is used, so the
// operation runs on any registered dialect.
//
// Counts: the updated count is the driver's rows-affected. The inserted
// count likewise, except when the driver cannot report one; then a fallback
// COUNT(*) over the not-matched selection runs, and if that fails too the
// inserted count is recorded as zero with a warning rather than failing the
// load.
//
// Errors: validation problems return *ValidationError before anything is
// written; database errors roll the transaction back and are returned
// wrapped, with the driver error reachable via errors.As.
func (e *Engine) PopulateTableFromSource(ctx context.Context, spec MergeSpec) (LoadResult, error) {
	const op = "populate"
	logf := e.logger()
	start := time.Now()

	var res LoadResult

	tgt, err := dialect.ParseTableName(spec.Target)
	if err != nil {
		return res, err
	}
	src, err := dialect.ParseTableName(spec.Source)
	if err != nil {
		return res, err
	}
	if err := validateMergeSpec(op, spec); err != nil {
		return res, err
	}

	tgtCols, err := e.tableColumns(ctx, tgt)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return res, err
	}
	srcCols, err := e.tableColumns(ctx, src)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return res, err
	}

	tgtNeeds := concatColumns(spec.MatchKeys, spec.UpdateColumns, spec.InsertColumns, []string{spec.SurrogateKey})
	if err := requireColumns(op, tgt, tgtCols, tgtNeeds); err != nil {
		return res, err
	}
	srcNeeds := concatColumns(spec.MatchKeys, spec.UpdateColumns, spec.InsertColumns, spec.OrderBy)
	if err := requireColumns(op, src, srcCols, srcNeeds); err != nil {
		return res, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("%s %s: begin tx: %w", op, tgt, err)
	}
	defer func() { _ = tx.Rollback() }()

	maxID, _, err := e.maxSurrogate(ctx, tx, tgt, spec.SurrogateKey)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return res, err
	}

	// Step 1: overwrite UpdateColumns on matched rows.
	upStart := time.Now()
	upRes, err := tx.ExecContext(ctx, e.dialect.UpdateFromJoinSQL(tgt, src, spec.MatchKeys, "", spec.UpdateColumns))
	if err != nil {
		logf("stage=%s table=%s step=update status=error err=%v", op, tgt, err)
		return res, fmt.Errorf("%s %s from %s: update: %w", op, tgt, src, err)
	}
	res.RowsUpdated = rowsAffected(upRes).Or(0)
	logf("stage=%s table=%s step=update rows=%d duration=%s", op, tgt, res.RowsUpdated, durMS(upStart))

	// Step 2: insert unmatched rows with numbered surrogate keys.
	insStart := time.Now()
	insRes, err := tx.ExecContext(ctx, buildNumberedInsertSQL(e.dialect, tgt, src, spec, maxID))
	if err != nil {
		logf("stage=%s table=%s step=insert status=error err=%v", op, tgt, err)
		return res, fmt.Errorf("%s %s from %s: insert: %w", op, tgt, src, err)
	}

	if n, ok := rowsAffected(insRes).Known(); ok {
		res.RowsInserted = n
	} else {
		var n int64
		if err := tx.QueryRowContext(ctx, buildNumberedCountSQL(e.dialect, tgt, src, spec)).Scan(&n); err != nil {
			logf("stage=%s table=%s step=insert status=warn msg=%q err=%v",
				op, tgt, "could not determine row count from fallback count query", err)
			res.RowsInserted = 0
		} else {
			res.RowsInserted = n
		}
	}
	logf("stage=%s table=%s step=insert rows=%d duration=%s", op, tgt, res.RowsInserted, durMS(insStart))

	if spec.DropSourceAfter {
		if _, err := tx.ExecContext(ctx, e.dialect.DropTableSQL(src)); err != nil {
			logf("stage=%s table=%s step=drop_source status=error err=%v", op, tgt, err)
			return res, fmt.Errorf("%s %s from %s: drop source: %w", op, tgt, src, err)
		}
		logf("stage=%s table=%s step=drop_source ok", op, tgt)
	}

	if err := tx.Commit(); err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return res, fmt.Errorf("%s %s from %s: commit: %w", op, tgt, src, err)
	}

	e.count("dimload.load.rows", float64(res.RowsUpdated), metrics.Labels{"kind": "updated"})
	e.count("dimload.load.rows", float64(res.RowsInserted), metrics.Labels{"kind": "inserted"})
	e.observeStep(op, start)
	logf("stage=%s table=%s ok updated=%d inserted=%d duration=%s", op, tgt, res.RowsUpdated, res.RowsInserted, durMS(start))
	return res, nil
}

// validateMergeSpec rejects structurally unusable specs before any statement
// runs.
func validateMergeSpec(op string, spec MergeSpec) error {
	if len(spec.MatchKeys) == 0 {
		return validationErrf(op, "match keys must be a non-empty list")
	}
	if len(spec.UpdateColumns) == 0 {
		return validationErrf(op, "update columns must be a non-empty list")
	}
	if len(spec.InsertColumns) == 0 {
		return validationErrf(op, "insert columns must be a non-empty list")
	}
	if spec.SurrogateKey == "" {
		return validationErrf(op, "surrogate key column is required")
	}
	if !dialect.ValidIdent(spec.SurrogateKey) {
		return &dialect.InvalidIdentifierError{Input: spec.SurrogateKey, Reason: "column is not a valid identifier"}
	}
	for _, cols := range [][]string{spec.MatchKeys, spec.UpdateColumns, spec.InsertColumns, spec.OrderBy} {
		if err := dialect.ValidColumns(cols); err != nil {
			return err
		}
	}
	if containsFold(spec.UpdateColumns, spec.SurrogateKey) {
		return validationErrf(op, "surrogate key %s must not be an update column", spec.SurrogateKey)
	}
	if containsFold(spec.InsertColumns, spec.SurrogateKey) {
		return validationErrf(op, "surrogate key %s must not be an insert column; it is assigned by the load", spec.SurrogateKey)
	}
	return nil
}

// concatColumns flattens column lists for a requireColumns check.
func concatColumns(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// buildNumberedRowsCTE renders the shared "numbered_rows" CTE: source rows
// with no business-key match in target, each numbered by the dialect's
// windowed ROW_NUMBER expression.
func buildNumberedRowsCTE(d dialect.Dialect, tgt, src dialect.TableName, spec MergeSpec) string {
	var b strings.Builder
	b.WriteString("WITH numbered_rows AS (SELECT ")
	for _, c := range spec.InsertColumns {
		b.WriteString("src.")
		b.WriteString(d.QuoteIdent(c))
		b.WriteString(", ")
	}
	b.WriteString(d.RowNumberExpr(spec.OrderBy))
	b.WriteString(" AS rn FROM ")
	b.WriteString(d.QuoteTable(src))
	b.WriteString(" AS src WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(d.QuoteTable(tgt))
	b.WriteString(" AS tgt WHERE ")
	for i, k := range spec.MatchKeys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("tgt.")
		b.WriteString(d.QuoteIdent(k))
		b.WriteString(" = src.")
		b.WriteString(d.QuoteIdent(k))
	}
	b.WriteString("))")
	return b.String()
}

// buildNumberedInsertSQL inserts the numbered rows with surrogate keys
// continuing from maxID. maxID is a trusted int64, never caller text.
func buildNumberedInsertSQL(d dialect.Dialect, tgt, src dialect.TableName, spec MergeSpec, maxID int64) string {
	var b strings.Builder
	b.WriteString(buildNumberedRowsCTE(d, tgt, src, spec))
	b.WriteString(" INSERT INTO ")
	b.WriteString(d.QuoteTable(tgt))
	b.WriteString(" (")
	b.WriteString(d.QuoteIdent(spec.SurrogateKey))
	for _, c := range spec.InsertColumns {
		b.WriteString(", ")
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(") SELECT ")
	b.WriteString(strconv.FormatInt(maxID, 10))
	b.WriteString(" + rn AS ")
	b.WriteString(d.QuoteIdent(spec.SurrogateKey))
	for _, c := range spec.InsertColumns {
		b.WriteString(", ")
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(" FROM numbered_rows")
	return b.String()
}

// buildNumberedCountSQL counts the numbered rows; used only when the driver
// cannot report an inserted row count.
func buildNumberedCountSQL(d dialect.Dialect, tgt, src dialect.TableName, spec MergeSpec) string {
	return buildNumberedRowsCTE(d, tgt, src, spec) + " SELECT COUNT(*) FROM numbered_rows"
}
