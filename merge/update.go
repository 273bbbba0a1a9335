package merge

import (
	"context"
	"fmt"
	"time"

	"dimload/dialect"
	"dimload/metrics"
)

// UpdateMatchedRecords bulk-overwrites columnsToUpdate on target rows matched
// to source rows by equality on every joinKey, guarded so that only target
// rows with a non-NULL surrogateKey are touched. Join keys that match no
// source row leave the target row untouched; the statement runs in its own
// transaction and returns the driver's updated row count.
//
// Unlike PopulateTableFromSource this performs no catalog introspection: the
// single UPDATE either applies or fails with the database's own error.
func (e *Engine) UpdateMatchedRecords(ctx context.Context, target, source string, joinKeys []string, surrogateKey string, columnsToUpdate []string) (int64, error) {
	const op = "bulk_update"
	logf := e.logger()
	start := time.Now()

	tgt, err := dialect.ParseTableName(target)
	if err != nil {
		return 0, err
	}
	src, err := dialect.ParseTableName(source)
	if err != nil {
		return 0, err
	}
	if len(joinKeys) == 0 {
		return 0, validationErrf(op, "join keys must be a non-empty list")
	}
	if len(columnsToUpdate) == 0 {
		return 0, validationErrf(op, "columns to update must be a non-empty list")
	}
	if surrogateKey == "" {
		return 0, validationErrf(op, "surrogate key column is required")
	}
	if !dialect.ValidIdent(surrogateKey) {
		return 0, &dialect.InvalidIdentifierError{Input: surrogateKey, Reason: "column is not a valid identifier"}
	}
	if err := dialect.ValidColumns(joinKeys); err != nil {
		return 0, err
	}
	if err := dialect.ValidColumns(columnsToUpdate); err != nil {
		return 0, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s %s: begin tx: %w", op, tgt, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, e.dialect.UpdateFromJoinSQL(tgt, src, joinKeys, surrogateKey, columnsToUpdate))
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return 0, fmt.Errorf("%s %s from %s: %w", op, tgt, src, err)
	}
	n := rowsAffected(res).Or(0)

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s %s: commit: %w", op, tgt, err)
	}

	e.count("dimload.load.rows", float64(n), metrics.Labels{"kind": "updated"})
	e.observeStep(op, start)
	logf("stage=%s table=%s ok updated=%d duration=%s", op, tgt, n, durMS(start))
	return n, nil
}
