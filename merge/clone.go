package merge

import (
	"context"
	"fmt"
	"time"

	"dimload/dialect"
)

// CloneResult reports what CreateTableFromExistingSchema changed.
type CloneResult struct {
	CreatedTable      bool
	AddedSurrogateKey bool
}

// CreateTableFromExistingSchema ensures target exists with source's column
// structure and, when surrogateKey is non-empty, carries that column.
//
// Behavior:
//   - Target missing: create it as a zero-row structural copy of source,
//     then add surrogateKey unless source already had that column.
//   - Target exists and is empty: add surrogateKey if absent; the structure
//     is otherwise left alone.
//   - Target exists and has rows: never mutated, reported as no-op.
//   - Empty surrogateKey: plain structural clone, no column ever added.
//
// Constraints, indexes and defaults are not copied; only column structure is.
// Introspection and DDL failures are logged and returned wrapped.
func (e *Engine) CreateTableFromExistingSchema(ctx context.Context, source, target, surrogateKey string) (CloneResult, error) {
	const op = "clone_schema"
	logf := e.logger()
	start := time.Now()

	var out CloneResult

	src, err := dialect.ParseTableName(source)
	if err != nil {
		return out, err
	}
	tgt, err := dialect.ParseTableName(target)
	if err != nil {
		return out, err
	}
	if surrogateKey != "" && !dialect.ValidIdent(surrogateKey) {
		return out, &dialect.InvalidIdentifierError{Input: surrogateKey, Reason: "column is not a valid identifier"}
	}

	exists, err := e.tableExists(ctx, tgt)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return out, err
	}

	if !exists {
		if _, err := e.db.ExecContext(ctx, e.dialect.CloneTableSQL(src, tgt)); err != nil {
			logf("stage=%s table=%s status=error err=%v", op, tgt, err)
			return out, fmt.Errorf("clone %s from %s: %w", tgt, src, err)
		}
		out.CreatedTable = true

		if surrogateKey != "" {
			added, err := e.addSurrogateIfAbsent(ctx, tgt, surrogateKey)
			if err != nil {
				logf("stage=%s table=%s status=error err=%v", op, tgt, err)
				return out, err
			}
			out.AddedSurrogateKey = added
		}

		e.observeStep(op, start)
		logf("stage=%s table=%s ok created=true added_surrogate=%t duration=%s", op, tgt, out.AddedSurrogateKey, durMS(start))
		return out, nil
	}

	// Existing target: only an empty one may gain the surrogate key column.
	n, err := e.tableRowCount(ctx, tgt)
	if err != nil {
		logf("stage=%s table=%s status=error err=%v", op, tgt, err)
		return out, err
	}
	if n == 0 && surrogateKey != "" {
		added, err := e.addSurrogateIfAbsent(ctx, tgt, surrogateKey)
		if err != nil {
			logf("stage=%s table=%s status=error err=%v", op, tgt, err)
			return out, err
		}
		out.AddedSurrogateKey = added
	}

	e.observeStep(op, start)
	logf("stage=%s table=%s ok created=false added_surrogate=%t duration=%s", op, tgt, out.AddedSurrogateKey, durMS(start))
	return out, nil
}

func (e *Engine) addSurrogateIfAbsent(ctx context.Context, t dialect.TableName, surrogateKey string) (bool, error) {
	cols, err := e.tableColumns(ctx, t)
	if err != nil {
		return false, err
	}
	if containsFold(cols, surrogateKey) {
		return false, nil
	}
	if _, err := e.db.ExecContext(ctx, e.dialect.AddColumnSQL(t, surrogateKey, e.dialect.IntegerType())); err != nil {
		return false, fmt.Errorf("add column %s to %s: %w", surrogateKey, t, err)
	}
	return true, nil
}
