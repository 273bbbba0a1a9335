// Package merge implements type-1 dimensional loads over relational
// warehouses: staged-table quality checks, schema cloning, business-key delta
// inserts, a transactional update+insert merge that assigns gap-free
// surrogate keys without a native MERGE statement, and a bulk column updater.
//
// Identifier safety: every operation parses caller-supplied table names on
// entry (dialect.ParseTableName), validates column names, and routes all
// identifiers through the dialect's quoting. Catalog state (table existence,
// column sets) is introspected live per call, never cached.
//
// The caller owns connection acquisition, authentication and pooling; an
// Engine consumes a live *sql.DB opaquely and never closes it.
package merge

import (
	"database/sql"
	"log"
	"time"

	"dimload/dialect"
	"dimload/metrics"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Engine executes dimensional load operations against one database using one
// SQL dialect.
//
// Concurrency:
//   - An Engine holds no mutable state and takes no locks; operations may run
//     concurrently against distinct target tables.
//   - Two concurrent loads into the same target can read the same max
//     surrogate key and collide on insert. Run one load per target at a time.
type Engine struct {
	db      dbConn
	dialect dialect.Dialect

	// Logger receives stage-level progress lines. Nil means silent.
	Logger Logger

	// Metrics receives row counters and step durations. Nil means no-op.
	Metrics metrics.Backend
}

// New constructs an Engine over a live database handle. The caller keeps
// ownership of db and closes it once the engine is no longer needed.
func New(db *sql.DB, d dialect.Dialect) *Engine {
	return &Engine{db: &sqlDB{db: db}, dialect: d}
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func (e *Engine) count(name string, delta float64, labels metrics.Labels) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.IncCounter(name, delta, labels)
}

func (e *Engine) observeStep(step string, start time.Time) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.ObserveHistogram("dimload.step.duration_seconds", time.Since(start).Seconds(), metrics.Labels{"step": step})
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
