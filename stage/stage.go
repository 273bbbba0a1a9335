// Package stage loads extract data into warehouse staging tables and is the
// usual producer for the merge package: stage a file, then merge the staging
// table into its dimension.
//
// Backends register themselves under a kind ("tsql", "postgres", "sqlite")
// from an init function; importing stage/all pulls in every bundled backend.
// A Repository wraps one live database handle, exposed via DB so the same
// pool can drive a merge.Engine afterwards. Credential and token acquisition
// stay with the caller; the DSN is passed through untouched.
package stage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// Config selects and configures a staging backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic staging-table store.
//
// Table arguments accept the same forms merge does: "[schema].[table]",
// "[table]" or a bare word. Implementations quote every identifier they emit.
//
// Errors:
//   - Malformed table or column names return *dialect.InvalidIdentifierError.
//   - Database errors are returned wrapped; the driver error stays reachable
//     via errors.As.
//
// Concurrency:
//   - Implementations are safe for concurrent use; they hold no per-call
//     state beyond the underlying pool.
type Repository interface {
	// Close releases the underlying pool. Treat as "call once".
	Close()

	// DB exposes the backing handle so a merge.Engine can share it.
	DB() *sql.DB

	// EnsureTable creates the staging table when absent. Idempotent; an
	// existing table is left alone whatever its shape.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// TruncateTable removes all rows, keeping the table.
	TruncateTable(ctx context.Context, table string) error

	// DropTable removes the table when present. Idempotent.
	DropTable(ctx context.Context, table string) error

	// BulkInsert appends rows, chunked under the backend's statement
	// parameter ceiling. Every row must match len(columns). Returns the
	// number of rows the driver reports inserted.
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// SelectKeyValue reads the whole table as normalized key -> integer id,
	// the form dimension caches consume.
	SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error)
}

// Logger receives human-readable progress lines. A nil Logger discards them.
type Logger interface {
	Printf(format string, v ...any)
}

type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend factory under a kind.
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("stage: Register called with empty kind")
	}
	if f == nil {
		panic("stage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("stage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
//
// Concurrency:
//   - Safe for concurrent use with Register; New takes a read lock while
//     selecting the factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("stage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported stage kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// NormalizeKey converts a dimension key value to a canonical string form,
// suitable for in-memory cache keys (e.g. "Germany" or "8429529").
//
// Backends must not assume a particular underlying type for keys; this helper
// keeps lookup caches consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// RowsPerStatement derives how many rows fit in one INSERT given a backend's
// statement parameter ceiling, leaving headroom for statement overhead.
func RowsPerStatement(maxParams, columns int) int {
	if columns < 1 {
		return 1
	}
	n := (maxParams - 100) / columns
	if n < 1 {
		return 1
	}
	return n
}
