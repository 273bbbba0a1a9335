// Package dialect defines the SQL dialect surface used by the merge and stage
// packages, plus the table-name parsing and identifier rules shared by every
// SQL generation path in this module.
//
// Identifier safety model: raw names are validated against a conservative
// unquoted-identifier rule, then always re-emitted through the dialect's
// quoting routine. No caller-supplied string is ever interpolated into SQL
// unvalidated.
package dialect

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// TableName is a parsed, validated table reference.
//
// Schema may be empty, meaning the connection's default schema (or no schema
// at all for backends without schemas). TableName values are cheap and
// short-lived: operations parse their inputs on entry and never persist the
// result across calls.
type TableName struct {
	Schema string
	Table  string
}

// String returns the dotted display form, e.g. "dbo.customers" or "customers".
// It is meant for logs and error messages, not for SQL; use Dialect.QuoteTable
// when building statements.
func (t TableName) String() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// InvalidIdentifierError reports a table or column name that failed
// validation. Input is the offending caller-supplied string.
type InvalidIdentifierError struct {
	Input  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Input, e.Reason)
}

var (
	identPattern       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	bracketedPair      = regexp.MustCompile(`^\[([^\[\]]+)\]\.\[([^\[\]]+)\]$`)
	bracketedSingle    = regexp.MustCompile(`^\[([^\[\]]+)\]$`)
	tableNameFormatMsg = "not in the format [schema].[table] or [table]"
)

// ValidIdent reports whether s is acceptable as an unquoted SQL identifier:
// a leading letter or underscore followed by letters, digits or underscores.
// Everything the module emits is quoted anyway; this check exists so that a
// malformed or hostile name is rejected instead of smuggled through quoting.
func ValidIdent(s string) bool {
	return identPattern.MatchString(s)
}

// ParseTableName parses a caller-supplied table reference.
//
// Accepted forms:
//   - "[schema].[table]"
//   - "[table]"
//   - "table" (a single bare word, no brackets, no dots)
//
// Anything else, including "schema.table" without brackets and the empty
// string, returns an *InvalidIdentifierError naming the offending input.
// The parts inside brackets must still satisfy ValidIdent once stripped.
func ParseTableName(s string) (TableName, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return TableName{}, &InvalidIdentifierError{Input: s, Reason: "empty table name"}
	}

	if m := bracketedPair.FindStringSubmatch(raw); m != nil {
		return newTableName(s, m[1], m[2])
	}
	if m := bracketedSingle.FindStringSubmatch(raw); m != nil {
		return newTableName(s, "", m[1])
	}
	if !strings.ContainsAny(raw, "[].") {
		return newTableName(s, "", raw)
	}
	return TableName{}, &InvalidIdentifierError{Input: s, Reason: tableNameFormatMsg}
}

// newTableName validates the stripped parts and assembles the value.
func newTableName(input, schema, table string) (TableName, error) {
	if schema != "" && !ValidIdent(schema) {
		return TableName{}, &InvalidIdentifierError{
			Input:  input,
			Reason: fmt.Sprintf("schema %q is not a valid identifier", schema),
		}
	}
	if !ValidIdent(table) {
		return TableName{}, &InvalidIdentifierError{
			Input:  input,
			Reason: fmt.Sprintf("table %q is not a valid identifier", table),
		}
	}
	return TableName{Schema: schema, Table: table}, nil
}

// ValidColumns validates every name in cols, returning the first offender as
// an *InvalidIdentifierError. Operations call this once on entry for each
// caller-supplied column set.
func ValidColumns(cols []string) error {
	for _, c := range cols {
		if !ValidIdent(c) {
			return &InvalidIdentifierError{Input: c, Reason: "column is not a valid identifier"}
		}
	}
	return nil
}

// Dialect is the SQL surface a backend must provide for the merge engine.
//
// Implementations are stateless values. All methods that accept identifiers
// expect them pre-validated (ParseTableName / ValidIdent) and quote them on
// emission.
type Dialect interface {
	// Name is the registry key, e.g. "tsql", "postgres", "sqlite".
	Name() string

	// QuoteIdent quotes a single identifier for this dialect.
	QuoteIdent(name string) string

	// QuoteTable quotes a parsed table name, including its schema when set.
	QuoteTable(t TableName) string

	// Placeholder renders the n-th (1-based) statement parameter.
	Placeholder(n int) string

	// MaxParams is the backend's statement parameter ceiling. Bulk paths
	// chunk their statements to stay below it.
	MaxParams() int

	// IntegerType is the column type used when adding a surrogate key column.
	IntegerType() string

	// RowNumberExpr renders a windowed ROW_NUMBER() expression. With no
	// orderBy columns the numbering order is arbitrary but each row gets a
	// unique number; callers pin orderBy when they need reproducible
	// assignment.
	RowNumberExpr(orderBy []string) string

	// TableExistsSQL returns a query yielding a single row with a count > 0
	// when the table exists.
	TableExistsSQL(t TableName) (string, []any)

	// TableColumnsSQL returns a query yielding the table's column names in
	// ordinal order, one per row.
	TableColumnsSQL(t TableName) (string, []any)

	// AddColumnSQL returns DDL adding a nullable column of the given type.
	AddColumnSQL(t TableName, column, columnType string) string

	// CloneTableSQL returns DDL creating target with source's column
	// structure and zero rows.
	CloneTableSQL(source, target TableName) string

	// DropTableSQL returns DDL dropping the table.
	DropTableSQL(t TableName) string

	// UpdateFromJoinSQL returns a single UPDATE statement that sets columns
	// on target from the source rows matched via equality on every joinKey.
	// A non-empty surrogateKey adds a "target.surrogateKey IS NOT NULL"
	// guard to the match predicate.
	UpdateFromJoinSQL(target, source TableName, joinKeys []string, surrogateKey string, columns []string) string
}

// ---- dialect registry (mirrors the stage backend factory registry) ----

var (
	regMu    sync.RWMutex
	registry = map[string]Dialect{}
)

// Register registers a dialect under its Name.
//
// Call Register from an init() function in the dialect package. Registering
// an empty name, a nil dialect, or the same name twice panics so that a
// wiring mistake fails at startup instead of at first use.
func Register(d Dialect) {
	regMu.Lock()
	defer regMu.Unlock()

	if d == nil {
		panic("dialect: Register called with nil dialect")
	}
	if d.Name() == "" {
		panic("dialect: Register called with empty name")
	}
	if _, exists := registry[d.Name()]; exists {
		panic(fmt.Sprintf("dialect: already registered for name=%q", d.Name()))
	}
	registry[d.Name()] = d
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	if name == "" {
		return nil, fmt.Errorf("dialect: missing name")
	}

	regMu.RLock()
	d := registry[name]
	regMu.RUnlock()

	if d == nil {
		return nil, fmt.Errorf("unsupported dialect=%s", name)
	}
	return d, nil
}

// MustLookup is Lookup that panics on error, for wiring code paths where the
// dialect name is a compile-time constant.
func MustLookup(name string) Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}
