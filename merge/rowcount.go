package merge

import "database/sql"

// RowCount is an affected-row count that may be unknown. database/sql drivers
// are allowed to return errors or negative values from RowsAffected; this
// type keeps "zero rows" and "don't know" distinct instead of collapsing both
// to 0.
type RowCount struct {
	n     int64
	known bool
}

// KnownRows returns a definite count.
func KnownRows(n int64) RowCount { return RowCount{n: n, known: true} }

// UnknownRows returns the indeterminate count.
func UnknownRows() RowCount { return RowCount{} }

// Known returns the count and whether it is definite.
func (c RowCount) Known() (int64, bool) { return c.n, c.known }

// Or returns the count when known, otherwise fallback.
func (c RowCount) Or(fallback int64) int64 {
	if c.known {
		return c.n
	}
	return fallback
}

// rowsAffected extracts a RowCount from a statement result. A nil result, a
// RowsAffected error, or a negative value all map to unknown.
func rowsAffected(res sql.Result) RowCount {
	if res == nil {
		return UnknownRows()
	}
	n, err := res.RowsAffected()
	if err != nil || n < 0 {
		return UnknownRows()
	}
	return KnownRows(n)
}
