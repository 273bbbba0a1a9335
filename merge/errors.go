package merge

import "fmt"

// ValidationError reports caller misuse detected before any write: empty
// column lists, tables that do not exist, or columns missing from live
// schemas. Nothing has been modified when one is returned.
type ValidationError struct {
	Op  string
	Msg string
}

func (e *ValidationError) Error() string { return e.Op + ": " + e.Msg }

func validationErrf(op, format string, v ...any) error {
	return &ValidationError{Op: op, Msg: fmt.Sprintf(format, v...)}
}

// DataQualityError reports a failed content check on an existing table. Rows
// carries the offending row or key-group count so callers can alert on it.
type DataQualityError struct {
	Table string
	Check string
	Rows  int64
	Msg   string
}

func (e *DataQualityError) Error() string { return e.Msg }
