package merge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Scripted seam fakes shared by the unit tests in this package. Replies are
// consumed in call order; an unscripted call fails loudly instead of
// returning a zero value, so a test that drifts from the engine's statement
// sequence reports itself.

type fakeResult struct {
	n   int64
	err error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, r.err }

// fakeRow scripts a single-column Scan. val may be int64 or nil (NULL).
type fakeRow struct {
	val any
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return fmt.Errorf("fakeRow: expected 1 dest, got %d", len(dest))
	}
	switch d := dest[0].(type) {
	case *int64:
		if v, ok := r.val.(int64); ok {
			*d = v
		} else {
			*d = 0
		}
	case *sql.NullInt64:
		if v, ok := r.val.(int64); ok {
			*d = sql.NullInt64{Int64: v, Valid: true}
		} else {
			*d = sql.NullInt64{}
		}
	default:
		return fmt.Errorf("fakeRow: unsupported dest %T", dest[0])
	}
	return nil
}

// fakeRows iterates scripted rows for QueryContext results.
type fakeRows struct {
	rows    [][]any
	i       int
	iterErr error
	closed  bool
}

func (r *fakeRows) Next() bool {
	if r.i < len(r.rows) {
		r.i++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("fakeRows: expected %d dests, got %d", len(row), len(dest))
	}
	for j, d := range dest {
		switch p := d.(type) {
		case *string:
			s, ok := row[j].(string)
			if !ok {
				return fmt.Errorf("fakeRows: column %d is %T, not string", j, row[j])
			}
			*p = s
		case *any:
			*p = row[j]
		default:
			return fmt.Errorf("fakeRows: unsupported dest %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Err() error   { return r.iterErr }
func (r *fakeRows) Close() error { r.closed = true; return nil }

// colRows builds a one-string-column result, as TableColumnsSQL yields.
func colRows(names ...string) *fakeRows {
	rows := make([][]any, 0, len(names))
	for _, n := range names {
		rows = append(rows, []any{n})
	}
	return &fakeRows{rows: rows}
}

type execReply struct {
	res sql.Result
	err error
}

type queryReply struct {
	rows *fakeRows
	err  error
}

// scriptedCalls records statements and pops scripted replies in order.
type scriptedCalls struct {
	rowSQL     []string
	rowReplies []fakeRow

	querySQL     []string
	queryReplies []queryReply

	execSQL     []string
	execArgs    [][]any
	execReplies []execReply
}

func (s *scriptedCalls) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	s.execSQL = append(s.execSQL, query)
	s.execArgs = append(s.execArgs, append([]any(nil), args...))
	if len(s.execReplies) == 0 {
		return nil, fmt.Errorf("unscripted ExecContext: %s", query)
	}
	r := s.execReplies[0]
	s.execReplies = s.execReplies[1:]
	return r.res, r.err
}

func (s *scriptedCalls) QueryContext(_ context.Context, query string, args ...any) (rowIter, error) {
	s.querySQL = append(s.querySQL, query)
	if len(s.queryReplies) == 0 {
		return nil, fmt.Errorf("unscripted QueryContext: %s", query)
	}
	r := s.queryReplies[0]
	s.queryReplies = s.queryReplies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.rows, nil
}

func (s *scriptedCalls) QueryRowContext(_ context.Context, query string, args ...any) rowScanner {
	s.rowSQL = append(s.rowSQL, query)
	if len(s.rowReplies) == 0 {
		return fakeRow{err: fmt.Errorf("unscripted QueryRowContext: %s", query)}
	}
	r := s.rowReplies[0]
	s.rowReplies = s.rowReplies[1:]
	return r
}

// fakeConn implements dbConn.
type fakeConn struct {
	scriptedCalls
	tx         *fakeTx
	beginErr   error
	beginCalls int
}

func (c *fakeConn) BeginTx(context.Context, *sql.TxOptions) (txConn, error) {
	c.beginCalls++
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	if c.tx == nil {
		return nil, fmt.Errorf("unscripted BeginTx")
	}
	return c.tx, nil
}

// fakeTx implements txConn.
type fakeTx struct {
	scriptedCalls
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit() error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// logRecorder captures engine log lines for assertions.
type logRecorder struct {
	lines []string
}

func (l *logRecorder) Printf(format string, v ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *logRecorder) contains(substr string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

var (
	_ dbConn = (*fakeConn)(nil)
	_ txConn = (*fakeTx)(nil)
)
