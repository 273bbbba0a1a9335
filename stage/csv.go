package stage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"dimload/metrics"
)

// CSVOptions tune LoadCSV. The zero value reads comma-separated UTF-8 with a
// header row.
type CSVOptions struct {
	// Comma is the field separator. 0 means ','.
	Comma rune

	// NoHeader treats the first row as data; fields map to the target
	// columns positionally.
	NoHeader bool

	// HeaderMap renames raw header fields to target column names before the
	// default normalization (lowercase, spaces to underscores) applies.
	HeaderMap map[string]string

	// LazyQuotes passes through to encoding/csv for half-broken extracts.
	LazyQuotes bool

	// FieldsPerRecord passes through to encoding/csv. 0 allows variable
	// field counts.
	FieldsPerRecord int

	// Encoding names the source byte encoding: "", "utf-8", "windows-1252"
	// or "latin-1". Warehouse extracts are frequently not UTF-8.
	Encoding string

	// BatchSize caps rows buffered per BulkInsert call. 0 means 5000.
	BatchSize int

	// BatchColumn, when set, stamps every staged row with BatchID in that
	// column so one load's rows can be told apart from another's.
	BatchColumn string

	// BatchID is the stamp value; empty means the load's op id.
	BatchID string

	// OnError is called for each unparseable data row, which is then
	// skipped. nil skips silently. A header read error fails the load
	// instead.
	OnError func(line int, err error)
}

// Loader streams extract files into staging tables. Logger and Metrics are
// optional; nil values discard.
type Loader struct {
	Repo    Repository
	Logger  Logger
	Metrics metrics.Backend
}

// LoadCSV streams src into table, aligned to columns. Header fields are
// matched to columns case-insensitively after normalization; target columns
// absent from the header load as NULL. Empty fields become NULL, values are
// edge-trimmed. Rows are buffered and handed to Repo.BulkInsert in batches.
//
// Returns the number of rows staged. Rows rejected by the csv reader go to
// opts.OnError and do not fail the load; reader, decode and database errors
// do.
func (l *Loader) LoadCSV(ctx context.Context, table string, columns []string, src io.Reader, opts CSVOptions) (int64, error) {
	const op = "load_csv"
	logf := l.logger()
	start := time.Now()

	if l.Repo == nil {
		return 0, fmt.Errorf("stage: Loader.Repo is required")
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("stage: columns must be a non-empty list")
	}

	opID := uuid.NewString()
	batchID := opts.BatchID
	if batchID == "" {
		batchID = opID
	}

	reader, err := decodingReader(src, opts.Encoding)
	if err != nil {
		return 0, err
	}

	cr := csv.NewReader(reader)
	cr.ReuseRecord = true
	cr.LazyQuotes = opts.LazyQuotes
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	if opts.FieldsPerRecord != 0 {
		cr.FieldsPerRecord = opts.FieldsPerRecord
	} else {
		cr.FieldsPerRecord = -1
	}

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}

	if opts.NoHeader {
		for i := range columns {
			colIx[i] = i
		}
	} else {
		hdr, err := readRec()
		if err != nil {
			return 0, fmt.Errorf("%s %s: read header: %w", op, table, err)
		}
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			if hasEdgeSpace(h) {
				h = strings.TrimSpace(h)
			}
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			if mapped, ok := opts.HeaderMap[h]; ok {
				h = mapped
			} else {
				h = strings.ReplaceAll(h, " ", "_")
			}
			srcToIdx[strings.ToLower(h)] = i
		}
		for t, target := range columns {
			if si, ok := srcToIdx[strings.ToLower(target)]; ok {
				colIx[t] = si
			}
		}
	}

	insertCols := columns
	if opts.BatchColumn != "" {
		insertCols = append(append([]string(nil), columns...), opts.BatchColumn)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}

	var total int64
	buf := make([][]any, 0, batchSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := l.Repo.BulkInsert(ctx, table, insertCols, buf)
		if err != nil {
			logf("stage=%s table=%s op_id=%s status=error err=%v", op, table, opID, err)
			return err
		}
		total += n
		buf = buf[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			break
		}
		if err != nil {
			if opts.OnError != nil {
				opts.OnError(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := make([]any, len(insertCols))
		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				continue
			}
			v := rec[si]
			if hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[t] = v
			}
		}
		if opts.BatchColumn != "" {
			row[len(row)-1] = batchID
		}

		buf = append(buf, row)
		if len(buf) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	if l.Metrics != nil {
		l.Metrics.IncCounter("dimload.load.rows", float64(total), metrics.Labels{"kind": "staged"})
		l.Metrics.ObserveHistogram("dimload.step.duration_seconds", time.Since(start).Seconds(), metrics.Labels{"step": op})
	}
	logf("stage=%s table=%s op_id=%s ok rows=%d duration=%s", op, table, opID, total, time.Since(start).Truncate(time.Millisecond))
	return total, nil
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		return func(string, ...any) {}
	}
	return l.Logger.Printf
}

// decodingReader wraps src with a byte decoder for the named encoding.
func decodingReader(src io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return src, nil
	case "windows-1252", "cp1252":
		return transform.NewReader(src, charmap.Windows1252.NewDecoder()), nil
	case "latin-1", "iso-8859-1":
		return transform.NewReader(src, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("stage: unsupported encoding %q", encoding)
	}
}

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace, so the
// hot path can skip TrimSpace allocations on already-clean fields.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	isSpace := func(b byte) bool {
		return b == ' ' || b == '\t' || b == '\r' || b == '\n'
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}
