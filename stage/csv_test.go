package stage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"dimload/metrics"
)

type bulkCall struct {
	table   string
	columns []string
	rows    [][]any
}

// captureRepo records BulkInsert calls and reports every row as inserted.
type captureRepo struct {
	fakeRepo

	calls     []bulkCall
	insertErr error
}

func (c *captureRepo) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if c.insertErr != nil {
		return 0, c.insertErr
	}
	// Copy; the loader reuses its buffer between flushes.
	cp := make([][]any, len(rows))
	for i, r := range rows {
		cp[i] = append([]any(nil), r...)
	}
	c.calls = append(c.calls, bulkCall{
		table:   table,
		columns: append([]string(nil), columns...),
		rows:    cp,
	})
	return int64(len(rows)), nil
}

func (c *captureRepo) allRows() [][]any {
	var out [][]any
	for _, call := range c.calls {
		out = append(out, call.rows...)
	}
	return out
}

type logRecorder struct {
	lines []string
}

func (l *logRecorder) Printf(format string, v ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *logRecorder) contains(substr string) bool {
	for _, ln := range l.lines {
		if strings.Contains(ln, substr) {
			return true
		}
	}
	return false
}

type fakeMetrics struct {
	counters   []string
	histograms []string
}

func (m *fakeMetrics) IncCounter(name string, delta float64, labels metrics.Labels) {
	m.counters = append(m.counters, fmt.Sprintf("%s=%g kind=%s", name, delta, labels["kind"]))
}

func (m *fakeMetrics) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	m.histograms = append(m.histograms, fmt.Sprintf("%s step=%s", name, labels["step"]))
}

func (m *fakeMetrics) Flush() error { return nil }
func (m *fakeMetrics) Close() error { return nil }

func TestLoadCSV_MapsHeaderToColumns(t *testing.T) {
	// Header exercises the whole normalization path at once: a UTF-8 BOM on
	// the first field, edge spaces, spaces inside names, a HeaderMap rename
	// and case-insensitive matching against the target columns.
	input := "\uFEFFAssurance Cd, Assurance Name ,RGN\n" +
		"A1, Acme Co ,West,overflow\n" +
		"B2,,East\n"

	repo := &captureRepo{}
	log := &logRecorder{}
	l := &Loader{Repo: repo, Logger: log}

	columns := []string{"assurance_cd", "assurance_name", "region", "notes"}
	n, err := l.LoadCSV(context.Background(), "[stg].[assurance]", columns, strings.NewReader(input), CSVOptions{
		HeaderMap: map[string]string{"RGN": "region"},
	})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if n != 2 {
		t.Fatalf("staged=%d, want 2", n)
	}
	if len(repo.calls) != 1 {
		t.Fatalf("expected 1 BulkInsert call, got %d", len(repo.calls))
	}
	if repo.calls[0].table != "[stg].[assurance]" {
		t.Fatalf("table=%q", repo.calls[0].table)
	}
	if !reflect.DeepEqual(repo.calls[0].columns, columns) {
		t.Fatalf("columns=%v, want %v", repo.calls[0].columns, columns)
	}

	// "notes" never appears in the header, so it stages as NULL; empty
	// fields become NULL; values are edge-trimmed; the overflow field in
	// row one has no target and is dropped.
	want := [][]any{
		{"A1", "Acme Co", "West", nil},
		{"B2", nil, "East", nil},
	}
	if !reflect.DeepEqual(repo.calls[0].rows, want) {
		t.Fatalf("rows=%v, want %v", repo.calls[0].rows, want)
	}

	if !log.contains("stage=load_csv table=[stg].[assurance]") || !log.contains("ok rows=2") {
		t.Fatalf("missing success log line, got %v", log.lines)
	}
}

func TestLoadCSV_NoHeaderMapsPositionally(t *testing.T) {
	input := "A1,Acme\nB2\n"

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	n, err := l.LoadCSV(context.Background(), "stg_assurance", []string{"cd", "name"}, strings.NewReader(input), CSVOptions{
		NoHeader: true,
	})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if n != 2 {
		t.Fatalf("staged=%d, want 2", n)
	}

	// The short second record leaves the missing trailing field NULL.
	want := [][]any{
		{"A1", "Acme"},
		{"B2", nil},
	}
	if !reflect.DeepEqual(repo.allRows(), want) {
		t.Fatalf("rows=%v, want %v", repo.allRows(), want)
	}
}

func TestLoadCSV_StampsBatchColumn(t *testing.T) {
	input := "cd\nA1\nB2\n"

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	_, err := l.LoadCSV(context.Background(), "stg_assurance", []string{"cd"}, strings.NewReader(input), CSVOptions{
		BatchColumn: "load_id",
		BatchID:     "batch-7",
	})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	wantCols := []string{"cd", "load_id"}
	if !reflect.DeepEqual(repo.calls[0].columns, wantCols) {
		t.Fatalf("columns=%v, want %v", repo.calls[0].columns, wantCols)
	}
	want := [][]any{
		{"A1", "batch-7"},
		{"B2", "batch-7"},
	}
	if !reflect.DeepEqual(repo.calls[0].rows, want) {
		t.Fatalf("rows=%v, want %v", repo.calls[0].rows, want)
	}
}

func TestLoadCSV_DefaultBatchIDIsOpID(t *testing.T) {
	input := "cd\nA1\nB2\n"

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	_, err := l.LoadCSV(context.Background(), "stg_assurance", []string{"cd"}, strings.NewReader(input), CSVOptions{
		BatchColumn: "load_id",
	})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	rows := repo.allRows()
	stamp, ok := rows[0][1].(string)
	if !ok || len(stamp) != 36 {
		t.Fatalf("expected a UUID stamp, got %v", rows[0][1])
	}
	if rows[1][1] != rows[0][1] {
		t.Fatalf("stamp differs between rows of one load: %v vs %v", rows[0][1], rows[1][1])
	}
}

func TestLoadCSV_FlushesByBatchSize(t *testing.T) {
	input := "n\n1\n2\n3\n4\n5\n"

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	n, err := l.LoadCSV(context.Background(), "stg_n", []string{"n"}, strings.NewReader(input), CSVOptions{
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if n != 5 {
		t.Fatalf("staged=%d, want 5", n)
	}

	var sizes []int
	for _, c := range repo.calls {
		sizes = append(sizes, len(c.rows))
	}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("batch sizes=%v, want [2 2 1]", sizes)
	}
}

func TestLoadCSV_DecodesWindows1252(t *testing.T) {
	// 0xE9 is é in windows-1252 and an invalid byte in UTF-8.
	input := "name\nCaf\xe9\n"

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	_, err := l.LoadCSV(context.Background(), "stg_names", []string{"name"}, strings.NewReader(input), CSVOptions{
		Encoding: "windows-1252",
	})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if got := repo.allRows()[0][0]; got != "Café" {
		t.Fatalf("name=%q, want %q", got, "Café")
	}
}

func TestLoadCSV_RejectsUnknownEncoding(t *testing.T) {
	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	_, err := l.LoadCSV(context.Background(), "stg_x", []string{"a"}, strings.NewReader("a\n1\n"), CSVOptions{
		Encoding: "utf-16",
	})
	if err == nil || !strings.Contains(err.Error(), `unsupported encoding "utf-16"`) {
		t.Fatalf("expected unsupported encoding error, got %v", err)
	}
	if len(repo.calls) != 0 {
		t.Fatalf("expected no inserts, got %d", len(repo.calls))
	}
}

func TestLoadCSV_SkipsBadRowsViaOnError(t *testing.T) {
	input := "cd,name\n" +
		"A1,ok\n" +
		"B2,br\"oken\n" +
		"C3,fine\n"

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	var badLines []int
	n, err := l.LoadCSV(context.Background(), "stg_assurance", []string{"cd", "name"}, strings.NewReader(input), CSVOptions{
		OnError: func(line int, err error) {
			if !strings.Contains(err.Error(), "csv read:") {
				t.Fatalf("unexpected callback error: %v", err)
			}
			badLines = append(badLines, line)
		},
	})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if n != 2 {
		t.Fatalf("staged=%d, want 2", n)
	}
	if !reflect.DeepEqual(badLines, []int{3}) {
		t.Fatalf("bad lines=%v, want [3]", badLines)
	}

	want := [][]any{
		{"A1", "ok"},
		{"C3", "fine"},
	}
	if !reflect.DeepEqual(repo.allRows(), want) {
		t.Fatalf("rows=%v, want %v", repo.allRows(), want)
	}
}

func TestLoadCSV_HeaderReadErrorFailsLoad(t *testing.T) {
	input := "cd,na\"me\nA1,x\n"

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	_, err := l.LoadCSV(context.Background(), "stg_assurance", []string{"cd"}, strings.NewReader(input), CSVOptions{})
	if err == nil || !strings.Contains(err.Error(), "read header") {
		t.Fatalf("expected header read error, got %v", err)
	}
	if len(repo.calls) != 0 {
		t.Fatalf("expected no inserts, got %d", len(repo.calls))
	}
}

func TestLoadCSV_InsertErrorStopsLoad(t *testing.T) {
	repo := &captureRepo{insertErr: fmt.Errorf("deadlock victim")}
	log := &logRecorder{}
	l := &Loader{Repo: repo, Logger: log}

	_, err := l.LoadCSV(context.Background(), "stg_x", []string{"a"}, strings.NewReader("a\n1\n"), CSVOptions{})
	if err == nil || !strings.Contains(err.Error(), "deadlock victim") {
		t.Fatalf("expected insert error, got %v", err)
	}
	if !log.contains("status=error") {
		t.Fatalf("missing error log line, got %v", log.lines)
	}
}

func TestLoadCSV_RequiresRepoAndColumns(t *testing.T) {
	l := &Loader{}
	if _, err := l.LoadCSV(context.Background(), "t", []string{"a"}, strings.NewReader(""), CSVOptions{}); err == nil {
		t.Fatalf("expected error for nil repo")
	}

	l = &Loader{Repo: &captureRepo{}}
	if _, err := l.LoadCSV(context.Background(), "t", nil, strings.NewReader(""), CSVOptions{}); err == nil {
		t.Fatalf("expected error for empty columns")
	}
}

func TestLoadCSV_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &captureRepo{}
	l := &Loader{Repo: repo}

	n, err := l.LoadCSV(ctx, "stg_x", []string{"a"}, strings.NewReader("a\n1\n2\n"), CSVOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if n != 0 {
		t.Fatalf("staged=%d, want 0", n)
	}
	if len(repo.calls) != 0 {
		t.Fatalf("expected no inserts, got %d", len(repo.calls))
	}
}

func TestLoadCSV_EmitsMetrics(t *testing.T) {
	repo := &captureRepo{}
	m := &fakeMetrics{}
	l := &Loader{Repo: repo, Metrics: m}

	_, err := l.LoadCSV(context.Background(), "stg_x", []string{"a"}, strings.NewReader("a\n1\n2\n3\n"), CSVOptions{})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	if want := []string{"dimload.load.rows=3 kind=staged"}; !reflect.DeepEqual(m.counters, want) {
		t.Fatalf("counters=%v, want %v", m.counters, want)
	}
	if len(m.histograms) != 1 || !strings.Contains(m.histograms[0], "dimload.step.duration_seconds step=load_csv") {
		t.Fatalf("histograms=%v", m.histograms)
	}
}
