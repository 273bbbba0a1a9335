package sqlite

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"dimload/stage"
)

func openTestRepo(t *testing.T) stage.Repository {
	t.Helper()
	repo, err := stage.New(context.Background(), stage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("stage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func countRows(t *testing.T, repo stage.Repository, table string) int {
	t.Helper()
	var n int
	if err := repo.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRepo_EnsureInsertTruncateDrop(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	spec := stage.TableSpec{
		Name: "stg_assurance",
		Columns: []stage.ColumnSpec{
			{Name: "cd", Type: "TEXT"},
			{Name: "name", Type: "TEXT"},
		},
	}
	if err := repo.EnsureTable(ctx, spec); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	// Second call is a no-op, not an error.
	if err := repo.EnsureTable(ctx, spec); err != nil {
		t.Fatalf("EnsureTable again: %v", err)
	}

	n, err := repo.BulkInsert(ctx, "stg_assurance", []string{"cd", "name"}, [][]any{
		{"A1", "Acme"},
		{"B2", nil},
	})
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted=%d, want 2", n)
	}
	if got := countRows(t, repo, "stg_assurance"); got != 2 {
		t.Fatalf("count=%d, want 2", got)
	}

	if err := repo.TruncateTable(ctx, "stg_assurance"); err != nil {
		t.Fatalf("TruncateTable: %v", err)
	}
	if got := countRows(t, repo, "stg_assurance"); got != 0 {
		t.Fatalf("count after truncate=%d, want 0", got)
	}

	if err := repo.DropTable(ctx, "stg_assurance"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	var left int
	err = repo.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'stg_assurance'").Scan(&left)
	if err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	if left != 0 {
		t.Fatalf("table still present after drop")
	}
	// Dropping a missing table stays quiet.
	if err := repo.DropTable(ctx, "stg_assurance"); err != nil {
		t.Fatalf("DropTable when absent: %v", err)
	}
}

func TestRepo_BulkInsertChunksUnderParamCeiling(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	err := repo.EnsureTable(ctx, stage.TableSpec{
		Name:    "stg_keys",
		Columns: []stage.ColumnSpec{{Name: "cd", Type: "TEXT"}},
	})
	if err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	// One column permits 899 rows per statement, so 1000 rows must span
	// two statements and still all arrive.
	rows := make([][]any, 1000)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("k%04d", i)}
	}
	n, err := repo.BulkInsert(ctx, "stg_keys", []string{"cd"}, rows)
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if n != 1000 {
		t.Fatalf("inserted=%d, want 1000", n)
	}
	if got := countRows(t, repo, "stg_keys"); got != 1000 {
		t.Fatalf("count=%d, want 1000", got)
	}
}

func TestRepo_BulkInsertEdges(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	n, err := repo.BulkInsert(ctx, "missing_table", []string{"cd"}, nil)
	if err != nil || n != 0 {
		t.Fatalf("empty insert: n=%d err=%v, want 0 and nil", n, err)
	}

	_, err = repo.BulkInsert(ctx, "missing_table", []string{"cd"}, [][]any{{"A1"}})
	if err == nil || !strings.Contains(err.Error(), "sqlite: insert into missing_table") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
}

func TestRepo_SelectKeyValueNormalizesKeys(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	err := repo.EnsureTable(ctx, stage.TableSpec{
		Name: "dim_assurance",
		Columns: []stage.ColumnSpec{
			{Name: "cd", Type: "TEXT"},
			{Name: "id", Type: "INTEGER"},
		},
	})
	if err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	_, err = repo.BulkInsert(ctx, "dim_assurance", []string{"cd", "id"}, [][]any{
		{"A1", int64(1)},
		{" B2 ", int64(2)},
	})
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	got, err := repo.SelectKeyValue(ctx, "dim_assurance", "cd", "id")
	if err != nil {
		t.Fatalf("SelectKeyValue: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2: %v", len(got), got)
	}
	if got["A1"] != 1 {
		t.Fatalf("A1=%d, want 1", got["A1"])
	}
	if got["B2"] != 2 {
		t.Fatalf("B2=%d, want 2 (key should arrive trimmed)", got["B2"])
	}
}
