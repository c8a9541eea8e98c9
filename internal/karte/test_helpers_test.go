package karte

import (
	"context"
	"testing"

	"github.com/ptalab/karte-api/internal/tabular"
)

func newTestRepository(t *testing.T) (*Repository, *tabular.MemoryStore) {
	t.Helper()
	store := tabular.NewMemoryStore()
	repository, err := NewRepository(RepositoryConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	return repository, store
}

func mustSeedSheet(t *testing.T, store *tabular.MemoryStore, title string, header []string, rows ...map[string]string) tabular.Sheet {
	t.Helper()
	sheet, err := store.AddSheet(context.Background(), title, header)
	if err != nil {
		t.Fatalf("unexpected add sheet error: %v", err)
	}
	for _, cells := range rows {
		if err := sheet.Append(context.Background(), cells); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}
	return sheet
}

func mustSeedStudent(t *testing.T, store *tabular.MemoryStore, id string) {
	t.Helper()
	sheet, err := store.Sheet(context.Background(), CollectionStudents)
	if err != nil {
		sheet = mustSeedSheet(t, store, CollectionStudents, ColumnNames(CollectionStudents))
	}
	if err := sheet.Append(context.Background(), map[string]string{"id": id}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
}

func mustParsePatch(t *testing.T, raw string) StudentPatch {
	t.Helper()
	patch, err := ParseStudentPatch([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected patch parse error: %v", err)
	}
	return patch
}

func sheetCells(t *testing.T, store *tabular.MemoryStore, title string) []map[string]string {
	t.Helper()
	sheet, err := store.Sheet(context.Background(), title)
	if err != nil {
		t.Fatalf("unexpected sheet error: %v", err)
	}
	header, err := sheet.Header(context.Background())
	if err != nil {
		t.Fatalf("unexpected header error: %v", err)
	}
	rows, err := sheet.Rows(context.Background())
	if err != nil {
		t.Fatalf("unexpected rows error: %v", err)
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		cells := map[string]string{}
		for _, column := range header {
			cells[column] = row.Get(column)
		}
		out = append(out, cells)
	}
	return out
}

func sheetHeader(t *testing.T, store *tabular.MemoryStore, title string) []string {
	t.Helper()
	sheet, err := store.Sheet(context.Background(), title)
	if err != nil {
		t.Fatalf("unexpected sheet error: %v", err)
	}
	header, err := sheet.Header(context.Background())
	if err != nil {
		t.Fatalf("unexpected header error: %v", err)
	}
	return header
}

func strPtr(value string) *string {
	return &value
}
