package tabular

import (
	"context"
	"testing"
)

func mustAddSheet(t *testing.T, store *MemoryStore, title string, header []string) Sheet {
	t.Helper()
	sheet, err := store.AddSheet(context.Background(), title, header)
	if err != nil {
		t.Fatalf("unexpected add sheet error: %v", err)
	}
	return sheet
}

func mustRows(t *testing.T, sheet Sheet) []Row {
	t.Helper()
	rows, err := sheet.Rows(context.Background())
	if err != nil {
		t.Fatalf("unexpected rows error: %v", err)
	}
	return rows
}

func TestMemorySheetDropsWritesToUnknownColumns(t *testing.T) {
	store := NewMemoryStore()
	sheet := mustAddSheet(t, store, "records", []string{"id"})

	if err := sheet.Append(context.Background(), map[string]string{"id": "1", "ghost": "x"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	row := mustRows(t, sheet)[0]
	row.Set("ghost", "y")
	if err := row.Save(context.Background()); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	reread := mustRows(t, sheet)[0]
	if reread.Get("ghost") != "" {
		t.Fatalf("expected unknown column write to be dropped, got %q", reread.Get("ghost"))
	}
	if reread.Get("id") != "1" {
		t.Fatalf("expected id to survive, got %q", reread.Get("id"))
	}
}

func TestMemorySheetHeaderReplaceKeepsStoredCells(t *testing.T) {
	store := NewMemoryStore()
	sheet := mustAddSheet(t, store, "records", []string{"id"})
	if err := sheet.Append(context.Background(), map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	if err := sheet.SetHeader(context.Background(), []string{"id", "extra"}); err != nil {
		t.Fatalf("unexpected set header error: %v", err)
	}

	header, err := sheet.Header(context.Background())
	if err != nil {
		t.Fatalf("unexpected header error: %v", err)
	}
	if len(header) != 2 || header[0] != "id" || header[1] != "extra" {
		t.Fatalf("unexpected header: %v", header)
	}
	if mustRows(t, sheet)[0].Get("id") != "1" {
		t.Fatalf("expected stored cell to survive header replace")
	}
}

func TestMemorySheetDeletePreservesRemainingOrder(t *testing.T) {
	store := NewMemoryStore()
	sheet := mustAddSheet(t, store, "records", []string{"id"})
	for _, id := range []string{"1", "2", "3"} {
		if err := sheet.Append(context.Background(), map[string]string{"id": id}); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}

	if err := mustRows(t, sheet)[1].Delete(context.Background()); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	rows := mustRows(t, sheet)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Get("id") != "1" || rows[1].Get("id") != "3" {
		t.Fatalf("unexpected row order: %q, %q", rows[0].Get("id"), rows[1].Get("id"))
	}
}

func TestMemoryStoreRenameSheetKeepsContent(t *testing.T) {
	store := NewMemoryStore()
	sheet := mustAddSheet(t, store, "old", []string{"id"})
	if err := sheet.Append(context.Background(), map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	if err := store.RenameSheet(context.Background(), "old", "new"); err != nil {
		t.Fatalf("unexpected rename error: %v", err)
	}

	if _, err := store.Sheet(context.Background(), "old"); err == nil {
		t.Fatalf("expected old title to be gone")
	}
	renamed, err := store.Sheet(context.Background(), "new")
	if err != nil {
		t.Fatalf("unexpected sheet error: %v", err)
	}
	if mustRows(t, renamed)[0].Get("id") != "1" {
		t.Fatalf("expected renamed sheet to keep its rows")
	}

	titles, err := store.Titles(context.Background())
	if err != nil {
		t.Fatalf("unexpected titles error: %v", err)
	}
	if len(titles) != 1 || titles[0] != "new" {
		t.Fatalf("unexpected titles: %v", titles)
	}
}

func TestMemoryStoreCountsMutations(t *testing.T) {
	store := NewMemoryStore()
	sheet := mustAddSheet(t, store, "records", []string{"id", "value"})

	if err := sheet.Append(context.Background(), map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	row := mustRows(t, sheet)[0]
	row.Set("value", "x")
	if err := row.Save(context.Background()); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if err := row.Delete(context.Background()); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	stats := store.Stats()
	if stats.Appends != 1 || stats.Saves != 1 || stats.Deletes != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
