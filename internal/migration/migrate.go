// Package migration holds the one-shot ETL that decomposes the legacy
// "one JSON blob per student" sheet into the three normalized collections.
// It runs from the command line, never from the live request path.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ptalab/karte-api/internal/karte"
	"github.com/ptalab/karte-api/internal/tabular"
	"go.uber.org/zap"
)

const legacySheetTitle = "students"

var (
	errMissingStore      = errors.New("migration: tabular store is required")
	errMissingIDProvider = errors.New("migration: id provider is required")
	noOpLogger           = zap.NewNop()
)

// Config carries the dependencies and mode for one migration run.
type Config struct {
	Store      tabular.Store
	IDProvider karte.IDProvider
	Logger     *zap.Logger
	Clock      func() time.Time

	// SourceTitle names a backup tab to re-run the migration from. When it
	// is empty the live legacy tab is used and renamed to a timestamped
	// backup after it has been read; a named source is never renamed, so a
	// run against stale or partial data can be repeated.
	SourceTitle string
}

// Report summarizes what one run projected and wrote.
type Report struct {
	Students      int
	LessonRecords int
	MemoEntries   int
	SkippedRows   int
	BackupTitle   string
}

// Tool is the legacy migration tool.
type Tool struct {
	store      tabular.Store
	idProvider karte.IDProvider
	logger     *zap.Logger
	clock      func() time.Time
	source     string
}

// NewTool validates the configuration and returns a Tool.
func NewTool(cfg Config) (*Tool, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Tool{
		store:      cfg.Store,
		idProvider: cfg.IDProvider,
		logger:     logger,
		clock:      clock,
		source:     cfg.SourceTitle,
	}, nil
}

// Run reads every legacy blob row, projects the three collections, backs up
// the legacy tab by renaming it, and bulk-writes the destination tabs.
// Rows whose blob fails to parse are logged and skipped, never fatal.
func (t *Tool) Run(ctx context.Context) (Report, error) {
	sourceTitle := t.source
	renameSource := false
	if sourceTitle == "" {
		sourceTitle = legacySheetTitle
		renameSource = true
	}

	source, err := t.store.Sheet(ctx, sourceTitle)
	if err != nil {
		return Report{}, fmt.Errorf("migration: open source tab %q: %w", sourceTitle, err)
	}
	rows, err := source.Rows(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("migration: read source tab %q: %w", sourceTitle, err)
	}
	t.logger.Info("legacy rows loaded",
		zap.String("source", sourceTitle),
		zap.Int("rows", len(rows)))

	report := Report{}
	var studentCells []map[string]string
	var lessonCells []map[string]string
	var memoCells []map[string]string

	for _, row := range rows {
		blob := row.Get("data")
		if blob == "" {
			report.SkippedRows++
			continue
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(blob), &data); err != nil {
			t.logger.Warn("legacy blob skipped",
				zap.String("student_id", row.Get("id")),
				zap.Error(err))
			report.SkippedRows++
			continue
		}

		studentID := row.Get("id")
		if studentID == "" {
			studentID, _ = data["id"].(string)
		}

		studentCells = append(studentCells, projectStudent(studentID, data))

		lessons, err := t.projectLessonMemos(studentID, data["lessonMemos"])
		if err != nil {
			return report, err
		}
		lessonCells = append(lessonCells, lessons...)

		memos, err := t.projectMemoHistory(studentID, data["memoHistory"])
		if err != nil {
			return report, err
		}
		memoCells = append(memoCells, memos...)
	}

	report.Students = len(studentCells)
	report.LessonRecords = len(lessonCells)
	report.MemoEntries = len(memoCells)

	if renameSource {
		// The backup is the only rollback path; the legacy tab is renamed,
		// never deleted.
		backupTitle := fmt.Sprintf("backup_json_%d", t.clock().UnixMilli())
		if err := t.store.RenameSheet(ctx, sourceTitle, backupTitle); err != nil {
			return report, fmt.Errorf("migration: back up legacy tab: %w", err)
		}
		report.BackupTitle = backupTitle
		t.logger.Info("legacy tab renamed", zap.String("backup", backupTitle))
	}

	destinations := []struct {
		collection string
		cells      []map[string]string
	}{
		{collection: karte.CollectionStudents, cells: studentCells},
		{collection: karte.CollectionLessonRecords, cells: lessonCells},
		{collection: karte.CollectionMemoHistory, cells: memoCells},
	}
	for _, destination := range destinations {
		if err := t.writeCollection(ctx, destination.collection, destination.cells); err != nil {
			return report, err
		}
	}

	t.logger.Info("migration complete",
		zap.Int("students", report.Students),
		zap.Int("lesson_records", report.LessonRecords),
		zap.Int("memo_entries", report.MemoEntries),
		zap.Int("skipped_rows", report.SkippedRows))
	return report, nil
}

// projectStudent flattens the declared student columns out of a legacy blob.
// Complex sub-values that were never normalized are stored as JSON text, a
// lossy-safe fallback that keeps the data readable from the backup.
func projectStudent(studentID string, data map[string]any) map[string]string {
	cells := map[string]string{}
	for _, column := range karte.Columns(karte.CollectionStudents) {
		cells[column.Name] = legacyCellValue(data[column.Name])
	}
	if studentID != "" {
		cells["id"] = studentID
	}
	return cells
}

func (t *Tool) projectLessonMemos(studentID string, value any) ([]map[string]string, error) {
	memos, ok := value.(map[string]any)
	if !ok {
		return nil, nil
	}

	var cells []map[string]string
	for lessonID, memoValue := range memos {
		cell := map[string]string{
			"id":        studentID + "_" + lessonID,
			"studentId": studentID,
			"lessonId":  lessonID,
		}
		switch memo := memoValue.(type) {
		case string:
			// The oldest blobs stored a bare string; it becomes the growth note.
			cell["growth"] = memo
		case map[string]any:
			cell["growth"], _ = memo["growth"].(string)
			cell["challenges"], _ = memo["challenges"].(string)
			cell["instructor"], _ = memo["instructor"].(string)
		default:
			continue
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func (t *Tool) projectMemoHistory(studentID string, value any) ([]map[string]string, error) {
	history, ok := value.([]any)
	if !ok {
		return nil, nil
	}

	var cells []map[string]string
	for _, entryValue := range history {
		entry, ok := entryValue.(map[string]any)
		if !ok {
			continue
		}
		memoID, _ := entry["id"].(string)
		if memoID == "" {
			generated, err := t.idProvider.NewID()
			if err != nil {
				return nil, fmt.Errorf("migration: generate memo id: %w", err)
			}
			memoID = generated
		}
		date, _ := entry["date"].(string)
		content, _ := entry["content"].(string)
		tag, _ := entry["tag"].(string)
		cells = append(cells, map[string]string{
			"id":        memoID,
			"studentId": studentID,
			"date":      date,
			"content":   content,
			"tag":       tag,
		})
	}
	return cells, nil
}

// writeCollection creates or clears a destination tab, restores its declared
// header, and bulk-writes the projected rows.
func (t *Tool) writeCollection(ctx context.Context, collection string, cells []map[string]string) error {
	header := karte.ColumnNames(collection)

	sheet, err := t.store.Sheet(ctx, collection)
	switch {
	case errors.Is(err, tabular.ErrSheetNotFound):
		sheet, err = t.store.AddSheet(ctx, collection, header)
		if err != nil {
			return fmt.Errorf("migration: create tab %q: %w", collection, err)
		}
	case err != nil:
		return fmt.Errorf("migration: open tab %q: %w", collection, err)
	default:
		if err := sheet.Clear(ctx); err != nil {
			return fmt.Errorf("migration: clear tab %q: %w", collection, err)
		}
		if err := sheet.SetHeader(ctx, header); err != nil {
			return fmt.Errorf("migration: set header of tab %q: %w", collection, err)
		}
	}

	for _, row := range cells {
		if err := sheet.Append(ctx, row); err != nil {
			return fmt.Errorf("migration: write tab %q: %w", collection, err)
		}
	}
	t.logger.Info("collection written",
		zap.String("collection", collection),
		zap.Int("rows", len(cells)))
	return nil
}

// legacyCellValue renders one blob value as a text cell.
func legacyCellValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		if typed {
			return "true"
		}
		return "false"
	case json.Number:
		return typed.String()
	case float64:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
