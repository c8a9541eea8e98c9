package karte

import (
	"context"
	"errors"
	"strings"

	"github.com/ptalab/karte-api/internal/tabular"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("karte: tabular store is required")
	noOpLogger      = zap.NewNop()
)

const (
	opRepositoryNew   = "karte.repository.new"
	opFindAllStudents = "karte.find_all_students"
	opCreateStudent   = "karte.create_student"
	opUpdateStudent   = "karte.update_student"
	opListRows        = "karte.list_rows"
	opLessonMemos     = "karte.lesson_memos"
	opMemoHistory     = "karte.memo_history"
	opSyncLessonMemos = "karte.sync_lesson_memos"
	opSyncMemoHistory = "karte.sync_memo_history"
)

// RepositoryConfig carries the dependencies for a Repository.
type RepositoryConfig struct {
	Store  tabular.Store
	Logger *zap.Logger
}

// Repository translates between stored rows and typed entities for the three
// karte collections. It owns that translation exclusively: callers never see
// rows. Every call re-reads the relevant sheets; nothing is cached across
// requests.
type Repository struct {
	store  tabular.Store
	logger *zap.Logger
}

// NewRepository validates the configuration and returns a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Store == nil {
		return nil, newPersistenceError(opRepositoryNew, errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository{store: cfg.Store, logger: logger}, nil
}

// FindAllStudents returns every stored student. With join set, each student
// additionally carries its lesson memos (keyed by lesson id) and its memo
// history (in stored order), built from one scan of each child sheet.
func (r *Repository) FindAllStudents(ctx context.Context, join bool) ([]Student, error) {
	sheet, err := r.sheet(ctx, opFindAllStudents, CollectionStudents)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return []Student{}, nil
	}

	header, err := sheet.Header(ctx)
	if err != nil {
		r.logError(opFindAllStudents, "header_read_failed", err)
		return nil, newPersistenceError(opFindAllStudents, err)
	}
	rows, err := sheet.Rows(ctx)
	if err != nil {
		r.logError(opFindAllStudents, "rows_read_failed", err)
		return nil, newPersistenceError(opFindAllStudents, err)
	}

	students := make([]Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, decodeStudent(header, row))
	}

	if !join {
		return students, nil
	}

	lessonGroups, err := r.lessonMemosByStudent(ctx, opFindAllStudents)
	if err != nil {
		return nil, err
	}
	memoGroups, err := r.memoHistoryByStudent(ctx, opFindAllStudents)
	if err != nil {
		return nil, err
	}

	for i := range students {
		memos := lessonGroups[students[i].ID]
		if memos == nil {
			memos = map[string]LessonMemo{}
		}
		students[i].LessonMemos = memos

		history := memoGroups[students[i].ID]
		if history == nil {
			history = []MemoEntry{}
		}
		students[i].MemoHistory = history
	}
	return students, nil
}

// FindStudentByID returns the joined student with the given id, or nil when
// no row matches. A full scan is deliberate: the dataset is tens of rows.
func (r *Repository) FindStudentByID(ctx context.Context, id string) (*Student, error) {
	students, err := r.FindAllStudents(ctx, true)
	if err != nil {
		return nil, err
	}
	for i := range students {
		if students[i].ID == id {
			student := students[i]
			return &student, nil
		}
	}
	return nil, nil
}

// CreateStudent appends a new student row. Fields the current header does
// not know yet are first added to it through header evolution; nested
// collections in the patch are written through to the child sheets.
func (r *Repository) CreateStudent(ctx context.Context, id string, patch StudentPatch) (*Student, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newValidationError("student id is required")
	}

	sheet, err := r.ensureSheet(ctx, opCreateStudent, CollectionStudents)
	if err != nil {
		return nil, err
	}
	if err := ensureColumns(ctx, sheet, patch.FieldNames()); err != nil {
		r.logError(opCreateStudent, "ensure_columns_failed", err, zap.String("student_id", id))
		return nil, newPersistenceError(opCreateStudent, err)
	}

	header, err := sheet.Header(ctx)
	if err != nil {
		r.logError(opCreateStudent, "header_read_failed", err, zap.String("student_id", id))
		return nil, newPersistenceError(opCreateStudent, err)
	}

	cells := make(map[string]string, len(header))
	for _, column := range header {
		if value, ok := patch.field(column); ok {
			cells[column] = value
		}
	}
	cells["id"] = id

	if err := sheet.Append(ctx, cells); err != nil {
		r.logError(opCreateStudent, "row_append_failed", err, zap.String("student_id", id))
		return nil, newPersistenceError(opCreateStudent, err)
	}

	if patch.HasLessonMemos {
		if err := r.SyncLessonMemos(ctx, id, patch.LessonMemos); err != nil {
			return nil, err
		}
	}
	if patch.HasMemoHistory {
		if err := r.SyncMemoHistory(ctx, id, patch.MemoHistory); err != nil {
			return nil, err
		}
	}
	return r.FindStudentByID(ctx, id)
}

// UpdateStudent merges a partial update into the stored student. Flat fields
// are written only for columns the header already carries; unknown keys are
// dropped, not errored. The nested collection keys route to the
// synchronizer. The flat write and the nested writes are independent: a
// failure in one does not roll back the other.
func (r *Repository) UpdateStudent(ctx context.Context, id string, patch StudentPatch) (*Student, error) {
	sheet, err := r.sheet(ctx, opUpdateStudent, CollectionStudents)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return nil, &NotFoundError{Collection: CollectionStudents, ID: id}
	}

	header, err := sheet.Header(ctx)
	if err != nil {
		r.logError(opUpdateStudent, "header_read_failed", err, zap.String("student_id", id))
		return nil, newPersistenceError(opUpdateStudent, err)
	}
	rows, err := sheet.Rows(ctx)
	if err != nil {
		r.logError(opUpdateStudent, "rows_read_failed", err, zap.String("student_id", id))
		return nil, newPersistenceError(opUpdateStudent, err)
	}

	var target tabular.Row
	for _, row := range rows {
		if row.Get("id") == id {
			target = row
			break
		}
	}
	if target == nil {
		return nil, &NotFoundError{Collection: CollectionStudents, ID: id}
	}

	known := make(map[string]struct{}, len(header))
	for _, column := range header {
		known[column] = struct{}{}
	}

	changed := false
	for _, field := range patch.Fields {
		// The id is externally assigned and immutable.
		if field.Name == "id" {
			continue
		}
		if _, ok := known[field.Name]; !ok {
			continue
		}
		target.Set(field.Name, field.Value)
		changed = true
	}
	if changed {
		if err := target.Save(ctx); err != nil {
			r.logError(opUpdateStudent, "row_save_failed", err, zap.String("student_id", id))
			return nil, newPersistenceError(opUpdateStudent, err)
		}
	}

	if patch.HasLessonMemos {
		if err := r.SyncLessonMemos(ctx, id, patch.LessonMemos); err != nil {
			return nil, err
		}
	}
	if patch.HasMemoHistory {
		if err := r.SyncMemoHistory(ctx, id, patch.MemoHistory); err != nil {
			return nil, err
		}
	}
	return r.FindStudentByID(ctx, id)
}

// DeleteStudent always reports false: students are never hard-deleted, and
// the stored row is left untouched. This is a contract, not an omission.
func (r *Repository) DeleteStudent(ctx context.Context, id string) (bool, error) {
	return false, nil
}

// LessonMemos returns the lesson records of one student keyed by lesson id.
func (r *Repository) LessonMemos(ctx context.Context, studentID string) (map[string]LessonMemo, error) {
	groups, err := r.lessonMemosByStudent(ctx, opLessonMemos)
	if err != nil {
		return nil, err
	}
	memos := groups[studentID]
	if memos == nil {
		memos = map[string]LessonMemo{}
	}
	return memos, nil
}

// MemoHistory returns the memo entries of one student in stored order.
func (r *Repository) MemoHistory(ctx context.Context, studentID string) ([]MemoEntry, error) {
	groups, err := r.memoHistoryByStudent(ctx, opMemoHistory)
	if err != nil {
		return nil, err
	}
	history := groups[studentID]
	if history == nil {
		history = []MemoEntry{}
	}
	return history, nil
}

// FindAllRows returns the raw cell maps of a collection. It is the generic
// fallback for collections without a typed entity.
func (r *Repository) FindAllRows(ctx context.Context, collection string) ([]map[string]string, error) {
	sheet, err := r.sheet(ctx, opListRows, collection)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return []map[string]string{}, nil
	}

	header, err := sheet.Header(ctx)
	if err != nil {
		r.logError(opListRows, "header_read_failed", err, zap.String("collection", collection))
		return nil, newPersistenceError(opListRows, err)
	}
	rows, err := sheet.Rows(ctx)
	if err != nil {
		r.logError(opListRows, "rows_read_failed", err, zap.String("collection", collection))
		return nil, newPersistenceError(opListRows, err)
	}

	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		cells := make(map[string]string, len(header))
		for _, column := range header {
			cells[column] = row.Get(column)
		}
		out = append(out, cells)
	}
	return out, nil
}

func (r *Repository) lessonMemosByStudent(ctx context.Context, operation string) (map[string]map[string]LessonMemo, error) {
	groups := map[string]map[string]LessonMemo{}
	sheet, err := r.sheet(ctx, operation, CollectionLessonRecords)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return groups, nil
	}

	rows, err := sheet.Rows(ctx)
	if err != nil {
		r.logError(operation, "lesson_rows_read_failed", err)
		return nil, newPersistenceError(operation, err)
	}
	for _, row := range rows {
		studentID := row.Get("studentId")
		if groups[studentID] == nil {
			groups[studentID] = map[string]LessonMemo{}
		}
		groups[studentID][row.Get("lessonId")] = decodeLessonMemo(row)
	}
	return groups, nil
}

func (r *Repository) memoHistoryByStudent(ctx context.Context, operation string) (map[string][]MemoEntry, error) {
	groups := map[string][]MemoEntry{}
	sheet, err := r.sheet(ctx, operation, CollectionMemoHistory)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return groups, nil
	}

	rows, err := sheet.Rows(ctx)
	if err != nil {
		r.logError(operation, "memo_rows_read_failed", err)
		return nil, newPersistenceError(operation, err)
	}
	for _, row := range rows {
		studentID := row.Get("studentId")
		groups[studentID] = append(groups[studentID], MemoEntry{
			ID:      row.Get("id"),
			Date:    row.Get("date"),
			Content: row.Get("content"),
			Tag:     row.Get("tag"),
		})
	}
	return groups, nil
}

// sheet resolves a collection sheet, mapping "does not exist" to nil so read
// paths can treat a missing tab as an empty collection.
func (r *Repository) sheet(ctx context.Context, operation, collection string) (tabular.Sheet, error) {
	sheet, err := r.store.Sheet(ctx, collection)
	if errors.Is(err, tabular.ErrSheetNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logError(operation, "sheet_open_failed", err, zap.String("collection", collection))
		return nil, newPersistenceError(operation, err)
	}
	return sheet, nil
}

// ensureSheet resolves a collection sheet for writing, creating it with the
// declared header when the tab does not exist yet.
func (r *Repository) ensureSheet(ctx context.Context, operation, collection string) (tabular.Sheet, error) {
	sheet, err := r.sheet(ctx, operation, collection)
	if err != nil {
		return nil, err
	}
	if sheet != nil {
		return sheet, nil
	}
	created, err := r.store.AddSheet(ctx, collection, ColumnNames(collection))
	if err != nil {
		r.logError(operation, "sheet_create_failed", err, zap.String("collection", collection))
		return nil, newPersistenceError(operation, err)
	}
	return created, nil
}

func decodeStudent(header []string, row tabular.Row) Student {
	student := Student{}
	for _, column := range header {
		student.setCell(column, row.Get(column))
	}
	return student
}

func decodeLessonMemo(row tabular.Row) LessonMemo {
	return LessonMemo{
		Growth:           row.Get("growth"),
		Challenges:       row.Get("challenges"),
		Instructor:       row.Get("instructor"),
		GrowthImages:     DecodeStringList(row.Get("growthImages")),
		ChallengesImages: DecodeStringList(row.Get("challengesImages")),
		InstructorImages: DecodeStringList(row.Get("instructorImages")),
	}
}

func (r *Repository) loggerOrDefault() *zap.Logger {
	if r == nil || r.logger == nil {
		return noOpLogger
	}
	return r.logger
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.loggerOrDefault().Error("karte repository error", attrs...)
}
