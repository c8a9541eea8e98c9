package karte

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/ptalab/karte-api/internal/tabular"
	"go.uber.org/zap"
)

// SyncLessonMemos reconciles the full desired set of lesson records for one
// student against the stored rows: rows whose lesson id is no longer desired
// are deleted, desired entries update matching rows in place, and the rest
// are inserted with a synthesized `studentId_lessonId` row id.
//
// Deletions run before upserts, so a key dropped and re-sent in the same
// call is a delete-then-recreate, never a stale update. The steps are not
// atomic; a failed call leaves a partially applied set that a re-submit of
// the same desired collection repairs.
func (r *Repository) SyncLessonMemos(ctx context.Context, studentID string, desired map[string]LessonMemoPatch) error {
	sheet, err := r.ensureSheet(ctx, opSyncLessonMemos, CollectionLessonRecords)
	if err != nil {
		return err
	}
	rows, err := sheet.Rows(ctx)
	if err != nil {
		r.logError(opSyncLessonMemos, "rows_read_failed", err, zap.String("student_id", studentID))
		return newPersistenceError(opSyncLessonMemos, err)
	}

	current := map[string]tabular.Row{}
	for _, row := range rows {
		if row.Get("studentId") != studentID {
			continue
		}
		current[row.Get("lessonId")] = row
	}

	for lessonID, row := range current {
		if _, ok := desired[lessonID]; ok {
			continue
		}
		if err := row.Delete(ctx); err != nil {
			r.logError(opSyncLessonMemos, "row_delete_failed", err,
				zap.String("student_id", studentID),
				zap.String("lesson_id", lessonID))
			return newPersistenceError(opSyncLessonMemos, err)
		}
		delete(current, lessonID)
	}

	for _, lessonID := range slices.Sorted(maps.Keys(desired)) {
		memo := desired[lessonID]

		if row, ok := current[lessonID]; ok {
			// Present fields overwrite, including blanking to empty string;
			// absent fields leave the stored cell untouched.
			changed := false
			for column, value := range map[string]*string{
				"growth":     memo.Growth,
				"challenges": memo.Challenges,
				"instructor": memo.Instructor,
			} {
				if value != nil {
					row.Set(column, *value)
					changed = true
				}
			}
			for column, value := range map[string]*StringList{
				"growthImages":     memo.GrowthImages,
				"challengesImages": memo.ChallengesImages,
				"instructorImages": memo.InstructorImages,
			} {
				if value != nil {
					row.Set(column, value.EncodeCell())
					changed = true
				}
			}
			if !changed {
				continue
			}
			if err := row.Save(ctx); err != nil {
				r.logError(opSyncLessonMemos, "row_save_failed", err,
					zap.String("student_id", studentID),
					zap.String("lesson_id", lessonID))
				return newPersistenceError(opSyncLessonMemos, err)
			}
			continue
		}

		// A brand-new record with every note field blank is never stored.
		if memo.isEmpty() {
			continue
		}
		cells := map[string]string{
			"id":               studentID + "_" + lessonID,
			"studentId":        studentID,
			"lessonId":         lessonID,
			"growth":           stringCell(memo.Growth),
			"challenges":       stringCell(memo.Challenges),
			"instructor":       stringCell(memo.Instructor),
			"growthImages":     listCell(memo.GrowthImages),
			"challengesImages": listCell(memo.ChallengesImages),
			"instructorImages": listCell(memo.InstructorImages),
		}
		if err := sheet.Append(ctx, cells); err != nil {
			r.logError(opSyncLessonMemos, "row_append_failed", err,
				zap.String("student_id", studentID),
				zap.String("lesson_id", lessonID))
			return newPersistenceError(opSyncLessonMemos, err)
		}
	}
	return nil
}

// SyncMemoHistory reconciles the full desired memo list for one student.
// Entry ids are caller-supplied and act as the reconciliation keys; stored
// rows whose id is absent from the desired list are deleted, the rest are
// updated or inserted in list order. Rows whose content and tag already
// match are left alone to keep write volume down.
func (r *Repository) SyncMemoHistory(ctx context.Context, studentID string, desired []MemoEntry) error {
	for _, entry := range desired {
		if strings.TrimSpace(entry.ID) == "" {
			return newValidationError("memo entries require an id")
		}
	}

	sheet, err := r.ensureSheet(ctx, opSyncMemoHistory, CollectionMemoHistory)
	if err != nil {
		return err
	}
	rows, err := sheet.Rows(ctx)
	if err != nil {
		r.logError(opSyncMemoHistory, "rows_read_failed", err, zap.String("student_id", studentID))
		return newPersistenceError(opSyncMemoHistory, err)
	}

	current := map[string]tabular.Row{}
	for _, row := range rows {
		if row.Get("studentId") != studentID {
			continue
		}
		current[row.Get("id")] = row
	}

	desiredIDs := make(map[string]struct{}, len(desired))
	for _, entry := range desired {
		desiredIDs[entry.ID] = struct{}{}
	}

	for memoID, row := range current {
		if _, ok := desiredIDs[memoID]; ok {
			continue
		}
		if err := row.Delete(ctx); err != nil {
			r.logError(opSyncMemoHistory, "row_delete_failed", err,
				zap.String("student_id", studentID),
				zap.String("memo_id", memoID))
			return newPersistenceError(opSyncMemoHistory, err)
		}
		delete(current, memoID)
	}

	for _, entry := range desired {
		if row, ok := current[entry.ID]; ok {
			if row.Get("content") == entry.Content && row.Get("tag") == entry.Tag {
				continue
			}
			row.Set("content", entry.Content)
			row.Set("tag", entry.Tag)
			if err := row.Save(ctx); err != nil {
				r.logError(opSyncMemoHistory, "row_save_failed", err,
					zap.String("student_id", studentID),
					zap.String("memo_id", entry.ID))
				return newPersistenceError(opSyncMemoHistory, err)
			}
			continue
		}

		cells := map[string]string{
			"id":        entry.ID,
			"studentId": studentID,
			"date":      entry.Date,
			"content":   entry.Content,
			"tag":       entry.Tag,
		}
		if err := sheet.Append(ctx, cells); err != nil {
			r.logError(opSyncMemoHistory, "row_append_failed", err,
				zap.String("student_id", studentID),
				zap.String("memo_id", entry.ID))
			return newPersistenceError(opSyncMemoHistory, err)
		}
	}
	return nil
}

func stringCell(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func listCell(value *StringList) string {
	if value == nil {
		return ""
	}
	return value.EncodeCell()
}
