package tabular

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sheetHeaderRecord stores one sheet title together with its ordered header.
type sheetHeaderRecord struct {
	Title       string `gorm:"column:title;primaryKey;size:190;not null"`
	Position    int64  `gorm:"column:position;not null"`
	ColumnsJSON string `gorm:"column:columns_json;type:text;not null"`
}

func (sheetHeaderRecord) TableName() string {
	return "sheet_headers"
}

// sheetRowRecord stores one data row as a JSON cell map, ordered by position
// within its sheet.
type sheetRowRecord struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SheetTitle string `gorm:"column:sheet_title;size:190;not null;index:idx_sheet_rows_title_position,priority:1"`
	Position   int64  `gorm:"column:position;not null;index:idx_sheet_rows_title_position,priority:2"`
	CellsJSON  string `gorm:"column:cells_json;type:text;not null"`
}

func (sheetRowRecord) TableName() string {
	return "sheet_rows"
}

// SQLiteStore is a Store persisted in a local SQLite file. It fills the role
// of the backing document for development deployments and durable tests.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("tabular: database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sheetHeaderRecord{}, &sheetRowRecord{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("tabular store initialized", zap.String("path", path))
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Sheet(ctx context.Context, title string) (Sheet, error) {
	var record sheetHeaderRecord
	err := s.db.WithContext(ctx).Where("title = ?", title).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, title)
	}
	if err != nil {
		return nil, err
	}
	return &sqliteSheet{store: s, title: title}, nil
}

func (s *SQLiteStore) AddSheet(ctx context.Context, title string, header []string) (Sheet, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&sheetHeaderRecord{}).Where("title = ?", title).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetExists, title)
	}

	columnsJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&sheetHeaderRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}

	record := sheetHeaderRecord{Title: title, Position: total, ColumnsJSON: string(columnsJSON)}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &sqliteSheet{store: s, title: title}, nil
}

func (s *SQLiteStore) RenameSheet(ctx context.Context, oldTitle, newTitle string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record sheetHeaderRecord
		err := tx.Where("title = ?", oldTitle).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, oldTitle)
		}
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&sheetHeaderRecord{}).Where("title = ?", newTitle).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %q", ErrSheetExists, newTitle)
		}

		if err := tx.Model(&sheetHeaderRecord{}).Where("title = ?", oldTitle).Update("title", newTitle).Error; err != nil {
			return err
		}
		return tx.Model(&sheetRowRecord{}).Where("sheet_title = ?", oldTitle).Update("sheet_title", newTitle).Error
	})
}

func (s *SQLiteStore) Titles(ctx context.Context) ([]string, error) {
	var records []sheetHeaderRecord
	if err := s.db.WithContext(ctx).Order("position ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(records))
	for _, record := range records {
		titles = append(titles, record.Title)
	}
	return titles, nil
}

type sqliteSheet struct {
	store *SQLiteStore
	title string
}

func (m *sqliteSheet) Title() string {
	return m.title
}

func (m *sqliteSheet) Header(ctx context.Context) ([]string, error) {
	var record sheetHeaderRecord
	if err := m.store.db.WithContext(ctx).Where("title = ?", m.title).Take(&record).Error; err != nil {
		return nil, err
	}
	var columns []string
	if record.ColumnsJSON != "" {
		if err := json.Unmarshal([]byte(record.ColumnsJSON), &columns); err != nil {
			return nil, fmt.Errorf("tabular: corrupt header for sheet %q: %w", m.title, err)
		}
	}
	return columns, nil
}

func (m *sqliteSheet) SetHeader(ctx context.Context, columns []string) error {
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return err
	}
	return m.store.db.WithContext(ctx).
		Model(&sheetHeaderRecord{}).
		Where("title = ?", m.title).
		Update("columns_json", string(columnsJSON)).Error
}

func (m *sqliteSheet) Rows(ctx context.Context) ([]Row, error) {
	var records []sheetRowRecord
	if err := m.store.db.WithContext(ctx).
		Where("sheet_title = ?", m.title).
		Order("position ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records))
	for _, record := range records {
		cells := map[string]string{}
		if record.CellsJSON != "" {
			if err := json.Unmarshal([]byte(record.CellsJSON), &cells); err != nil {
				return nil, fmt.Errorf("tabular: corrupt row %d in sheet %q: %w", record.ID, m.title, err)
			}
		}
		rows = append(rows, &sqliteRow{sheet: m, recordID: record.ID, cells: cells, staged: map[string]string{}})
	}
	return rows, nil
}

func (m *sqliteSheet) Append(ctx context.Context, cells map[string]string) error {
	header, err := m.Header(ctx)
	if err != nil {
		return err
	}

	stored := map[string]string{}
	for _, column := range header {
		if value, ok := cells[column]; ok {
			stored[column] = value
		}
	}
	cellsJSON, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	return m.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var position int64
		row := tx.Model(&sheetRowRecord{}).
			Where("sheet_title = ?", m.title).
			Select("COALESCE(MAX(position), 0)").
			Row()
		if err := row.Scan(&position); err != nil {
			return err
		}
		record := sheetRowRecord{SheetTitle: m.title, Position: position + 1, CellsJSON: string(cellsJSON)}
		return tx.Create(&record).Error
	})
}

func (m *sqliteSheet) Clear(ctx context.Context) error {
	return m.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sheet_title = ?", m.title).Delete(&sheetRowRecord{}).Error; err != nil {
			return err
		}
		return tx.Model(&sheetHeaderRecord{}).Where("title = ?", m.title).Update("columns_json", "[]").Error
	})
}

type sqliteRow struct {
	sheet    *sqliteSheet
	recordID int64
	cells    map[string]string
	staged   map[string]string
}

func (r *sqliteRow) Get(column string) string {
	if value, ok := r.staged[column]; ok {
		return value
	}
	return r.cells[column]
}

func (r *sqliteRow) Set(column, value string) {
	r.staged[column] = value
}

func (r *sqliteRow) Save(ctx context.Context) error {
	header, err := r.sheet.Header(ctx)
	if err != nil {
		return err
	}

	allowed := map[string]struct{}{}
	for _, column := range header {
		allowed[column] = struct{}{}
	}
	for column, value := range r.staged {
		if _, ok := allowed[column]; ok {
			r.cells[column] = value
		}
	}
	r.staged = map[string]string{}

	cellsJSON, err := json.Marshal(r.cells)
	if err != nil {
		return err
	}
	return r.sheet.store.db.WithContext(ctx).
		Model(&sheetRowRecord{}).
		Where("id = ?", r.recordID).
		Update("cells_json", string(cellsJSON)).Error
}

func (r *sqliteRow) Delete(ctx context.Context) error {
	return r.sheet.store.db.WithContext(ctx).
		Where("id = ?", r.recordID).
		Delete(&sheetRowRecord{}).Error
}
