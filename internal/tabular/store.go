// Package tabular defines the row-oriented storage primitives the karte
// repository is written against: a document made of named sheets, each with a
// header row naming its columns and data rows addressed by column name.
package tabular

import (
	"context"
	"errors"
)

// ErrSheetNotFound indicates that no sheet with the requested title exists.
var ErrSheetNotFound = errors.New("tabular: sheet not found")

// ErrSheetExists indicates that a sheet with the requested title already exists.
var ErrSheetExists = errors.New("tabular: sheet already exists")

// Store models a single backing document holding named sheets.
type Store interface {
	// Sheet resolves a sheet by title, returning ErrSheetNotFound when absent.
	Sheet(ctx context.Context, title string) (Sheet, error)
	// AddSheet creates a new sheet with the provided header row.
	AddSheet(ctx context.Context, title string, header []string) (Sheet, error)
	// RenameSheet changes a sheet title, keeping its header and rows intact.
	RenameSheet(ctx context.Context, oldTitle, newTitle string) error
	// Titles lists the sheet titles currently present in the document.
	Titles(ctx context.Context) ([]string, error)
}

// Sheet models one tab of the backing document.
//
// Writes to columns that are not part of the current header are silently
// dropped; callers that introduce new columns must widen the header first.
type Sheet interface {
	Title() string
	Header(ctx context.Context) ([]string, error)
	// SetHeader replaces the header row in a single operation. Stored cells
	// are not touched.
	SetHeader(ctx context.Context, columns []string) error
	// Rows returns the data rows in storage order.
	Rows(ctx context.Context) ([]Row, error)
	// Append adds a row at the end of the sheet.
	Append(ctx context.Context, cells map[string]string) error
	// Clear removes every row and the header.
	Clear(ctx context.Context) error
}

// Row is a handle onto one stored row. Set stages a cell change locally;
// Save persists all staged changes in one write.
type Row interface {
	Get(column string) string
	Set(column, value string)
	Save(ctx context.Context) error
	Delete(ctx context.Context) error
}
