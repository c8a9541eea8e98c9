package tabular

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Stats counts the mutations a MemoryStore has absorbed. Tests use it to
// assert write volume, not just final state.
type Stats struct {
	Appends int
	Saves   int
	Deletes int
}

// MemoryStore is an in-process Store implementation. It backs tests and
// zero-configuration development runs.
type MemoryStore struct {
	mu     sync.Mutex
	sheets map[string]*memorySheet
	order  []string
	stats  Stats
}

// NewMemoryStore returns an empty in-memory document.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sheets: map[string]*memorySheet{}}
}

// Stats returns a snapshot of the mutation counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *MemoryStore) Sheet(ctx context.Context, title string) (Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[title]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, title)
	}
	return sheet, nil
}

func (s *MemoryStore) AddSheet(ctx context.Context, title string, header []string) (Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sheets[title]; ok {
		return nil, fmt.Errorf("%w: %q", ErrSheetExists, title)
	}
	sheet := &memorySheet{store: s, title: title, header: slices.Clone(header)}
	s.sheets[title] = sheet
	s.order = append(s.order, title)
	return sheet, nil
}

func (s *MemoryStore) RenameSheet(ctx context.Context, oldTitle, newTitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[oldTitle]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSheetNotFound, oldTitle)
	}
	if _, ok := s.sheets[newTitle]; ok {
		return fmt.Errorf("%w: %q", ErrSheetExists, newTitle)
	}
	delete(s.sheets, oldTitle)
	sheet.title = newTitle
	s.sheets[newTitle] = sheet
	for i, title := range s.order {
		if title == oldTitle {
			s.order[i] = newTitle
		}
	}
	return nil
}

func (s *MemoryStore) Titles(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order), nil
}

type memorySheet struct {
	store  *MemoryStore
	title  string
	header []string
	rows   []*memoryRowData
}

type memoryRowData struct {
	cells map[string]string
}

func (m *memorySheet) Title() string {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return m.title
}

func (m *memorySheet) Header(ctx context.Context) ([]string, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return slices.Clone(m.header), nil
}

func (m *memorySheet) SetHeader(ctx context.Context, columns []string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.header = slices.Clone(columns)
	return nil
}

func (m *memorySheet) Rows(ctx context.Context) ([]Row, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	rows := make([]Row, 0, len(m.rows))
	for _, data := range m.rows {
		rows = append(rows, &memoryRow{sheet: m, data: data, staged: map[string]string{}})
	}
	return rows, nil
}

func (m *memorySheet) Append(ctx context.Context, cells map[string]string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	stored := map[string]string{}
	for _, column := range m.header {
		if value, ok := cells[column]; ok {
			stored[column] = value
		}
	}
	m.rows = append(m.rows, &memoryRowData{cells: stored})
	m.store.stats.Appends++
	return nil
}

func (m *memorySheet) Clear(ctx context.Context) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.rows = nil
	m.header = nil
	return nil
}

type memoryRow struct {
	sheet  *memorySheet
	data   *memoryRowData
	staged map[string]string
}

func (r *memoryRow) Get(column string) string {
	r.sheet.store.mu.Lock()
	defer r.sheet.store.mu.Unlock()
	if value, ok := r.staged[column]; ok {
		return value
	}
	return r.data.cells[column]
}

func (r *memoryRow) Set(column, value string) {
	r.sheet.store.mu.Lock()
	defer r.sheet.store.mu.Unlock()
	r.staged[column] = value
}

func (r *memoryRow) Save(ctx context.Context) error {
	r.sheet.store.mu.Lock()
	defer r.sheet.store.mu.Unlock()
	for column, value := range r.staged {
		if slices.Contains(r.sheet.header, column) {
			r.data.cells[column] = value
		}
	}
	r.staged = map[string]string{}
	r.sheet.store.stats.Saves++
	return nil
}

func (r *memoryRow) Delete(ctx context.Context) error {
	r.sheet.store.mu.Lock()
	defer r.sheet.store.mu.Unlock()
	for i, data := range r.sheet.rows {
		if data == r.data {
			r.sheet.rows = append(r.sheet.rows[:i], r.sheet.rows[i+1:]...)
			break
		}
	}
	r.sheet.store.stats.Deletes++
	return nil
}
