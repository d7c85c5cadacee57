package ledger

import (
	"context"
	"sync"
	"time"
)

// Memory is a Ledger backed by a Sheet that lives only as long as the process.
type Memory struct {
	mu    sync.Mutex
	sheet *Sheet
}

func NewMemory(gap int) *Memory {
	return &Memory{sheet: NewSheet(gap)}
}

func (m *Memory) ArchiveSection(_ context.Context, day time.Time, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheet.ArchiveSection(day, names)
	return nil
}

func (m *Memory) MarkPresent(_ context.Context, day time.Time, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.sheet.MarkPresent(day, name, at)
	return err
}

func (m *Memory) Section(_ context.Context, day time.Time) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sheet.Section(day)
}

// Rows returns a copy of the whole grid.
func (m *Memory) Rows() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sheet.Rows()
}
