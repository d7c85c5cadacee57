package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLedger persists a Sheet as CSV. Every change rewrites the file through a temporary
// file and a rename, so readers never observe a partial ledger.
type FileLedger struct {
	mu    sync.Mutex
	path  string
	sheet *Sheet
}

// OpenFile loads the ledger at path, starting empty if the file does not exist.
func OpenFile(path string, gap int) (*FileLedger, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	return &FileLedger{path: path, sheet: LoadSheet(rows, gap)}, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	return rows, nil
}

func (l *FileLedger) save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(l.sheet.Rows()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}

func (l *FileLedger) ArchiveSection(ctx context.Context, day time.Time, names []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.sheet.Rows()
	if !l.sheet.ArchiveSection(day, names) {
		return nil
	}
	if err := l.save(ctx); err != nil {
		// keep memory and disk in agreement so the next attempt starts clean
		l.sheet = LoadSheet(before, l.sheet.gap)
		return err
	}
	log.Infof("ledger: section %s written to %s", day.Format(DateLayout), l.path)
	return nil
}

func (l *FileLedger) MarkPresent(ctx context.Context, day time.Time, name string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.sheet.Rows()
	changed, err := l.sheet.MarkPresent(day, name, at)
	if err != nil || !changed {
		return err
	}
	if err := l.save(ctx); err != nil {
		l.sheet = LoadSheet(before, l.sheet.gap)
		return err
	}
	return nil
}

func (l *FileLedger) Section(_ context.Context, day time.Time) ([]Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sheet.Section(day)
}
