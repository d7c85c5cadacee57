package ledger

import (
	"time"
)

// Sheet is an in-memory grid laid out like the attendance spreadsheet: each day is a
// header row followed by one row per name, and sections are separated by gap blank rows.
// Sheet is not safe for concurrent use.
type Sheet struct {
	rows [][]string
	gap  int
}

func NewSheet(gap int) *Sheet {
	if gap < 0 {
		gap = DefaultGap
	}
	return &Sheet{gap: gap}
}

// LoadSheet wraps existing rows.
func LoadSheet(rows [][]string, gap int) *Sheet {
	s := NewSheet(gap)
	for _, r := range rows {
		s.rows = append(s.rows, normalize(r))
	}
	return s
}

func normalize(r []string) []string {
	out := make([]string, 3)
	copy(out, r)
	return out
}

// Rows returns a copy of the grid.
func (s *Sheet) Rows() [][]string {
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

func blank(r []string) bool {
	for _, c := range r {
		if c != "" {
			return false
		}
	}
	return true
}

func (s *Sheet) lastPopulated() int {
	for i := len(s.rows) - 1; i >= 0; i-- {
		if !blank(s.rows[i]) {
			return i
		}
	}
	return -1
}

// section locates the header for day and the index just past its last name row.
func (s *Sheet) section(day time.Time) (header, end int, ok bool) {
	key := day.Format(DateLayout)
	for i, r := range s.rows {
		if r[0] == key && r[1] == StatusHeader {
			end = i + 1
			for end < len(s.rows) && s.rows[end][0] != "" && s.rows[end][1] != StatusHeader {
				end++
			}
			return i, end, true
		}
	}
	return 0, 0, false
}

func (s *Sheet) set(i int, r []string) {
	for len(s.rows) <= i {
		s.rows = append(s.rows, make([]string, 3))
	}
	s.rows[i] = normalize(r)
}

// ArchiveSection adds day's section and reports whether the grid changed. An existing
// section is left alone unless it is the last one, in which case missing names are appended.
func (s *Sheet) ArchiveSection(day time.Time, names []string) bool {
	names = dedupe(names)

	if header, end, ok := s.section(day); ok {
		if s.lastPopulated() >= end {
			return false
		}
		have := make(map[string]bool)
		for _, r := range s.rows[header+1 : end] {
			have[r[0]] = true
		}
		changed := false
		for _, n := range names {
			if have[n] {
				continue
			}
			s.set(end, []string{n, "", ""})
			end++
			changed = true
		}
		return changed
	}

	header := 0
	if last := s.lastPopulated(); last >= 0 {
		header = last + 1 + s.gap
	}
	s.set(header, []string{day.Format(DateLayout), StatusHeader, TimeHeader})
	for i, n := range names {
		s.set(header+1+i, []string{n, "", ""})
	}
	return true
}

// MarkPresent records name as present at the given time. A row already marked keeps its
// first time and reports no change.
func (s *Sheet) MarkPresent(day time.Time, name string, at time.Time) (bool, error) {
	header, end, ok := s.section(day)
	if !ok {
		return false, ErrNoSection
	}
	for i := header + 1; i < end; i++ {
		r := s.rows[i]
		if r[0] != name {
			continue
		}
		if r[1] == StatusPresent {
			return false, nil
		}
		r[1] = StatusPresent
		r[2] = at.Format(TimeLayout)
		return true, nil
	}
	return false, ErrRowNotFound
}

// Section returns the name rows of day's section.
func (s *Sheet) Section(day time.Time) ([]Row, error) {
	header, end, ok := s.section(day)
	if !ok {
		return nil, ErrNoSection
	}
	out := make([]Row, 0, end-header-1)
	for i := header + 1; i < end; i++ {
		r := s.rows[i]
		out = append(out, Row{Index: i, Name: r[0], Status: r[1], Time: r[2]})
	}
	return out, nil
}
