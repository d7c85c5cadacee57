package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/andresmejia3/rollcall/internal/event"
)

var log = event.Log

var (
	// ErrNoSection means the day's section has not been archived yet. Callers may retry.
	ErrNoSection = errors.New("no ledger section for day")
	// ErrRowNotFound means the section exists but has no row for the name.
	ErrRowNotFound = errors.New("name not found in ledger section")
)

const (
	DateLayout    = "2006-01-02"
	TimeLayout    = "15:04:05"
	StatusHeader  = "Status"
	TimeHeader    = "Time"
	StatusPresent = "Present"
	// DefaultGap is the number of blank rows left between day sections.
	DefaultGap = 2
)

// Ledger is the attendance record written by the dispatcher and the rollover controller.
// Both operations are idempotent.
type Ledger interface {
	// ArchiveSection appends a dated block listing names with an empty status.
	ArchiveSection(ctx context.Context, day time.Time, names []string) error
	// MarkPresent sets the status of name within day's section.
	MarkPresent(ctx context.Context, day time.Time, name string, at time.Time) error
}

// Row is one name line of a day section.
type Row struct {
	Index  int    `json:"row"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Time   string `json:"time,omitempty"`
}

// Reader exposes a day section for display.
type Reader interface {
	Section(ctx context.Context, day time.Time) ([]Row, error)
}

// dedupe drops blank and repeated names, keeping first occurrence order.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
