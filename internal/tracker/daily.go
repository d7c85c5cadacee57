package tracker

import (
	"sort"
	"time"
)

// DailyState holds the set of names already fired on CurrentDay.
type DailyState struct {
	CurrentDay     time.Time
	ConfirmedToday map[string]struct{}
}

func newDailyState(day time.Time) DailyState {
	return DailyState{CurrentDay: day, ConfirmedToday: make(map[string]struct{})}
}

// add records name and reports whether it was new for the day.
func (d *DailyState) add(name string) bool {
	if _, ok := d.ConfirmedToday[name]; ok {
		return false
	}
	d.ConfirmedToday[name] = struct{}{}
	return true
}

func (d *DailyState) names() []string {
	out := make([]string, 0, len(d.ConfirmedToday))
	for name := range d.ConfirmedToday {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DayOf truncates t to midnight in loc. A nil loc uses t's own location.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
