package tracker

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/google/uuid"
)

var log = event.Log

// Config holds the consensus thresholds.
type Config struct {
	DisplayThreshold int
	ActionThreshold  int
	TimeoutFrames    int
	Quantization     int
	Tolerance        int
	DecayStep        int
	// Location defines calendar days. Nil means time.Local.
	Location *time.Location
	// Now is used when a frame carries no timestamp. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DisplayThreshold: 3,
		ActionThreshold:  8,
		TimeoutFrames:    15,
		Quantization:     10,
		Tolerance:        20,
		DecayStep:        2,
	}
}

// Frame identifies the frame a batch of observations came from.
type Frame struct {
	Index int       // processed-frame counter, used for timeouts
	At    time.Time // capture time, used for the calendar day
	JPEG  []byte    // encoded frame, copied into confirmed events
}

// Observation is one matched detection.
type Observation struct {
	Rect     types.Rect
	Name     string
	Distance float64
}

// Sink receives confirmed events. Enqueue must not block.
type Sink interface {
	Enqueue(ev types.ConfirmedEvent) bool
}

// Tracker turns per-frame observations into debounced identity decisions.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	sink  Sink
	slots map[Handle]*Slot
	next  Handle
	daily DailyState
	fired int
}

// New creates a tracker whose current day is the day of cfg.Now().
func New(cfg Config, sink Sink) *Tracker {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:   cfg,
		sink:  sink,
		slots: make(map[Handle]*Slot),
		next:  NoSlot + 1,
		daily: newDailyState(DayOf(cfg.Now(), cfg.Location)),
	}
}

// Process applies one frame of observations and returns the state of every slot that
// received one, in observation order.
func (t *Tracker) Process(frame Frame, obs []Observation) []SlotView {
	t.mu.Lock()
	defer t.mu.Unlock()

	at := frame.At
	if at.IsZero() {
		at = t.cfg.Now()
	}

	keys := make([]types.Rect, len(obs))
	for i, o := range obs {
		keys[i] = Quantize(o.Rect, t.cfg.Quantization)
	}
	assigned := Correlate(keys, t.candidates(), t.cfg.Tolerance)

	views := make([]SlotView, len(obs))
	for i, o := range obs {
		s, ok := t.slots[assigned[i]]
		if !ok {
			s = t.alloc(keys[i])
		}
		s.Key = keys[i]
		s.Rect = o.Rect
		s.observe(o.Name, o.Distance, frame.Index, t.cfg)
		t.maybeFire(s, frame, at)
		views[i] = s.view()
	}

	t.evict(frame.Index)
	return views
}

// candidates lists live slots ordered by handle.
func (t *Tracker) candidates() []Candidate {
	out := make([]Candidate, 0, len(t.slots))
	for h, s := range t.slots {
		out = append(out, Candidate{Handle: h, Key: s.Key})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (t *Tracker) alloc(key types.Rect) *Slot {
	s := newSlot(t.next, key)
	t.slots[s.Handle] = s
	t.next++
	log.Debugf("tracker: slot %d opened at %+v", s.Handle, key)
	return s
}

func (t *Tracker) evict(frameIndex int) {
	for h, s := range t.slots {
		if frameIndex-s.LastSeenFrame > t.cfg.TimeoutFrames {
			log.Debugf("tracker: slot %d (%s) timed out", h, s.CurrentName)
			delete(t.slots, h)
		}
	}
}

func (t *Tracker) maybeFire(s *Slot, frame Frame, at time.Time) {
	if s.Fired || s.ConfirmCount < t.cfg.ActionThreshold || s.CurrentName == types.Unknown {
		return
	}

	day := DayOf(at, t.cfg.Location)
	if !day.Equal(t.daily.CurrentDay) {
		// rollover has not been applied yet; retry on a later frame
		log.Debugf("tracker: holding %s until %s is rolled over", s.CurrentName, day.Format(time.DateOnly))
		return
	}

	s.Fired = true
	if !t.daily.add(s.CurrentName) {
		log.Debugf("tracker: slot %d confirmed as %s, already recorded today", s.Handle, s.CurrentName)
		return
	}

	ev := types.ConfirmedEvent{
		ID:         uuid.New(),
		Name:       s.CurrentName,
		Day:        day,
		At:         at,
		FrameIndex: frame.Index,
		Rect:       s.Rect,
		Distance:   s.LastDistance,
		Snapshot:   bytes.Clone(frame.JPEG),
	}
	t.fired++
	log.Infof("tracker: slot %d confirmed as %s", s.Handle, s.CurrentName)

	if t.sink != nil && !t.sink.Enqueue(ev) {
		log.Warnf("tracker: side effects for %s were not queued", s.CurrentName)
	}
}

// Snapshot returns every live slot ordered by handle.
func (t *Tracker) Snapshot() []SlotView {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SlotView, 0, len(t.slots))
	for _, s := range t.slots {
		out = append(out, s.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// CurrentDay is the day confirmed names are currently recorded against.
func (t *Tracker) CurrentDay() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.daily.CurrentDay
}

// ResetDay starts a new day: the confirmed set is cleared and live slots may fire again.
// Resetting to the day already in force changes nothing.
func (t *Tracker) ResetDay(day time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.daily.CurrentDay
	next := DayOf(day, t.cfg.Location)
	if next.Equal(prev) {
		return
	}
	t.daily = newDailyState(next)
	for _, s := range t.slots {
		s.Fired = false
	}
	log.Infof("tracker: day reset from %s to %s", prev.Format(time.DateOnly), t.daily.CurrentDay.Format(time.DateOnly))
}

// IsConfirmedToday reports whether name has already fired on the current day.
func (t *Tracker) IsConfirmedToday(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.daily.ConfirmedToday[name]
	return ok
}

// ConfirmedToday returns the names fired on the current day, sorted.
func (t *Tracker) ConfirmedToday() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.daily.names()
}

// Fired counts events handed to the sink since the tracker was created.
func (t *Tracker) Fired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
