package rollover

import (
	"context"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/tracker"
	"github.com/dustin/go-humanize/english"
)

var log = event.Log

// maxInterval keeps the day check at least once a minute whatever the config says.
const maxInterval = time.Minute

// Tracker is the part of the consensus tracker the controller drives.
type Tracker interface {
	CurrentDay() time.Time
	ResetDay(day time.Time)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Location *time.Location
	Now      func() time.Time
}

// Controller moves the tracker to a new day once the ledger has a section for it.
type Controller struct {
	mu      sync.Mutex
	tracker Tracker
	ledger  ledger.Ledger
	names   func() []string
	cfg     Config

	// unprimed is set while the tracker's current day has no section because Prime failed.
	unprimed bool
}

func New(t Tracker, l ledger.Ledger, names func() []string, cfg Config) *Controller {
	if cfg.Interval <= 0 || cfg.Interval > maxInterval {
		cfg.Interval = maxInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if names == nil {
		names = func() []string { return nil }
	}
	return &Controller{tracker: t, ledger: l, names: names, cfg: cfg}
}

// CheckRollover compares the calendar day of now with the tracker's day. On a change it
// archives the new day's section and only then resets the tracker, so a failed write
// leaves yesterday's confirmations in place and the next check tries again.
func (c *Controller) CheckRollover(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := tracker.DayOf(now, c.cfg.Location)
	if today.Equal(c.tracker.CurrentDay()) {
		if c.unprimed {
			c.retryPrime(ctx, today)
		}
		return false
	}

	names := c.names()
	if err := c.archive(ctx, today, names); err != nil {
		log.Errorf("rollover: section for %s not written, will retry: %v", today.Format(ledger.DateLayout), err)
		return false
	}

	c.tracker.ResetDay(today)
	c.unprimed = false
	log.Infof("rollover: started %s with %s", today.Format(ledger.DateLayout), english.Plural(len(names), "name", ""))
	return true
}

// Prime makes sure the tracker's current day already has a section. It is called once
// when a session starts and is not a rollover. If it fails, every later check retries
// the write until it lands.
func (c *Controller) Prime(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.archive(ctx, c.tracker.CurrentDay(), c.names())
	c.unprimed = err != nil
	return err
}

func (c *Controller) retryPrime(ctx context.Context, day time.Time) {
	if err := c.archive(ctx, day, c.names()); err != nil {
		log.Errorf("rollover: section for %s still not written, will retry: %v", day.Format(ledger.DateLayout), err)
		return
	}
	c.unprimed = false
	log.Infof("rollover: section for %s written", day.Format(ledger.DateLayout))
}

func (c *Controller) archive(ctx context.Context, day time.Time, names []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.ledger.ArchiveSection(ctx, day, names)
}

// Run checks immediately and then on every tick until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.CheckRollover(ctx, c.cfg.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckRollover(ctx, c.cfg.Now())
		}
	}
}
