package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/render"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/cenkalti/backoff/v4"
)

var log = event.Log

// Archive stores the annotated confirmation photo.
type Archive interface {
	Save(ctx context.Context, day time.Time, name string, img image.Image) (string, error)
}

// Notifier is an optional extra side effect, such as an MQTT publish.
type Notifier interface {
	Notify(ctx context.Context, ev types.ConfirmedEvent) error
}

type Config struct {
	Workers        int
	QueueSize      int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int
}

func DefaultConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      16,
		AttemptTimeout: 10 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		MaxRetries:     5,
	}
}

// Stats counts events by outcome. An event succeeds only when every side effect did.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Dropped   int64 `json:"dropped"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Dispatcher runs the side effects of confirmed events off the frame loop. The queue is
// bounded: when it is full the oldest waiting event is dropped so Enqueue never blocks.
type Dispatcher struct {
	cfg       Config
	archive   Archive
	ledger    ledger.Ledger
	notifiers []Notifier

	mu      sync.Mutex
	queue   chan types.ConfirmedEvent
	closed  bool
	started bool
	wg      sync.WaitGroup

	enqueued  atomic.Int64
	dropped   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func New(cfg Config, archive Archive, l ledger.Ledger, notifiers ...Notifier) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Dispatcher{
		cfg:       cfg,
		archive:   archive,
		ledger:    l,
		notifiers: notifiers,
		queue:     make(chan types.ConfirmedEvent, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startLocked()
}

func (d *Dispatcher) startLocked() {
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue hands an event to the workers without blocking. It returns false once the
// dispatcher is closed.
func (d *Dispatcher) Enqueue(ev types.ConfirmedEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	for {
		select {
		case d.queue <- ev:
			d.enqueued.Add(1)
			return true
		default:
		}

		select {
		case old := <-d.queue:
			d.dropped.Add(1)
			log.Warnf("dispatch: queue full, dropped pending event for %s", old.Name)
		default:
		}
	}
}

// Close stops accepting events and waits for queued and in-flight work to finish or
// for ctx to expire. Work still running after ctx expires keeps going in the background.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
		d.startLocked()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: %d events still pending: %w", len(d.queue), ctx.Err())
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Dropped:   d.dropped.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Pending:   len(d.queue),
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		if d.handle(ev) {
			d.succeeded.Add(1)
		} else {
			d.failed.Add(1)
		}
	}
}

// handle runs every side effect of ev concurrently and reports whether all succeeded.
// Failures are logged here and never propagate.
func (d *Dispatcher) handle(ev types.ConfirmedEvent) bool {
	var wg sync.WaitGroup
	var failed atomic.Bool

	run := func(what string, op func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.retry(ev, what, op); err != nil {
				failed.Store(true)
				log.Errorf("dispatch: %s for %s on %s failed: %v", what, ev.Name, ev.Day.Format(ledger.DateLayout), err)
			}
		}()
	}

	if d.archive != nil {
		img, err := snapshot(ev)
		if err != nil {
			failed.Store(true)
			log.Errorf("dispatch: photo for %s skipped: %v", ev.Name, err)
		} else {
			run("photo", func(ctx context.Context) error {
				path, err := d.archive.Save(ctx, ev.Day, ev.Name, img)
				if err == nil {
					log.Infof("dispatch: photo of %s saved to %s", ev.Name, path)
				}
				return err
			})
		}
	}

	if d.ledger != nil {
		run("ledger", func(ctx context.Context) error {
			err := d.ledger.MarkPresent(ctx, ev.Day, ev.Name, ev.At)
			if errors.Is(err, ledger.ErrRowNotFound) {
				return backoff.Permanent(err)
			}
			if err == nil {
				log.Infof("dispatch: %s marked present", ev.Name)
			}
			return err
		})
	}

	for _, n := range d.notifiers {
		run("notify", func(ctx context.Context) error { return n.Notify(ctx, ev) })
	}

	wg.Wait()
	return !failed.Load()
}

// retry runs op with a fresh timeout per attempt and exponential backoff between attempts.
// The context is detached from the caller so a stopped frame loop does not cut work short.
func (d *Dispatcher) retry(ev types.ConfirmedEvent, what string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	attempt := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.AttemptTimeout)
		defer cancel()
		return op(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("dispatch: %s for %s failed, retrying in %s: %v", what, ev.Name, wait.Round(time.Millisecond), err)
	}
	return backoff.RetryNotify(attempt, backoff.WithMaxRetries(b, uint64(d.cfg.MaxRetries)), notify)
}

// snapshot decodes the event frame and draws the confirmed box and name on it.
func snapshot(ev types.ConfirmedEvent) (image.Image, error) {
	if len(ev.Snapshot) == 0 {
		return nil, errors.New("event carries no frame")
	}
	img, err := jpeg.Decode(bytes.NewReader(ev.Snapshot))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	dst := render.ToRGBA(img)
	render.Annotate(dst, []render.Overlay{{
		Rect:  render.RectOf(ev.Rect),
		Label: ev.Name,
		Color: render.KnownColor,
	}})
	return dst, nil
}
