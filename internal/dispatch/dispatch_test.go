package dispatch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

type fakeLedger struct {
	mu     sync.Mutex
	calls  int
	marked []string
	fail   func(call int) error
}

func (f *fakeLedger) ArchiveSection(context.Context, time.Time, []string) error { return nil }

func (f *fakeLedger) MarkPresent(ctx context.Context, day time.Time, name string, at time.Time) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.marked = append(f.marked, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeLedger) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.marked...)
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeArchive) Save(ctx context.Context, day time.Time, name string, img image.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, day.Format("2006-01-02")+"/"+name)
	return "/tmp/" + name + ".jpg", nil
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify(ctx context.Context, ev types.ConfirmedEvent) error {
	c.n.Add(1)
	return nil
}

func fastConfig() Config {
	return Config{
		Workers:        1,
		QueueSize:      4,
		AttemptTimeout: 50 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		MaxRetries:     5,
	}
}

func frameJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32)), nil))
	return buf.Bytes()
}

func confirmed(t *testing.T, name string) types.ConfirmedEvent {
	return types.ConfirmedEvent{
		Name:     name,
		Day:      today,
		At:       today.Add(9 * time.Hour),
		Rect:     types.Rect{Top: 4, Right: 20, Bottom: 24, Left: 2},
		Snapshot: frameJPEG(t),
	}
}

func closeNow(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatchRunsAllSideEffects(t *testing.T) {
	l := &fakeLedger{}
	a := &fakeArchive{}
	n := &countingNotifier{}
	d := New(fastConfig(), a, l, n)
	d.Start()

	require.True(t, d.Enqueue(confirmed(t, "Alice")))
	closeNow(t, d)

	_, marked := l.snapshot()
	assert.Equal(t, []string{"Alice"}, marked)
	assert.Equal(t, []string{"2024-03-04/Alice"}, a.saved)
	assert.EqualValues(t, 1, n.n.Load())

	stats := d.Stats()
	assert.EqualValues(t, 1, stats.Enqueued)
	assert.EqualValues(t, 1, stats.Succeeded)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestEnqueueDropsOldest(t *testing.T) {
	l := &fakeLedger{}
	cfg := fastConfig()
	cfg.QueueSize = 2
	d := New(cfg, nil, l)

	// not started yet, so the queue fills up
	assert.True(t, d.Enqueue(confirmed(t, "Alice")))
	assert.True(t, d.Enqueue(confirmed(t, "Bob")))
	assert.True(t, d.Enqueue(confirmed(t, "Carol")))
	assert.EqualValues(t, 1, d.Stats().Dropped)
	assert.Equal(t, 2, d.Stats().Pending)

	d.Start()
	closeNow(t, d)

	_, marked := l.snapshot()
	assert.Equal(t, []string{"Bob", "Carol"}, marked)
}

func TestEnqueueAfterClose(t *testing.T) {
	d := New(fastConfig(), nil, &fakeLedger{})
	closeNow(t, d)
	assert.False(t, d.Enqueue(confirmed(t, "Alice")))
}

func TestCloseDrainsWithoutStart(t *testing.T) {
	l := &fakeLedger{}
	d := New(fastConfig(), nil, l)
	d.Enqueue(confirmed(t, "Alice"))
	d.Enqueue(confirmed(t, "Bob"))
	closeNow(t, d)

	_, marked := l.snapshot()
	assert.Equal(t, []string{"Alice", "Bob"}, marked)
}

func TestRetryTransientFailure(t *testing.T) {
	l := &fakeLedger{fail: func(call int) error {
		if call <= 2 {
			return errors.New("sheet unavailable")
		}
		return nil
	}}
	d := New(fastConfig(), nil, l)
	d.Start()
	d.Enqueue(confirmed(t, "Alice"))
	closeNow(t, d)

	calls, marked := l.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"Alice"}, marked)
	assert.EqualValues(t, 1, d.Stats().Succeeded)
}

func TestRetryNoSectionYet(t *testing.T) {
	l := &fakeLedger{fail: func(call int) error {
		if call == 1 {
			return ledger.ErrNoSection
		}
		return nil
	}}
	d := New(fastConfig(), nil, l)
	d.Start()
	d.Enqueue(confirmed(t, "Alice"))
	closeNow(t, d)

	calls, _ := l.snapshot()
	assert.Equal(t, 2, calls)
}

func TestPermanentFailureNotRetried(t *testing.T) {
	l := &fakeLedger{fail: func(int) error {
		return ledger.ErrRowNotFound
	}}
	d := New(fastConfig(), nil, l)
	d.Start()
	d.Enqueue(confirmed(t, "Mallory"))
	closeNow(t, d)

	calls, _ := l.snapshot()
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1, d.Stats().Failed)
}

func TestRetriesAreBounded(t *testing.T) {
	l := &fakeLedger{fail: func(int) error {
		return errors.New("still down")
	}}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	d := New(cfg, nil, l)
	d.Start()
	d.Enqueue(confirmed(t, "Alice"))
	closeNow(t, d)

	calls, _ := l.snapshot()
	assert.Equal(t, 3, calls)
	assert.EqualValues(t, 1, d.Stats().Failed)
}

type hangingLedger struct {
	fakeLedger
}

func (h *hangingLedger) MarkPresent(ctx context.Context, day time.Time, name string, at time.Time) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestAttemptTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.AttemptTimeout = 10 * time.Millisecond
	d := New(cfg, nil, &hangingLedger{})
	d.Start()
	d.Enqueue(confirmed(t, "Alice"))
	closeNow(t, d)

	assert.EqualValues(t, 1, d.Stats().Failed)
}

func TestPhotoFailureDoesNotBlockLedger(t *testing.T) {
	l := &fakeLedger{}
	a := &fakeArchive{}
	d := New(fastConfig(), a, l)
	d.Start()

	ev := confirmed(t, "Alice")
	ev.Snapshot = []byte("garbage")
	d.Enqueue(ev)
	closeNow(t, d)

	_, marked := l.snapshot()
	assert.Equal(t, []string{"Alice"}, marked)
	assert.Empty(t, a.saved)
	assert.EqualValues(t, 1, d.Stats().Failed)
}
