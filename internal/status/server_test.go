package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/dispatch"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	day   time.Time
	views []tracker.SlotView
	names []string
}

func (f *fakeTracker) Snapshot() []tracker.SlotView { return f.views }
func (f *fakeTracker) CurrentDay() time.Time        { return f.day }
func (f *fakeTracker) ConfirmedToday() []string     { return f.names }

type fakeDispatcher struct{ stats dispatch.Stats }

func (f fakeDispatcher) Stats() dispatch.Stats { return f.stats }

func newTestServer(t *testing.T, withOptional bool) (*Server, time.Time) {
	t.Helper()
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	tr := &fakeTracker{
		day:   day,
		names: []string{"Alice"},
		views: []tracker.SlotView{{Handle: 1, CurrentName: "Alice", DisplayName: "Alice", ConfirmCount: 8}},
	}
	src := Sources{Tracker: tr, Location: time.UTC}
	if withOptional {
		l := ledger.NewMemory(ledger.DefaultGap)
		require.NoError(t, l.ArchiveSection(context.Background(), day, []string{"Alice", "Bob"}))
		require.NoError(t, l.MarkPresent(context.Background(), day, "Alice", day.Add(9*time.Hour)))
		src.Ledger = l
		src.Dispatcher = fakeDispatcher{stats: dispatch.Stats{Enqueued: 3, Succeeded: 2, Pending: 1}}
	}
	return NewServer(":0", src), day
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := get(t, s, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSlotsAndToday(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := get(t, s, "/api/v1/slots")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []tracker.SlotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Alice", views[0].DisplayName)

	rec = get(t, s, "/api/v1/today")
	require.Equal(t, http.StatusOK, rec.Code)
	var today struct {
		Day       string   `json:"day"`
		Confirmed []string `json:"confirmed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &today))
	assert.Equal(t, "2024-05-06", today.Day)
	assert.Equal(t, []string{"Alice"}, today.Confirmed)
}

func TestOptionalSourcesMissing(t *testing.T) {
	s, _ := newTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/dispatch").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/ledger/2024-05-06").Code)
}

func TestDispatchStats(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := get(t, s, "/api/v1/dispatch")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats dispatch.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats.Enqueued)
	assert.Equal(t, 1, stats.Pending)
}

func TestLedgerSection(t *testing.T) {
	s, _ := newTestServer(t, true)

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/ledger/2024-05-06", http.StatusOK},
		{"/api/v1/ledger/2024-05-07", http.StatusNotFound},
		{"/api/v1/ledger/yesterday", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.code, get(t, s, tt.path).Code)
		})
	}

	var rows []ledger.Row
	require.NoError(t, json.Unmarshal(get(t, s, "/api/v1/ledger/2024-05-06").Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Alice", rows[0].Name)
	assert.Equal(t, ledger.StatusPresent, rows[0].Status)
	assert.Equal(t, "", rows[1].Status)
}
