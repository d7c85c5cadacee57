package tracker

import (
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/stretchr/testify/assert"
)

func square(v int) types.Rect {
	return types.Rect{Top: v, Right: v, Bottom: v, Left: v}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		name string
		in   types.Rect
		q    int
		want types.Rect
	}{
		{"rounds to nearest", types.Rect{Top: 12, Right: 47, Bottom: 95, Left: 3}, 10, types.Rect{Top: 10, Right: 50, Bottom: 100, Left: 0}},
		{"negative", square(-14), 10, square(-10)},
		{"identity for q=1", types.Rect{Top: 1, Right: 2, Bottom: 3, Left: 4}, 1, types.Rect{Top: 1, Right: 2, Bottom: 3, Left: 4}},
		{"absorbs jitter", types.Rect{Top: 51, Right: 99, Bottom: 149, Left: 2}, 10, types.Rect{Top: 50, Right: 100, Bottom: 150, Left: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Quantize(tt.in, tt.q))
		})
	}
}

func TestCorrelate(t *testing.T) {
	tests := []struct {
		name  string
		keys  []types.Rect
		slots []Candidate
		tol   int
		want  []Handle
	}{
		{
			name:  "no slots",
			keys:  []types.Rect{square(0)},
			slots: nil,
			tol:   20,
			want:  []Handle{NoSlot},
		},
		{
			name:  "exact match",
			keys:  []types.Rect{square(0)},
			slots: []Candidate{{Handle: 1, Key: square(0)}},
			tol:   20,
			want:  []Handle{1},
		},
		{
			name:  "beyond tolerance",
			keys:  []types.Rect{square(0)},
			slots: []Candidate{{Handle: 1, Key: square(30)}},
			tol:   20,
			want:  []Handle{NoSlot},
		},
		{
			// detection 0 is equally close to both slots; the closer pair (1, A) is taken
			// first so detection 0 falls through to B instead of stealing A.
			name:  "greedy by ascending distance",
			keys:  []types.Rect{square(10), square(0)},
			slots: []Candidate{{Handle: 1, Key: square(0)}, {Handle: 2, Key: square(20)}},
			tol:   20,
			want:  []Handle{2, 1},
		},
		{
			name:  "two detections never share a slot",
			keys:  []types.Rect{square(10), square(-10)},
			slots: []Candidate{{Handle: 1, Key: square(0)}},
			tol:   20,
			want:  []Handle{1, NoSlot},
		},
		{
			name:  "equal distance prefers lower handle",
			keys:  []types.Rect{square(10)},
			slots: []Candidate{{Handle: 2, Key: square(0)}, {Handle: 1, Key: square(20)}},
			tol:   20,
			want:  []Handle{1},
		},
		{
			name: "chebyshev distance uses the largest coordinate gap",
			keys: []types.Rect{{Top: 0, Right: 30, Bottom: 0, Left: 0}},
			slots: []Candidate{
				{Handle: 1, Key: square(0)},
			},
			tol:  20,
			want: []Handle{NoSlot},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Correlate(tt.keys, tt.slots, tt.tol))
		})
	}
}
