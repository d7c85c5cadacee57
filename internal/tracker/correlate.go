package tracker

import (
	"math"
	"sort"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Handle identifies a slot in the tracker arena. Handles are never reused.
type Handle int

// NoSlot marks a detection that did not correlate with any existing slot.
const NoSlot Handle = 0

// Candidate is an existing slot offered to the correlator.
type Candidate struct {
	Handle Handle
	Key    types.Rect
}

// Quantize rounds every coordinate of r to the nearest multiple of q.
func Quantize(r types.Rect, q int) types.Rect {
	if q <= 1 {
		return r
	}
	return types.Rect{
		Top:    roundTo(r.Top, q),
		Right:  roundTo(r.Right, q),
		Bottom: roundTo(r.Bottom, q),
		Left:   roundTo(r.Left, q),
	}
}

func roundTo(v, q int) int {
	return int(math.Round(float64(v)/float64(q))) * q
}

// keyDistance is the largest absolute coordinate difference between two keys.
func keyDistance(a, b types.Rect) int {
	return max(abs(a.Top-b.Top), abs(a.Right-b.Right), abs(a.Bottom-b.Bottom), abs(a.Left-b.Left))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type pair struct {
	det  int
	slot int
	dist int
}

// Correlate assigns each detection key to at most one slot and each slot to at most one
// detection. Pairs within tolerance are taken greedily by ascending distance, ties broken by
// detection order and then by handle. The result is parallel to keys; NoSlot means the
// detection needs a new slot.
func Correlate(keys []types.Rect, slots []Candidate, tolerance int) []Handle {
	out := make([]Handle, len(keys))
	if len(keys) == 0 || len(slots) == 0 {
		return out
	}

	pairs := make([]pair, 0, len(keys)*len(slots))
	for i, k := range keys {
		for j, s := range slots {
			if d := keyDistance(k, s.Key); d <= tolerance {
				pairs = append(pairs, pair{det: i, slot: j, dist: d})
			}
		}
	}

	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.dist != pb.dist {
			return pa.dist < pb.dist
		}
		if pa.det != pb.det {
			return pa.det < pb.det
		}
		return slots[pa.slot].Handle < slots[pb.slot].Handle
	})

	usedSlot := make([]bool, len(slots))
	for _, p := range pairs {
		if out[p.det] != NoSlot || usedSlot[p.slot] {
			continue
		}
		out[p.det] = slots[p.slot].Handle
		usedSlot[p.slot] = true
	}
	return out
}
