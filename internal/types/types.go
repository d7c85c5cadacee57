package types

import (
	"time"

	"github.com/google/uuid"
)

// Unknown is the label used for faces that match no known identity.
const Unknown = "Unknown"

// FaceResult matches the JSON structure coming back from the Python worker
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec []float64 `json:"vec"` // face encoding, empty when the worker could not encode
}

// Rect returns the face location as a Rect. Malformed locations yield the zero Rect.
func (f FaceResult) Rect() Rect {
	if len(f.Loc) != 4 {
		return Rect{}
	}
	return Rect{Top: f.Loc[0], Right: f.Loc[1], Bottom: f.Loc[2], Left: f.Loc[3]}
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// Rect is a face bounding box in pixel coordinates.
type Rect struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Area returns the box area, or 0 for degenerate boxes.
func (r Rect) Area() int {
	w, h := r.Right-r.Left, r.Bottom-r.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// KnownIdentity is one enrolled descriptor. A person may own several.
type KnownIdentity struct {
	Name       string
	Descriptor []float64
}

// ConfirmedEvent is emitted once per person per day when a slot crosses the action threshold.
type ConfirmedEvent struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Day        time.Time `json:"day"`
	At         time.Time `json:"at"`
	FrameIndex int       `json:"frame"`
	Rect       Rect      `json:"rect"`
	Distance   float64   `json:"distance"`
	Snapshot   []byte    `json:"-"` // JPEG bytes of the confirming frame
}
