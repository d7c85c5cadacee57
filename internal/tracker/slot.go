package tracker

import "github.com/andresmejia3/rollcall/internal/types"

// Slot is one physical face region followed across frames.
type Slot struct {
	Handle        Handle
	Key           types.Rect // quantized location used by the correlator
	Rect          types.Rect // last raw detection box
	CurrentName   string
	ConfirmCount  int
	DisplayName   string
	DisplayCount  int
	LastSeenFrame int
	LastDistance  float64
	// Fired is set once the slot has passed the action threshold. It survives name changes
	// and is only cleared by a day reset.
	Fired bool
}

// SlotView is a copy of a slot's state safe to hand out of the tracker lock.
type SlotView struct {
	Handle        Handle     `json:"handle"`
	Rect          types.Rect `json:"rect"`
	Key           types.Rect `json:"key"`
	CurrentName   string     `json:"current_name"`
	DisplayName   string     `json:"display_name,omitempty"`
	ConfirmCount  int        `json:"confirm_count"`
	DisplayCount  int        `json:"display_count"`
	LastSeenFrame int        `json:"last_seen_frame"`
	Distance      float64    `json:"distance"`
	Fired         bool       `json:"fired"`
}

func newSlot(h Handle, key types.Rect) *Slot {
	return &Slot{Handle: h, Key: key, CurrentName: types.Unknown}
}

// observe applies one detection to the slot's counters.
func (s *Slot) observe(name string, distance float64, frame int, cfg Config) {
	s.LastSeenFrame = frame

	switch {
	case name == types.Unknown || name == "":
		s.ConfirmCount = max(0, s.ConfirmCount-cfg.DecayStep)
		s.DisplayCount = max(0, s.DisplayCount-cfg.DecayStep)
	case name == s.CurrentName:
		s.ConfirmCount = min(s.ConfirmCount+1, cfg.ActionThreshold)
		s.DisplayCount = min(s.DisplayCount+1, max(cfg.DisplayThreshold, cfg.ActionThreshold))
		s.LastDistance = distance
	default:
		s.CurrentName = name
		s.ConfirmCount = 1
		s.DisplayCount = 1
		s.DisplayName = ""
		s.LastDistance = distance
	}

	if s.DisplayCount >= cfg.DisplayThreshold {
		s.DisplayName = s.CurrentName
	} else {
		s.DisplayName = ""
	}
}

func (s *Slot) view() SlotView {
	return SlotView{
		Handle:        s.Handle,
		Rect:          s.Rect,
		Key:           s.Key,
		CurrentName:   s.CurrentName,
		DisplayName:   s.DisplayName,
		ConfirmCount:  s.ConfirmCount,
		DisplayCount:  s.DisplayCount,
		LastSeenFrame: s.LastSeenFrame,
		Distance:      s.LastDistance,
		Fired:         s.Fired,
	}
}
