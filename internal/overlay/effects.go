package overlay

import "time"

// Effect is a side effect requested by the pure transition and playback
// state machines. The Engine executes them in order.
type Effect interface{ isEffect() }

type Attach struct{ Handle *Handle }

type Detach struct{ Handle *Handle }

type SetOpacity struct {
	Handle  *Handle
	Opacity float64
}

// ScheduleLoadTimeout arms the "assume ready" timer for Handle.
type ScheduleLoadTimeout struct{ Handle *Handle }

type CancelLoadTimeout struct{}

// RequestFrame asks for the next animation-frame callback.
type RequestFrame struct{}

type CancelFrame struct{}

// Promote records that Handle became the visible layer.
type Promote struct{ Handle *Handle }

// Evict runs the cache eviction pass against the current/next handles.
type Evict struct{}

// Preload warms the frames following the playback index.
type Preload struct{}

// Report surfaces Err in the user-visible error slot.
type Report struct{ Err error }

// ScheduleTick arms the playback interval.
type ScheduleTick struct{ After time.Duration }

type CancelTick struct{}

// ShowFrame requests a transition to the frame at Index.
type ShowFrame struct{ Index int }

func (Attach) isEffect()              {}
func (Detach) isEffect()              {}
func (SetOpacity) isEffect()          {}
func (ScheduleLoadTimeout) isEffect() {}
func (CancelLoadTimeout) isEffect()   {}
func (RequestFrame) isEffect()        {}
func (CancelFrame) isEffect()         {}
func (Promote) isEffect()             {}
func (Evict) isEffect()               {}
func (Preload) isEffect()             {}
func (Report) isEffect()              {}
func (ScheduleTick) isEffect()        {}
func (CancelTick) isEffect()          {}
func (ShowFrame) isEffect()           {}
