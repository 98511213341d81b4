package overlay

import (
	"errors"
	"fmt"
	"math"
)

// ErrTileLoad is reported when the tiles of an incoming layer fail to load.
var ErrTileLoad = errors.New("failed to load weather tiles")

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseFading  Phase = "fading"
)

// Outcome of a Begin request.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeRejected  Outcome = "rejected"
	OutcomeUnchanged Outcome = "unchanged"
)

// opacityEpsilon absorbs float drift when stepping toward zero.
const opacityEpsilon = 1e-9

// Transition is the crossfade state machine. Every method is pure: it
// returns the next state plus the effects to run, and never touches the
// handles it references.
type Transition struct {
	Phase   Phase
	Current *Handle
	Next    *Handle
	Target  float64 // display opacity
	Step    float64 // fraction of Target moved per animation tick

	currentOpacity float64
	nextOpacity    float64
}

func NewTransition(step float64) Transition {
	return Transition{Phase: PhaseIdle, Step: step}
}

// InFlight reports whether a transition is loading or fading.
func (t Transition) InFlight() bool {
	return t.Phase != PhaseIdle
}

// Begin starts a crossfade to next. It is rejected while another
// transition is in flight; requests are never queued.
func (t Transition) Begin(next *Handle, target float64) (Transition, []Effect, Outcome) {
	if t.InFlight() || next == nil {
		return t, nil, OutcomeRejected
	}

	var effects []Effect
	if t.Next != nil && t.Next != next {
		effects = append(effects, Detach{Handle: t.Next})
		t.Next = nil
	}

	t.Target = target
	if next == t.Current {
		return t, append(effects, SetOpacity{Handle: next, Opacity: target}), OutcomeUnchanged
	}

	t.Phase = PhaseLoading
	t.Next = next
	effects = append(effects,
		SetOpacity{Handle: next, Opacity: 0},
		Attach{Handle: next},
		ScheduleLoadTimeout{Handle: next},
	)
	return t, effects, OutcomeStarted
}

// Loaded settles the load wait after the surface reported h complete.
// Reports for any other handle, or after the wait settled, are ignored.
func (t Transition) Loaded(h *Handle) (Transition, []Effect) {
	if t.Phase != PhaseLoading || h != t.Next {
		return t, nil
	}
	t, effects := t.ready()
	return t, append([]Effect{CancelLoadTimeout{}}, effects...)
}

// TimedOut settles the load wait optimistically once the timeout for h fired.
func (t Transition) TimedOut(h *Handle) (Transition, []Effect) {
	if t.Phase != PhaseLoading || h != t.Next {
		return t, nil
	}
	return t.ready()
}

func (t Transition) ready() (Transition, []Effect) {
	if t.Current == nil {
		next := t.Next
		t.Current, t.Next, t.Phase = next, nil, PhaseIdle
		return t, []Effect{
			SetOpacity{Handle: next, Opacity: t.Target},
			Promote{Handle: next},
			Evict{},
			Preload{},
		}
	}

	t.Phase = PhaseFading
	t.currentOpacity = t.Current.Opacity()
	t.nextOpacity = 0
	return t, []Effect{RequestFrame{}}
}

// Fail aborts the transition after the surface reported a load error for h.
// The failed layer is detached and the visible one is left untouched.
func (t Transition) Fail(h *Handle, err error) (Transition, []Effect) {
	if t.Phase != PhaseLoading || h != t.Next {
		return t, nil
	}
	next := t.Next
	t.Next, t.Phase = nil, PhaseIdle
	return t, []Effect{
		CancelLoadTimeout{},
		Detach{Handle: next},
		Evict{},
		Report{Err: fmt.Errorf("%w: %v", ErrTileLoad, err)},
	}
}

// Tick runs one crossfade step. When the old layer reaches zero it is
// detached and the new one promoted; eviction always follows promotion.
func (t Transition) Tick() (Transition, []Effect) {
	if t.Phase != PhaseFading {
		return t, nil
	}

	step := t.Step * t.Target
	if step <= 0 {
		step = t.Step
	}
	if step <= 0 {
		step = 1
	}

	t.currentOpacity = math.Max(0, t.currentOpacity-step)
	if t.currentOpacity < opacityEpsilon {
		t.currentOpacity = 0
	}
	t.nextOpacity = math.Min(t.Target, t.nextOpacity+step)

	effects := []Effect{
		SetOpacity{Handle: t.Current, Opacity: t.currentOpacity},
		SetOpacity{Handle: t.Next, Opacity: t.nextOpacity},
	}
	if t.currentOpacity > 0 {
		return t, append(effects, RequestFrame{})
	}

	old, next := t.Current, t.Next
	if t.nextOpacity < t.Target {
		effects = append(effects, SetOpacity{Handle: next, Opacity: t.Target})
	}
	t.Current, t.Next, t.Phase = next, nil, PhaseIdle
	return t, append(effects, Detach{Handle: old}, Promote{Handle: next}, Evict{}, Preload{})
}

// Retarget changes the display opacity. An idle visible layer is updated
// immediately; a running fade caps the incoming layer at the new target.
func (t Transition) Retarget(target float64) (Transition, []Effect) {
	t.Target = target
	switch {
	case t.Phase == PhaseIdle && t.Current != nil:
		return t, []Effect{SetOpacity{Handle: t.Current, Opacity: target}}
	case t.Phase == PhaseFading && t.nextOpacity > target:
		t.nextOpacity = target
		return t, []Effect{SetOpacity{Handle: t.Next, Opacity: target}}
	}
	return t, nil
}

// Abort is the hard stop: pending callbacks are cancelled and both layers
// detached without fading.
func (t Transition) Abort() (Transition, []Effect) {
	var effects []Effect
	switch t.Phase {
	case PhaseLoading:
		effects = append(effects, CancelLoadTimeout{})
	case PhaseFading:
		effects = append(effects, CancelFrame{})
	}
	if t.Next != nil {
		effects = append(effects, Detach{Handle: t.Next})
	}
	if t.Current != nil {
		effects = append(effects, Detach{Handle: t.Current})
	}
	return Transition{Phase: PhaseIdle, Step: t.Step, Target: t.Target}, effects
}
