package overlay

import (
	"errors"
	"fmt"
	"time"
)

// ErrFrameOutOfRange is returned when a jump targets a missing frame.
var ErrFrameOutOfRange = errors.New("frame index out of range")

type Mode string

const (
	ModeForward Mode = "forward"
	ModeBounce  Mode = "bounce"
)

const maxSpeed = 3

// Playback is the animation state. Like Transition, its methods are pure.
type Playback struct {
	Index     int
	Playing   bool
	Speed     int // 1, 2 or 3
	Mode      Mode
	Direction int // +1 or -1, only used in bounce mode

	// Interval is the tick interval at speed 1.
	Interval time.Duration
}

func NewPlayback(interval time.Duration) Playback {
	return Playback{
		Speed:     1,
		Mode:      ModeForward,
		Direction: 1,
		Interval:  interval,
	}
}

// TickInterval is the base interval divided by the speed multiplier.
func (p Playback) TickInterval() time.Duration {
	speed := p.Speed
	if speed < 1 {
		speed = 1
	}
	return p.Interval / time.Duration(speed)
}

// Play starts the interval. No-op on an empty sequence.
func (p Playback) Play(n int) (Playback, []Effect) {
	if p.Playing || n == 0 {
		return p, nil
	}
	p.Playing = true
	return p, []Effect{ScheduleTick{After: p.TickInterval()}}
}

func (p Playback) Pause() (Playback, []Effect) {
	if !p.Playing {
		return p, nil
	}
	p.Playing = false
	return p, []Effect{CancelTick{}}
}

// Tick handles one interval tick. A tick that lands while a transition is
// in flight is skipped; nothing is queued for later.
func (p Playback) Tick(n int, inFlight bool) (Playback, []Effect) {
	if !p.Playing {
		return p, nil
	}
	if n == 0 {
		p.Playing = false
		return p, nil
	}
	next := ScheduleTick{After: p.TickInterval()}
	if inFlight {
		return p, []Effect{next}
	}
	p = p.Advance(n)
	return p, []Effect{next, ShowFrame{Index: p.Index}}
}

// Advance computes the index shown on the next tick. Bounce mode reverses
// at the endpoints without showing an endpoint twice in a row.
func (p Playback) Advance(n int) Playback {
	if n <= 1 {
		p.Index = 0
		return p
	}
	if p.Mode != ModeBounce {
		p.Index = (p.Index + 1) % n
		return p
	}

	if p.Direction == 0 {
		p.Direction = 1
	}
	next := p.Index + p.Direction
	switch {
	case next > n-1:
		p.Direction = -1
		next = n - 2
	case next < 0:
		p.Direction = 1
		next = 1
	}
	switch next {
	case n - 1:
		p.Direction = -1
	case 0:
		p.Direction = 1
	}
	p.Index = next
	return p
}

// Step moves the index by delta, wrapping around the sequence.
func (p Playback) Step(delta, n int) Playback {
	if n == 0 {
		return p
	}
	p.Index = ((p.Index+delta)%n + n) % n
	return p
}

func (p Playback) Jump(index, n int) (Playback, error) {
	if index < 0 || index >= n {
		return p, fmt.Errorf("%w: %d not in [0, %d)", ErrFrameOutOfRange, index, n)
	}
	p.Index = index
	return p, nil
}

// CycleSpeed goes 1 -> 2 -> 3 -> 1 and re-arms a running interval.
func (p Playback) CycleSpeed() (Playback, []Effect) {
	p.Speed = p.Speed%maxSpeed + 1
	if !p.Playing {
		return p, nil
	}
	return p, []Effect{CancelTick{}, ScheduleTick{After: p.TickInterval()}}
}

// ToggleMode flips forward/bounce and resets the bounce direction.
func (p Playback) ToggleMode() Playback {
	if p.Mode == ModeBounce {
		p.Mode = ModeForward
	} else {
		p.Mode = ModeBounce
	}
	p.Direction = 1
	return p
}

// Clamp keeps the index valid for a sequence of length n.
func (p Playback) Clamp(n int) Playback {
	switch {
	case n == 0 || p.Index < 0:
		p.Index = 0
	case p.Index >= n:
		p.Index = n - 1
	}
	return p
}

// Latest points the index at the most recent frame.
func (p Playback) Latest(n int) Playback {
	p.Index = n - 1
	return p.Clamp(n)
}
