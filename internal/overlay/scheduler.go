package overlay

import "time"

// Cancel stops a pending callback. Calling it after the callback ran, or
// more than once, is a no-op.
type Cancel func()

// Scheduler delivers timer and animation-frame callbacks on the engine's
// goroutine. NextFrame fires once per rendered frame, so fade speed follows
// the frame rate rather than a fixed timer.
type Scheduler interface {
	After(d time.Duration, fn func()) Cancel
	NextFrame(fn func()) Cancel
}
