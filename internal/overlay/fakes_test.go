package overlay

import (
	"fmt"
	"time"

	"github.com/i474232898/radar-overlay/internal/weather"
)

type fakeSurface struct {
	attached map[string]bool
	opacity  map[string]float64
	warmed   []string
	attaches int
	detaches int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		attached: make(map[string]bool),
		opacity:  make(map[string]float64),
	}
}

func (s *fakeSurface) Attach(h *Handle) {
	s.attached[h.ID] = true
	s.opacity[h.ID] = h.Opacity()
	s.attaches++
}

func (s *fakeSurface) Detach(h *Handle) {
	delete(s.attached, h.ID)
	s.detaches++
}

func (s *fakeSurface) SetOpacity(h *Handle, v float64) { s.opacity[h.ID] = v }

func (s *fakeSurface) Warm(h *Handle) { s.warmed = append(s.warmed, h.Path) }

type fakeTimer struct {
	at        time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (t *fakeTimer) live() bool { return !t.cancelled && !t.fired }

// fakeScheduler is a manual clock. Timers due at the same instant fire in
// scheduling order.
type fakeScheduler struct {
	now    time.Duration
	timers []*fakeTimer
	frames []*fakeTimer
}

func (s *fakeScheduler) After(d time.Duration, fn func()) Cancel {
	t := &fakeTimer{at: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.cancelled = true }
}

func (s *fakeScheduler) NextFrame(fn func()) Cancel {
	t := &fakeTimer{fn: fn}
	s.frames = append(s.frames, t)
	return func() { t.cancelled = true }
}

// Advance moves the clock forward, firing due timers in order.
func (s *fakeScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		var next *fakeTimer
		for _, t := range s.timers {
			if t.live() && t.at <= target && (next == nil || t.at < next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		s.now = next.at
		next.fired = true
		next.fn()
	}
	s.now = target
}

// Frame runs the animation-frame callbacks requested so far.
func (s *fakeScheduler) Frame() bool {
	frames := s.frames
	s.frames = nil
	ran := false
	for _, f := range frames {
		if f.live() {
			f.fired = true
			f.fn()
			ran = true
		}
	}
	return ran
}

// Frames runs frames until none are requested and returns how many ran.
func (s *fakeScheduler) Frames(limit int) int {
	n := 0
	for n < limit && s.Frame() {
		n++
	}
	return n
}

func (s *fakeScheduler) Pending() int {
	n := 0
	for _, t := range append(append([]*fakeTimer{}, s.timers...), s.frames...) {
		if t.live() {
			n++
		}
	}
	return n
}

// testManifest has n radar frames with distinct base paths and two
// satellite frames, oldest first.
func testManifest(n int) weather.Manifest {
	m := weather.Manifest{Host: "https://tiles.example"}
	for i := 0; i < n; i++ {
		ts := int64(1700000000 + i*600)
		m.Radar = append(m.Radar, weather.RadarFrame(fmt.Sprintf("/v2/radar/%d", ts), ts))
	}
	for i := 0; i < 2; i++ {
		ts := int64(1700000000 + i*600)
		m.Satellite = append(m.Satellite, weather.SatelliteFrame(fmt.Sprintf("/v2/satellite/%d", ts), ts))
	}
	return m
}
