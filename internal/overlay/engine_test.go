package overlay

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/i474232898/radar-overlay/internal/metrics"
	"github.com/i474232898/radar-overlay/internal/weather"
)

type engineFixture struct {
	engine  *Engine
	surface *fakeSurface
	sched   *fakeScheduler
	m       weather.Manifest
}

func newEngineFixture(t *testing.T, frames int) *engineFixture {
	t.Helper()
	surf := newFakeSurface()
	sched := &fakeScheduler{}
	cfg := DefaultConfig()
	cfg.Host = "https://tiles.example"
	return &engineFixture{
		engine:  NewEngine(cfg, surf, sched, metrics.NewCollector(0)),
		surface: surf,
		sched:   sched,
		m:       testManifest(frames),
	}
}

func (f *engineFixture) path(i int) string {
	return f.m.Radar[i].Resolve(weather.SchemeOriginal)
}

// showLatest selects radar and lets the newest frame finish loading.
func (f *engineFixture) showLatest(t *testing.T) *Handle {
	t.Helper()
	f.engine.SelectFamily(weather.FamilyRadar)
	f.engine.SetManifest(f.m)

	next := f.engine.Transition().Next
	if next == nil || next.Path != f.path(len(f.m.Radar)-1) {
		t.Fatalf("expected latest frame loading, got %+v", f.engine.Transition())
	}
	f.engine.TileLoaded(next.ID)
	if f.engine.Transition().InFlight() || f.engine.Transition().Current != next {
		t.Fatalf("expected latest frame promoted, got %+v", f.engine.Transition())
	}
	return next
}

func TestFirstLayerPromotedOnLoad(t *testing.T) {
	f := newEngineFixture(t, 4)
	h := f.showLatest(t)

	if f.surface.opacity[h.ID] != 0.5 {
		t.Fatalf("expected display opacity 0.5, got %v", f.surface.opacity[h.ID])
	}
	if f.sched.Pending() != 0 || f.engine.Pending() != 0 {
		t.Fatalf("load timeout must be cancelled after load, pending=%d", f.sched.Pending())
	}
	if len(f.surface.warmed) != 2 {
		t.Fatalf("expected 2 preloaded frames, got %v", f.surface.warmed)
	}
	for _, p := range []string{f.path(0), f.path(1)} {
		if _, ok := f.engine.Cache().Lookup(p); !ok {
			t.Fatalf("expected %s preloaded", p)
		}
	}

	// A late timeout must not promote again.
	f.sched.Advance(time.Second)
	if f.engine.Transition().Current != h || len(f.surface.attached) != 1 {
		t.Fatalf("unexpected state after late timeout")
	}
}

func TestCrossfadeAfterLoadTimeout(t *testing.T) {
	f := newEngineFixture(t, 4)
	old := f.showLatest(t)

	f.engine.StepForward()
	next := f.engine.Transition().Next
	if next == nil || next.Path != f.path(0) {
		t.Fatalf("expected frame 0 loading")
	}
	if !f.surface.attached[old.ID] || !f.surface.attached[next.ID] {
		t.Fatalf("both layers must be attached while loading")
	}

	f.sched.Advance(300 * time.Millisecond)
	if f.engine.Transition().Phase != PhaseFading {
		t.Fatalf("expected fading after timeout, got %s", f.engine.Transition().Phase)
	}

	if n := f.sched.Frames(20); n != 4 {
		t.Fatalf("expected 4 fade steps at 25%%, got %d", n)
	}
	tr := f.engine.Transition()
	if tr.Phase != PhaseIdle || tr.Current != next {
		t.Fatalf("expected frame 0 promoted, got %+v", tr)
	}
	if f.surface.attached[old.ID] || len(f.surface.attached) != 1 {
		t.Fatalf("old layer must be detached, attached=%v", f.surface.attached)
	}
	if f.surface.opacity[next.ID] != 0.5 {
		t.Fatalf("expected 0.5, got %v", f.surface.opacity[next.ID])
	}
	if f.engine.Pending() != 0 {
		t.Fatalf("expected no pending callbacks, got %d", f.engine.Pending())
	}
}

func TestOverlappingTransitionRejected(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.engine.SelectFamily(weather.FamilyRadar)
	f.engine.SetManifest(f.m)

	if got := f.engine.BeginTransition(f.path(0)); got != OutcomeRejected {
		t.Fatalf("expected rejection, got %s", got)
	}
	if len(f.surface.attached) != 1 {
		t.Fatalf("rejected request must not attach anything")
	}
}

func TestBeginOnCurrentLayerIsUnchanged(t *testing.T) {
	f := newEngineFixture(t, 4)
	h := f.showLatest(t)

	if got := f.engine.BeginTransition(h.Path); got != OutcomeUnchanged {
		t.Fatalf("expected unchanged, got %s", got)
	}
	if h.Opacity() != 0.5 || f.engine.Transition().InFlight() {
		t.Fatalf("visible layer must keep its opacity, got %v", h.Opacity())
	}
}

func TestTileLoadFailure(t *testing.T) {
	f := newEngineFixture(t, 4)
	old := f.showLatest(t)

	f.engine.StepForward()
	next := f.engine.Transition().Next
	f.engine.TileFailed(next.ID, errors.New("status 404"))

	if got := f.engine.Snapshot().Error; got != msgTileLoadFailed {
		t.Fatalf("expected %q, got %q", msgTileLoadFailed, got)
	}
	if f.surface.attached[next.ID] || !f.surface.attached[old.ID] {
		t.Fatalf("failed layer must be detached and the visible one kept")
	}
	if f.engine.Cache().Len() != 1 || f.engine.Pending() != 0 {
		t.Fatalf("expected only the visible layer cached, got %d", f.engine.Cache().Len())
	}

	f.engine.StepForward()
	if f.engine.Snapshot().Error != "" {
		t.Fatalf("a new transition must clear the error")
	}
}

func TestPlaybackTickSkippedDuringTransition(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.showLatest(t)

	f.engine.Play()
	f.sched.Advance(300 * time.Millisecond)
	if f.engine.Playback().Index != 0 || f.engine.Transition().Phase != PhaseLoading {
		t.Fatalf("expected wrap to frame 0 and a transition, got %d %s",
			f.engine.Playback().Index, f.engine.Transition().Phase)
	}

	// The next tick and the load timeout are due together; the tick is
	// skipped because the transition is still loading.
	f.sched.Advance(300 * time.Millisecond)
	if f.engine.Playback().Index != 0 {
		t.Fatalf("tick during transition must be skipped, index=%d", f.engine.Playback().Index)
	}
	if f.engine.Transition().Phase != PhaseFading {
		t.Fatalf("expected fading, got %s", f.engine.Transition().Phase)
	}
}

func TestStepDuringTransitionReconciles(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.engine.SelectFamily(weather.FamilyRadar)
	f.engine.SetManifest(f.m)
	loading := f.engine.Transition().Next

	f.engine.StepBackward()
	if f.engine.Playback().Index != 2 {
		t.Fatalf("expected index 2, got %d", f.engine.Playback().Index)
	}

	f.engine.TileLoaded(loading.ID)
	next := f.engine.Transition().Next
	if next == nil || next.Path != f.path(2) {
		t.Fatalf("expected a follow-up transition to frame 2, got %+v", f.engine.Transition())
	}
}

func TestSelectNoneTearsDown(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.showLatest(t)
	f.engine.Play()
	f.engine.StepForward()
	f.sched.Advance(300 * time.Millisecond)
	f.sched.Frame()

	f.engine.SelectFamily(weather.FamilyNone)

	if f.engine.Pending() != 0 || f.sched.Pending() != 0 {
		t.Fatalf("expected no pending callbacks, got %d", f.sched.Pending())
	}
	if f.engine.Cache().Len() != 0 || len(f.surface.attached) != 0 {
		t.Fatalf("expected empty cache and surface")
	}
	if f.engine.Playback().Playing {
		t.Fatalf("playback must stop with no layer")
	}
	f.engine.Play()
	if f.engine.Playback().Playing {
		t.Fatalf("play must be a no-op with no layer")
	}
}

func TestShutdownCancelsEverything(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.showLatest(t)
	f.engine.Play()
	f.engine.StepForward()

	f.engine.Shutdown()
	if f.sched.Pending() != 0 || f.engine.Cache().Len() != 0 || len(f.surface.attached) != 0 {
		t.Fatalf("shutdown left pending=%d cache=%d attached=%d",
			f.sched.Pending(), f.engine.Cache().Len(), len(f.surface.attached))
	}
}

func TestSwitchToSatellite(t *testing.T) {
	f := newEngineFixture(t, 4)
	radar := f.showLatest(t)

	f.engine.SelectFamily(weather.FamilySatellite)
	if f.surface.attached[radar.ID] {
		t.Fatalf("radar layer must be detached immediately")
	}
	next := f.engine.Transition().Next
	if next == nil || !strings.Contains(next.Path, "/v2/satellite/") {
		t.Fatalf("expected a satellite layer loading, got %+v", f.engine.Transition())
	}
	if st := f.engine.Snapshot(); st.FrameIndex != 1 || st.FrameCount != 2 {
		t.Fatalf("expected latest satellite frame, got %+v", st)
	}
}

func TestColorSchemeReloadsRadar(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.showLatest(t)

	f.engine.CycleColorScheme()
	next := f.engine.Transition().Next
	want := f.m.Radar[3].Resolve(weather.SchemeUniversalBlue)
	if next == nil || next.Path != want {
		t.Fatalf("expected %s loading, got %+v", want, f.engine.Transition())
	}
	if f.engine.Snapshot().ColorScheme != 2 {
		t.Fatalf("expected scheme 2")
	}
}

func TestSetOpacity(t *testing.T) {
	f := newEngineFixture(t, 4)
	h := f.showLatest(t)

	if err := f.engine.SetOpacity(1.2); !errors.Is(err, ErrOpacityRange) {
		t.Fatalf("expected ErrOpacityRange, got %v", err)
	}
	if err := f.engine.SetOpacity(0.8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.surface.opacity[h.ID] != 0.8 {
		t.Fatalf("expected visible layer at 0.8, got %v", f.surface.opacity[h.ID])
	}
}

func TestFetchErrorKeepsFrames(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.showLatest(t)

	f.engine.ReportFetchError(errors.New("dial tcp: timeout"))
	st := f.engine.Snapshot()
	if st.Error != msgFetchFailed || st.FrameCount != 4 {
		t.Fatalf("unexpected snapshot %+v", st)
	}
}

func TestEmptyManifestPausesPlayback(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.showLatest(t)
	f.engine.Play()

	f.engine.SetManifest(weather.Manifest{Host: "https://tiles.example"})
	if f.engine.Playback().Playing || f.engine.Snapshot().FrameCount != 0 {
		t.Fatalf("expected paused empty playback")
	}
	if f.engine.Cache().Len() != 0 || len(f.surface.attached) != 0 || f.engine.Pending() != 0 {
		t.Fatalf("empty manifest must release every layer, cache=%d attached=%v",
			f.engine.Cache().Len(), f.surface.attached)
	}
	if f.engine.Snapshot().Transition != PhaseIdle {
		t.Fatalf("expected idle transition, got %s", f.engine.Snapshot().Transition)
	}
}

func TestFailureDuringStepReconciles(t *testing.T) {
	f := newEngineFixture(t, 4)
	f.engine.SelectFamily(weather.FamilyRadar)
	f.engine.SetManifest(f.m)
	loading := f.engine.Transition().Next

	f.engine.StepBackward()
	f.engine.TileFailed(loading.ID, errors.New("status 500"))

	next := f.engine.Transition().Next
	if next == nil || next.Path != f.path(2) {
		t.Fatalf("expected a follow-up transition to frame 2, got %+v", f.engine.Transition())
	}
	if got := f.engine.Snapshot().Error; got != msgTileLoadFailed {
		t.Fatalf("failure must stay reported, got %q", got)
	}
	if _, ok := f.engine.Cache().Lookup(loading.Path); ok {
		t.Fatalf("failed layer must be evicted")
	}

	// The failed frame is not retried when the index has not moved.
	f.engine.TileFailed(next.ID, errors.New("status 500"))
	if f.engine.Transition().InFlight() {
		t.Fatalf("expected no retry of the failed frame, got %+v", f.engine.Transition())
	}
}

func TestRandomOperationSequences(t *testing.T) {
	for _, preload := range []int{0, 2} {
		preload := preload
		t.Run(fmt.Sprintf("preload=%d", preload), func(t *testing.T) {
			surf := newFakeSurface()
			sched := &fakeScheduler{}
			cfg := DefaultConfig()
			cfg.Host = "https://tiles.example"
			cfg.PreloadFrames = preload
			e := NewEngine(cfg, surf, sched, metrics.NewCollector(0))
			m := testManifest(6)

			e.SelectFamily(weather.FamilyRadar)
			e.SetManifest(m)

			rng := rand.New(rand.NewSource(42))
			for i := 0; i < 2000; i++ {
				var op string
				switch rng.Intn(9) {
				case 0:
					op = "step-forward"
					e.StepForward()
				case 1:
					op = "step-backward"
					e.StepBackward()
				case 2:
					op = "jump"
					_ = e.Jump(rng.Intn(len(m.Radar)))
				case 3:
					op = "loaded"
					if next := e.Transition().Next; next != nil {
						e.TileLoaded(next.ID)
					}
				case 4:
					op = "failed"
					if next := e.Transition().Next; next != nil {
						e.TileFailed(next.ID, errors.New("status 503"))
					}
				case 5:
					op = "advance"
					sched.Advance(300 * time.Millisecond)
				case 6:
					op = "frame"
					sched.Frame()
				case 7:
					op = "play"
					e.Play()
				case 8:
					op = "pause"
					e.Pause()
				}

				tr := e.Transition()
				if len(surf.attached) > 2 {
					t.Fatalf("step %d (%s): %d layers attached", i, op, len(surf.attached))
				}
				// Without preloading only the visible and incoming layers are cached.
				if preload == 0 && e.Cache().Len() > 2 {
					t.Fatalf("step %d (%s): cache holds %d layers", i, op, e.Cache().Len())
				}
				if tr.InFlight() {
					if tr.Next == nil || !surf.attached[tr.Next.ID] {
						t.Fatalf("step %d (%s): in-flight layer not attached", i, op)
					}
					continue
				}
				if len(surf.attached) > 1 {
					t.Fatalf("step %d (%s): idle with %d layers attached", i, op, len(surf.attached))
				}
				if tr.Current != nil && !surf.attached[tr.Current.ID] {
					t.Fatalf("step %d (%s): visible layer not attached", i, op)
				}
				if tr.Current == nil && len(surf.attached) != 0 {
					t.Fatalf("step %d (%s): layer attached with nothing visible", i, op)
				}
			}

			e.Shutdown()
			if sched.Pending() != 0 || len(surf.attached) != 0 {
				t.Fatalf("shutdown left pending=%d attached=%d", sched.Pending(), len(surf.attached))
			}
		})
	}
}
