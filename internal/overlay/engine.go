package overlay

import (
	"errors"
	"log"
	"math"
	"sort"
	"time"

	"github.com/i474232898/radar-overlay/internal/metrics"
	"github.com/i474232898/radar-overlay/internal/weather"
)

var ErrOpacityRange = errors.New("opacity must be within [0, 1]")

const (
	msgTileLoadFailed = "Failed to load weather tiles"
	msgFetchFailed    = "Failed to fetch weather data"
	msgLayerFailed    = "Failed to update weather layer"
)

// Config holds the engine tunables.
type Config struct {
	Host          string
	FrameInterval time.Duration // playback tick at speed 1
	LoadTimeout   time.Duration // "assume ready" delay for a loading layer
	OpacityStep   float64       // crossfade step, as a fraction of the display opacity
	PreloadFrames int
	Opacity       float64
	ColorScheme   weather.ColorScheme
}

func DefaultConfig() Config {
	return Config{
		Host:          "https://tilecache.rainviewer.com",
		FrameInterval: 300 * time.Millisecond,
		LoadTimeout:   300 * time.Millisecond,
		OpacityStep:   0.25,
		PreloadFrames: 2,
		Opacity:       0.5,
		ColorScheme:   weather.SchemeOriginal,
	}
}

// Engine executes the transition and playback state machines against the
// layer cache and the scheduler. It is not safe for concurrent use: every
// call, including scheduler callbacks, must happen on one goroutine (see Loop).
type Engine struct {
	cfg     Config
	cache   *Cache
	sched   Scheduler
	metrics *metrics.Collector

	manifest   weather.Manifest
	family     weather.Family
	scheme     weather.ColorScheme
	opacity    float64
	playback   Playback
	transition Transition
	lastErr    string

	// pending callbacks
	loadTimeout Cancel
	frame       Cancel
	tick        Cancel

	loadSpan *metrics.Span
	fadeSpan *metrics.Span
}

func NewEngine(cfg Config, surface Surface, sched Scheduler, m *metrics.Collector) *Engine {
	if !cfg.ColorScheme.Valid() {
		cfg.ColorScheme = weather.SchemeOriginal
	}
	return &Engine{
		cfg:        cfg,
		cache:      NewCache(surface, cfg.Host),
		sched:      sched,
		metrics:    m,
		family:     weather.FamilyNone,
		scheme:     cfg.ColorScheme,
		opacity:    clamp01(cfg.Opacity),
		playback:   NewPlayback(cfg.FrameInterval),
		transition: NewTransition(cfg.OpacityStep),
	}
}

func (e *Engine) frames() []weather.Frame {
	return e.manifest.Frames(e.family)
}

// BeginTransition crossfades to the layer for a resolved tile path.
func (e *Engine) BeginTransition(path string) Outcome {
	if e.transition.InFlight() {
		return OutcomeRejected
	}

	var h *Handle
	if cur := e.transition.Current; cur != nil && cur.Path == path {
		h = cur
	} else {
		h = e.cache.GetOrCreate(path, 0)
	}

	t, effects, outcome := e.transition.Begin(h, e.opacity)
	e.transition = t
	if outcome == OutcomeStarted {
		e.lastErr = ""
	}
	e.apply(effects)
	return outcome
}

func (e *Engine) showFrame(index int) Outcome {
	frames := e.frames()
	if e.family == weather.FamilyNone || index < 0 || index >= len(frames) {
		return OutcomeRejected
	}
	return e.BeginTransition(frames[index].Resolve(e.scheme))
}

// desiredPath is the path the visible layer should show, or "".
func (e *Engine) desiredPath() string {
	frames := e.frames()
	if e.family == weather.FamilyNone || len(frames) == 0 {
		return ""
	}
	return frames[e.playback.Clamp(len(frames)).Index].Resolve(e.scheme)
}

// reconcile catches the display up with an index that moved while a
// transition was in flight.
func (e *Engine) reconcile() {
	want := e.desiredPath()
	if want == "" || e.transition.InFlight() {
		return
	}
	if cur := e.transition.Current; cur != nil && cur.Path == want {
		return
	}
	e.BeginTransition(want)
}

// preload makes sure the frames following index have a cache entry.
func (e *Engine) preload(index int) {
	frames := e.frames()
	if e.family == weather.FamilyNone || len(frames) == 0 {
		return
	}
	k := e.cfg.PreloadFrames
	if k > len(frames)-1 {
		k = len(frames) - 1
	}
	for i := 1; i <= k; i++ {
		path := frames[(index+i)%len(frames)].Resolve(e.scheme)
		if _, ok := e.cache.Lookup(path); ok {
			continue
		}
		e.cache.Warm(e.cache.GetOrCreate(path, 0))
	}
}

func (e *Engine) apply(effects []Effect) {
	for _, eff := range effects {
		switch ef := eff.(type) {
		case Attach:
			e.cache.Attach(ef.Handle)
		case Detach:
			e.cache.Detach(ef.Handle)
		case SetOpacity:
			e.cache.SetOpacity(ef.Handle, ef.Opacity)
		case ScheduleLoadTimeout:
			e.cancelLoadTimeout("replaced")
			h := ef.Handle
			e.loadSpan = e.metrics.Start("transition.load")
			e.loadTimeout = e.sched.After(e.cfg.LoadTimeout, func() {
				e.loadTimeout = nil
				e.onLoadTimeout(h)
			})
		case CancelLoadTimeout:
			e.cancelLoadTimeout("settled")
		case RequestFrame:
			if e.fadeSpan == nil {
				e.fadeSpan = e.metrics.Start("transition.fade")
			}
			e.cancelFrame()
			e.frame = e.sched.NextFrame(func() {
				e.frame = nil
				e.onFrame()
			})
		case CancelFrame:
			e.cancelFrame()
		case Promote:
			e.fadeSpan.End(map[string]any{"path": ef.Handle.Path})
			e.fadeSpan = nil
			log.Printf("DEBUG: overlay: promoted layer %s", ef.Handle.Path)
		case Evict:
			e.cache.MarkActive(e.transition.Current, e.transition.Next)
			if evicted := e.cache.EvictUnreferenced(); len(evicted) > 0 {
				log.Printf("DEBUG: overlay: evicted %d cached layers", len(evicted))
			}
		case Preload:
			e.preload(e.playback.Index)
			e.reconcile()
		case Report:
			log.Printf("ERROR: overlay: %v", ef.Err)
			e.lastErr = userMessage(ef.Err)
		case ScheduleTick:
			e.cancelTick()
			e.tick = e.sched.After(ef.After, func() {
				e.tick = nil
				e.onTick()
			})
		case CancelTick:
			e.cancelTick()
		case ShowFrame:
			e.showFrame(ef.Index)
		}
	}
}

func userMessage(err error) string {
	if errors.Is(err, ErrTileLoad) {
		return msgTileLoadFailed
	}
	return msgLayerFailed
}

func (e *Engine) cancelLoadTimeout(outcome string) {
	if e.loadTimeout != nil {
		e.loadTimeout()
		e.loadTimeout = nil
	}
	e.loadSpan.End(map[string]any{"outcome": outcome})
	e.loadSpan = nil
}

func (e *Engine) cancelFrame() {
	if e.frame != nil {
		e.frame()
		e.frame = nil
	}
}

func (e *Engine) cancelTick() {
	if e.tick != nil {
		e.tick()
		e.tick = nil
	}
}

func (e *Engine) onLoadTimeout(h *Handle) {
	t, effects := e.transition.TimedOut(h)
	if len(effects) == 0 {
		return
	}
	log.Printf("INFO: overlay: load timeout for %s, assuming ready", h.Path)
	e.loadSpan.End(map[string]any{"outcome": "timeout"})
	e.loadSpan = nil
	e.transition = t
	e.apply(effects)
}

func (e *Engine) onFrame() {
	t, effects := e.transition.Tick()
	e.transition = t
	e.apply(effects)
}

func (e *Engine) onTick() {
	p, effects := e.playback.Tick(len(e.frames()), e.transition.InFlight())
	e.playback = p
	e.apply(effects)
}

// TileLoaded is the surface's load-complete hook for an attached handle.
func (e *Engine) TileLoaded(id string) {
	h, ok := e.cache.ByID(id)
	if !ok {
		return
	}
	t, effects := e.transition.Loaded(h)
	e.transition = t
	e.apply(effects)
}

// TileFailed is the surface's load-error hook for an attached handle.
func (e *Engine) TileFailed(id string, err error) {
	h, ok := e.cache.ByID(id)
	if !ok {
		return
	}
	t, effects := e.transition.Fail(h, err)
	if len(effects) == 0 {
		return
	}
	e.transition = t
	e.apply(effects)

	// Catch up with an index that moved while h was loading, but never
	// retry the frame that just failed.
	if want := e.desiredPath(); want != "" && want != h.Path {
		msg := e.lastErr
		e.reconcile()
		e.lastErr = msg
	}
}

// SetManifest replaces the frame sequences wholesale and jumps to the most
// recent frame.
func (e *Engine) SetManifest(m weather.Manifest) {
	e.manifest = m
	e.cache.SetHost(m.Host)
	e.lastErr = ""

	n := len(e.frames())
	e.playback = e.playback.Latest(n)
	if n == 0 {
		e.Pause()
		e.teardown()
		return
	}
	e.showFrame(e.playback.Index)
}

// ReportFetchError records a failed manifest refresh; previous frames stay usable.
func (e *Engine) ReportFetchError(err error) {
	log.Printf("ERROR: overlay: frame refresh failed: %v", err)
	e.lastErr = msgFetchFailed
}

// Play starts the animation. No-op with no frames or no layer selected.
func (e *Engine) Play() {
	if e.family == weather.FamilyNone {
		return
	}
	p, effects := e.playback.Play(len(e.frames()))
	e.playback = p
	e.apply(effects)
}

func (e *Engine) Pause() {
	p, effects := e.playback.Pause()
	e.playback = p
	e.apply(effects)
}

func (e *Engine) TogglePlay() {
	if e.playback.Playing {
		e.Pause()
		return
	}
	e.Play()
}

func (e *Engine) StepForward() { e.step(1) }

func (e *Engine) StepBackward() { e.step(-1) }

func (e *Engine) step(delta int) {
	n := len(e.frames())
	if n == 0 {
		return
	}
	e.playback = e.playback.Step(delta, n)
	e.showFrame(e.playback.Index)
	e.preload(e.playback.Index)
}

// Jump shows the frame at index directly.
func (e *Engine) Jump(index int) error {
	p, err := e.playback.Jump(index, len(e.frames()))
	if err != nil {
		return err
	}
	e.playback = p
	e.showFrame(index)
	e.preload(index)
	return nil
}

func (e *Engine) CycleSpeed() {
	p, effects := e.playback.CycleSpeed()
	e.playback = p
	e.apply(effects)
}

func (e *Engine) ToggleMode() {
	e.playback = e.playback.ToggleMode()
}

// CycleColorScheme switches palettes; a visible radar layer is re-rendered.
func (e *Engine) CycleColorScheme() {
	e.scheme = e.scheme.Next()
	if e.family == weather.FamilyRadar {
		e.showFrame(e.playback.Index)
	}
}

func (e *Engine) SetOpacity(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return ErrOpacityRange
	}
	e.opacity = v
	t, effects := e.transition.Retarget(v)
	e.transition = t
	e.apply(effects)
	return nil
}

// SelectFamily switches the overlay. Leaving a family is a hard stop:
// both layers are detached without fading and the cache is emptied.
func (e *Engine) SelectFamily(f weather.Family) {
	if f == e.family {
		return
	}
	log.Printf("INFO: overlay: switching layer %s -> %s", e.family, f)
	e.teardown()
	e.family = f

	if f == weather.FamilyNone {
		e.Pause()
		return
	}
	e.playback = e.playback.Latest(len(e.frames()))
	e.showFrame(e.playback.Index)
}

func (e *Engine) teardown() {
	t, effects := e.transition.Abort()
	e.transition = t
	e.apply(effects)

	e.cancelLoadTimeout("aborted")
	e.cancelFrame()
	e.fadeSpan = nil

	if evicted := e.cache.EvictAll(); len(evicted) > 0 {
		log.Printf("DEBUG: overlay: released %d cached layers", len(evicted))
	}
}

// Shutdown synchronously cancels every pending callback and releases every
// layer. The engine can be reused afterwards.
func (e *Engine) Shutdown() {
	e.Pause()
	e.cancelTick()
	e.teardown()
}

// Pending counts outstanding scheduler callbacks.
func (e *Engine) Pending() int {
	n := 0
	for _, c := range []Cancel{e.loadTimeout, e.frame, e.tick} {
		if c != nil {
			n++
		}
	}
	return n
}

func (e *Engine) Transition() Transition { return e.transition }

func (e *Engine) Playback() Playback { return e.playback }

func (e *Engine) Cache() *Cache { return e.cache }

func (e *Engine) Family() weather.Family { return e.family }

// State is the externally visible engine state.
type State struct {
	Layer           weather.Family `json:"layer"`
	FrameIndex      int            `json:"frameIndex"`
	FrameCount      int            `json:"frameCount"`
	FrameTime       *time.Time     `json:"frameTime,omitempty"`
	Playing         bool           `json:"playing"`
	Speed           int            `json:"speed"`
	Mode            Mode           `json:"mode"`
	Direction       int            `json:"direction"`
	ColorScheme     int            `json:"colorScheme"`
	ColorSchemeName string         `json:"colorSchemeName"`
	Opacity         float64        `json:"opacity"`
	Transition      Phase          `json:"transition"`
	CacheSize       int            `json:"cacheSize"`
	Host            string         `json:"host"`
	Error           string         `json:"error,omitempty"`
}

func (e *Engine) Snapshot() State {
	frames := e.frames()
	st := State{
		Layer:           e.family,
		FrameIndex:      e.playback.Index,
		FrameCount:      len(frames),
		Playing:         e.playback.Playing,
		Speed:           e.playback.Speed,
		Mode:            e.playback.Mode,
		Direction:       e.playback.Direction,
		ColorScheme:     int(e.scheme),
		ColorSchemeName: e.scheme.Name(),
		Opacity:         e.opacity,
		Transition:      e.transition.Phase,
		CacheSize:       e.cache.Len(),
		Host:            e.cache.Host(),
		Error:           e.lastErr,
	}
	if e.playback.Index < len(frames) {
		ts := frames[e.playback.Index].Timestamp()
		st.FrameTime = &ts
	}
	return st
}

// LayerView describes one layer attached to the map surface.
type LayerView struct {
	ID      string  `json:"id"`
	URL     string  `json:"url"`
	Opacity float64 `json:"opacity"`
	Current bool    `json:"current"`
}

// Layers lists attached layers, the visible one last.
func (e *Engine) Layers() []LayerView {
	attached := e.cache.Attached()
	out := make([]LayerView, 0, len(attached))
	for _, h := range attached {
		out = append(out, LayerView{
			ID:      h.ID,
			URL:     h.URL,
			Opacity: h.Opacity(),
			Current: h == e.transition.Current,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return !out[i].Current && out[j].Current })
	return out
}
