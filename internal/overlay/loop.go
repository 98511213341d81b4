package overlay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/i474232898/radar-overlay/internal/metrics"
	"github.com/i474232898/radar-overlay/internal/weather"
)

// ErrLoopClosed is returned by Do once the loop has shut down.
var ErrLoopClosed = errors.New("overlay loop closed")

// frameInterval paces animation-frame callbacks at roughly 60 per second.
const frameInterval = time.Second / 60

const inboxSize = 64

// Loop owns an Engine and serialises every call into it on one goroutine.
// HTTP handlers, the frame refresher, the tile surface and the engine's own
// timers all post into the same inbox.
type Loop struct {
	engine *Engine
	inbox  chan func()

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewLoop(cfg Config, surface Surface, m *metrics.Collector) *Loop {
	l := &Loop{
		inbox: make(chan func(), inboxSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	l.engine = NewEngine(cfg, surface, &loopScheduler{loop: l, frame: frameInterval}, m)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.inbox:
			fn()
		case <-l.quit:
			l.engine.Shutdown()
			return
		}
	}
}

// post enqueues fn. It reports false once the loop is closing.
func (l *Loop) post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs fn on the loop goroutine and waits for it. It must not be called
// from inside fn.
func (l *Loop) Do(ctx context.Context, fn func(*Engine)) error {
	ran := make(chan struct{})
	if !l.post(func() {
		fn(l.engine)
		close(ran)
	}) {
		return ErrLoopClosed
	}

	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrLoopClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TileLoaded forwards a surface load event.
func (l *Loop) TileLoaded(id string) {
	l.post(func() { l.engine.TileLoaded(id) })
}

// TileFailed forwards a surface load error.
func (l *Loop) TileFailed(id string, err error) {
	l.post(func() { l.engine.TileFailed(id, err) })
}

func (l *Loop) ApplyManifest(m weather.Manifest) {
	l.post(func() { l.engine.SetManifest(m) })
}

func (l *Loop) ApplyFetchError(err error) {
	l.post(func() { l.engine.ReportFetchError(err) })
}

// Close shuts the engine down on the loop goroutine and waits for it.
// Callbacks still queued are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
}

// loopScheduler runs timers on their own goroutines and posts the callback
// back into the loop. The cancelled flag is only read and written on the
// loop goroutine.
type loopScheduler struct {
	loop  *Loop
	frame time.Duration
}

func (s *loopScheduler) After(d time.Duration, fn func()) Cancel {
	cancelled := false
	t := time.AfterFunc(d, func() {
		s.loop.post(func() {
			if !cancelled {
				cancelled = true
				fn()
			}
		})
	})
	return func() {
		cancelled = true
		t.Stop()
	}
}

func (s *loopScheduler) NextFrame(fn func()) Cancel {
	return s.After(s.frame, fn)
}

// Query runs fn on the loop goroutine and returns its result. If ctx ends
// first, fn may still run later; its result is discarded.
func Query[T any](ctx context.Context, l *Loop, fn func(*Engine) T) (T, error) {
	res := make(chan T, 1)
	if err := l.Do(ctx, func(e *Engine) { res <- fn(e) }); err != nil {
		var zero T
		return zero, err
	}
	return <-res, nil
}
