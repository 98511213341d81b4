// Package surface is the server-side map surface: it tracks which overlay
// layers are attached, probes their tiles to detect load completion and
// proxies tile requests for them.
package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/radar-overlay/internal/metrics"
	"github.com/i474232898/radar-overlay/internal/overlay"
	"github.com/i474232898/radar-overlay/internal/resilience"
)

var (
	ErrUnknownLayer = errors.New("layer not attached")
	ErrZoomRange    = errors.New("zoom level out of range")
)

// MaxZoom is the deepest zoom the tile host serves.
const MaxZoom = 10

const defaultMaxTiles = 512

// LoadListener receives load events for attached layers.
type LoadListener interface {
	TileLoaded(id string)
	TileFailed(id string, err error)
}

// Viewport is the map position whose tile is probed on attach.
type Viewport struct {
	Lat  float64
	Lon  float64
	Zoom int
}

// Tile returns the tile covering the viewport centre.
func (v Viewport) Tile() maptile.Tile {
	z := v.Zoom
	if z < 0 {
		z = 0
	}
	if z > MaxZoom {
		z = MaxZoom
	}
	return maptile.At(orb.Point{v.Lon, v.Lat}, maptile.Zoom(z))
}

type Config struct {
	Viewport     Viewport
	MaxTiles     int
	ProbeTimeout time.Duration
	HTTP         resilience.Config
}

type layer struct {
	id       string
	url      string
	opacity  float64
	attached bool
	cancel   context.CancelFunc
}

// TileSurface implements overlay.Surface and overlay.Warmer.
type TileSurface struct {
	cfg     Config
	circuit *gobreaker.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Collector

	mu       sync.Mutex
	listener LoadListener
	layers   map[string]*layer
	tiles    *tileCache
}

func New(cfg Config, m *metrics.Collector) *TileSurface {
	if cfg.MaxTiles <= 0 {
		cfg.MaxTiles = defaultMaxTiles
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &TileSurface{
		cfg:     cfg,
		circuit: resilience.NewBreaker("tiles"),
		metrics: m,
		layers:  make(map[string]*layer),
		tiles:   newTileCache(cfg.MaxTiles),
	}
}

// SetListener wires the receiver of load events. Events for layers attached
// before a listener is set are dropped.
func (s *TileSurface) SetListener(l LoadListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *TileSurface) Attach(h *overlay.Handle) {
	s.mu.Lock()
	l, ok := s.layers[h.ID]
	if !ok {
		l = &layer{id: h.ID, url: h.URL}
		s.layers[h.ID] = l
	}
	l.attached = true
	l.opacity = h.Opacity()
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	l.cancel = cancel
	s.mu.Unlock()

	go s.probe(ctx, cancel, h.ID, h.URL, true)
}

// Warm fetches the viewport tile for h without reporting load events.
func (s *TileSurface) Warm(h *overlay.Handle) {
	s.mu.Lock()
	if _, ok := s.layers[h.ID]; ok {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	s.layers[h.ID] = &layer{id: h.ID, url: h.URL, cancel: cancel}
	s.mu.Unlock()

	go s.probe(ctx, cancel, h.ID, h.URL, false)
}

// Detach forgets h: its probe stops waiting and its tiles are dropped.
// Detaching an unknown handle is a no-op.
func (s *TileSurface) Detach(h *overlay.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[h.ID]
	if !ok {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	delete(s.layers, h.ID)
	s.tiles.dropPrefix(h.ID + "/")
}

func (s *TileSurface) SetOpacity(h *overlay.Handle, opacity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.layers[h.ID]; ok {
		l.opacity = opacity
	}
}

// CachedTiles counts tiles held in memory.
func (s *TileSurface) CachedTiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiles.len()
}

// Opacity reports the opacity last set for an attached layer.
func (s *TileSurface) Opacity(id string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[id]
	if !ok || !l.attached {
		return 0, false
	}
	return l.opacity, true
}

func (s *TileSurface) probe(ctx context.Context, cancel context.CancelFunc, id, url string, notify bool) {
	defer cancel()

	t := s.cfg.Viewport.Tile()
	span := s.metrics.Start("tile.probe")
	_, err := s.fetch(ctx, id, url, int(t.Z), int(t.X), int(t.Y))

	if ctx.Err() == context.Canceled {
		span.End(map[string]any{"outcome": "cancelled"})
		return
	}
	s.mu.Lock()
	_, alive := s.layers[id]
	listener := s.listener
	s.mu.Unlock()
	if !alive {
		span.End(map[string]any{"outcome": "cancelled"})
		return
	}

	if err != nil {
		span.End(map[string]any{"outcome": "error"})
		log.Printf("ERROR: surface: probe %s failed: %v", id, err)
		if notify && listener != nil {
			listener.TileFailed(id, err)
		}
		return
	}
	span.End(map[string]any{"outcome": "ok"})
	if notify && listener != nil {
		listener.TileLoaded(id)
	}
}

// Tile returns one tile of a known layer, from cache when possible.
// Concurrent requests for the same tile share one upstream fetch.
func (s *TileSurface) Tile(ctx context.Context, id string, z, x, y int) ([]byte, error) {
	if z < 0 || z > MaxZoom {
		return nil, fmt.Errorf("%w: %d", ErrZoomRange, z)
	}
	s.mu.Lock()
	l, ok := s.layers[id]
	var url string
	if ok {
		url = l.url
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownLayer
	}
	return s.fetch(ctx, id, url, z, x, y)
}

func (s *TileSurface) fetch(ctx context.Context, id, url string, z, x, y int) ([]byte, error) {
	key := tileKey(id, z, x, y)
	s.mu.Lock()
	b, ok := s.tiles.get(key)
	s.mu.Unlock()
	if ok {
		return b, nil
	}

	// The shared fetch outlives any single caller: a probe cancelled by
	// Attach or Detach must not fail the others waiting on the same tile.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProbeTimeout)
		defer cancel()

		target := expand(url, z, x, y)
		resp, err := resilience.Do(fctx, s.cfg.HTTP, s.circuit, func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, target, nil)
		})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read tile %s: %w", target, err)
		}

		s.mu.Lock()
		if _, alive := s.layers[id]; alive {
			s.tiles.put(key, b)
		}
		s.mu.Unlock()
		return b, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func tileKey(id string, z, x, y int) string {
	return id + "/" + strconv.Itoa(z) + "/" + strconv.Itoa(x) + "/" + strconv.Itoa(y)
}

func expand(url string, z, x, y int) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(url)
}
