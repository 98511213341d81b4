package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/i474232898/radar-overlay/internal/metrics"
)

var (
	// ErrNoSource is returned when the service has no frame source to poll.
	ErrNoSource = errors.New("no frame source configured")

	errSuperseded = errors.New("superseded by a newer refresh")
	errStopped    = errors.New("frame refresh stopped")
)

// Service fetches frame manifests, persists them and hands them to the overlay.
// Only one fetch is ever in flight: starting a refresh aborts the previous one,
// so results are applied in request order.
type Service struct {
	source  FrameSource
	store   Store
	sink    ManifestSink
	metrics *metrics.Collector

	mu      sync.Mutex
	cancel  context.CancelCauseFunc
	stopped bool
}

// NewService creates a new Service. sink may be nil for read-only use.
func NewService(source FrameSource, store Store, sink ManifestSink, m *metrics.Collector) *Service {
	return &Service{
		source:  source,
		store:   store,
		sink:    sink,
		metrics: m,
	}
}

// Refresh fetches the current manifest. An aborted fetch (superseded or
// stopped) returns nil and leaves every piece of state untouched.
func (s *Service) Refresh(parent context.Context) error {
	if s.source == nil {
		return ErrNoSource
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel(errSuperseded)
	}
	s.cancel = cancel
	s.mu.Unlock()

	span := s.metrics.Start("manifest.fetch")
	m, err := s.source.Fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if aborted(ctx) {
		span.End(map[string]any{"outcome": "aborted"})
		log.Printf("DEBUG: %s fetch aborted: %v", s.source.Name(), context.Cause(ctx))
		return nil
	}
	s.cancel = nil

	if err != nil {
		span.End(map[string]any{"outcome": "error"})
		log.Printf("ERROR: %s fetch failed: %v", s.source.Name(), err)
		if s.sink != nil {
			s.sink.ApplyFetchError(err)
		}
		return fmt.Errorf("refresh frames from %s: %w", s.source.Name(), err)
	}

	span.End(map[string]any{"outcome": "ok", "radar": len(m.Radar), "satellite": len(m.Satellite)})
	if m.Generated.IsZero() {
		m.Generated = time.Now().UTC()
	}
	if s.store != nil {
		s.store.SaveManifest(m)
	}
	if s.sink != nil {
		s.sink.ApplyManifest(m)
	}
	log.Printf("INFO: %s manifest applied: %d radar, %d satellite frames", s.source.Name(), len(m.Radar), len(m.Satellite))
	return nil
}

// Stop aborts any in-flight fetch and makes later refreshes no-ops.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel(errStopped)
		s.cancel = nil
	}
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest() (Manifest, error) {
	return s.store.GetLatest()
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(from, to time.Time) ([]Frame, error) {
	return s.store.GetRange(from, to)
}

func aborted(ctx context.Context) bool {
	cause := context.Cause(ctx)
	return errors.Is(cause, errSuperseded) || errors.Is(cause, errStopped)
}
