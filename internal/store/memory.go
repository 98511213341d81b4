package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/radar-overlay/internal/weather"
)

var (
	// ErrNotFound is returned when no manifest (or no frame in range) is available.
	ErrNotFound = errors.New("no weather frames available")
)

// MemoryStore is a concurrency-safe in-memory history of fetched manifests.
// It only lives as long as the process.
type MemoryStore struct {
	mu sync.RWMutex

	// oldest first
	manifests []weather.Manifest

	// retention configuration
	maxHistory int           // max number of manifests retained
	maxAge     time.Duration // optional max age, measured on Generated
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveManifest appends a manifest and enforces retention. The newest
// manifest is always kept.
func (s *MemoryStore) SaveManifest(m weather.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manifests = append(s.manifests, m)

	if s.maxHistory > 0 && len(s.manifests) > s.maxHistory {
		over := len(s.manifests) - s.maxHistory
		s.manifests = s.manifests[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.manifests)-1; i++ {
			if !s.manifests[i].Generated.Before(cutoff) {
				break
			}
		}
		s.manifests = s.manifests[i:]
	}
}

// GetLatest returns the most recently saved manifest.
func (s *MemoryStore) GetLatest() (weather.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.manifests) == 0 {
		return weather.Manifest{}, ErrNotFound
	}
	return s.manifests[len(s.manifests)-1], nil
}

// GetRange returns every distinct radar frame observed between from and to
// (inclusive) across the retained manifests, oldest first.
func (s *MemoryStore) GetRange(from, to time.Time) ([]weather.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]weather.Frame)
	for _, m := range s.manifests {
		for _, f := range m.Radar {
			ts := f.Timestamp()
			if ts.Before(from) || ts.After(to) {
				continue
			}
			// later manifests win on duplicate timestamps
			seen[f.Time] = f
		}
	}

	if len(seen) == 0 {
		return nil, ErrNotFound
	}

	result := make([]weather.Frame, 0, len(seen))
	for _, f := range seen {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Time < result[j].Time })
	return result, nil
}
