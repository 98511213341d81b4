package weather

import (
	"context"
	"time"
)

// FrameSource abstracts the tile-time-series API (e.g. RainViewer).
type FrameSource interface {
	Name() string
	Fetch(ctx context.Context) (Manifest, error)
}

// Store is the contract the in-memory manifest store must satisfy.
type Store interface {
	SaveManifest(m Manifest)
	GetLatest() (Manifest, error)
	GetRange(from, to time.Time) ([]Frame, error)
}

// ManifestSink receives refresh outcomes. The overlay loop implements it.
type ManifestSink interface {
	ApplyManifest(m Manifest)
	ApplyFetchError(err error)
}
