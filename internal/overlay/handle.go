package overlay

import "github.com/google/uuid"

// Handle is one renderable tile layer bound to a URL template.
// Its opacity and attachment are only changed through the Cache, which
// forwards every change to the map surface.
type Handle struct {
	ID   string
	Path string // resolved tile path, the cache key
	URL  string // host + path, still containing {z}/{x}/{y}

	opacity  float64
	attached bool
}

func newHandle(host, path string, opacity float64) *Handle {
	return &Handle{
		ID:      uuid.NewString(),
		Path:    path,
		URL:     host + path,
		opacity: opacity,
	}
}

func (h *Handle) Opacity() float64 { return h.opacity }

func (h *Handle) Attached() bool { return h.attached }

// Surface is the map surface capability consumed by the overlay. Load
// completion and load errors for attached handles are reported back through
// Engine.TileLoaded and Engine.TileFailed.
type Surface interface {
	Attach(h *Handle)
	Detach(h *Handle)
	SetOpacity(h *Handle, opacity float64)
}

// Warmer is implemented by surfaces that can fetch a handle's tiles in the
// background before it is attached.
type Warmer interface {
	Warm(h *Handle)
}
