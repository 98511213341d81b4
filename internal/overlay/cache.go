package overlay

// Cache maps resolved tile paths to handles and owns their lifetime.
// It is the only code that touches the map surface.
type Cache struct {
	surface Surface
	host    string
	entries map[string]*Handle

	// survivors of the next eviction pass
	current *Handle
	next    *Handle
}

func NewCache(surface Surface, host string) *Cache {
	return &Cache{
		surface: surface,
		host:    host,
		entries: make(map[string]*Handle),
	}
}

// SetHost changes the host used for handles created from now on.
func (c *Cache) SetHost(host string) {
	if host != "" {
		c.host = host
	}
}

func (c *Cache) Host() string { return c.host }

// GetOrCreate returns the handle cached for path with its opacity reset, or
// registers a new detached one bound to host+path.
func (c *Cache) GetOrCreate(path string, opacity float64) *Handle {
	if h, ok := c.entries[path]; ok {
		c.SetOpacity(h, opacity)
		return h
	}
	h := newHandle(c.host, path, opacity)
	c.entries[path] = h
	return h
}

// Lookup returns the cached handle for path without touching it.
func (c *Cache) Lookup(path string) (*Handle, bool) {
	h, ok := c.entries[path]
	return h, ok
}

// ByID finds a cached handle by id; evicted handles are not found.
func (c *Cache) ByID(id string) (*Handle, bool) {
	for _, h := range c.entries {
		if h.ID == id {
			return h, true
		}
	}
	return nil, false
}

// MarkActive declares which handles survive the next eviction.
func (c *Cache) MarkActive(current, next *Handle) {
	c.current = current
	c.next = next
}

// EvictUnreferenced releases every cached handle except the ones marked
// active, then rebuilds the cache from those survivors.
func (c *Cache) EvictUnreferenced() []*Handle {
	var evicted []*Handle
	for path, h := range c.entries {
		if h == c.current || h == c.next {
			continue
		}
		c.release(h)
		evicted = append(evicted, h)
		delete(c.entries, path)
	}

	clear(c.entries)
	for _, h := range []*Handle{c.current, c.next} {
		if h != nil {
			c.entries[h.Path] = h
		}
	}
	return evicted
}

// EvictAll releases every handle, including the active ones.
func (c *Cache) EvictAll() []*Handle {
	survivors := []*Handle{c.current, c.next}
	evicted := make([]*Handle, 0, len(c.entries))
	for _, h := range c.entries {
		c.release(h)
		evicted = append(evicted, h)
	}
	for _, h := range survivors {
		if h != nil && c.entries[h.Path] != h {
			c.release(h)
			evicted = append(evicted, h)
		}
	}
	clear(c.entries)
	c.current, c.next = nil, nil
	return evicted
}

func (c *Cache) Len() int { return len(c.entries) }

// Attached lists the handles currently bound to the map surface.
func (c *Cache) Attached() []*Handle {
	var out []*Handle
	for _, h := range c.entries {
		if h.attached {
			out = append(out, h)
		}
	}
	return out
}

func (c *Cache) Attach(h *Handle) {
	if h.attached {
		return
	}
	h.attached = true
	c.surface.Attach(h)
}

func (c *Cache) Detach(h *Handle) {
	if !h.attached {
		return
	}
	h.attached = false
	c.surface.Detach(h)
}

func (c *Cache) SetOpacity(h *Handle, opacity float64) {
	h.opacity = clamp01(opacity)
	if h.attached {
		c.surface.SetOpacity(h, h.opacity)
	}
}

// Warm asks the surface to fetch h's tiles in the background, if it can.
func (c *Cache) Warm(h *Handle) {
	if w, ok := c.surface.(Warmer); ok && !h.attached {
		w.Warm(h)
	}
}

// release unbinds h from the surface. Detach is sent even for handles that
// were never attached so the surface can drop warmed tiles.
func (c *Cache) release(h *Handle) {
	h.attached = false
	c.surface.Detach(h)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
