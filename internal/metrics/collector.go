// Package metrics records scoped timing spans for the overlay pipeline.
//
// A Collector is constructed explicitly and handed to the components that
// measure something; there is no process-wide instance. All methods are safe
// on a nil *Collector and on a nil *Span, which turns measurement off.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultMaxEntries = 1024

// Metric is one finished span.
type Metric struct {
	Name     string         `json:"name"`
	Start    time.Time      `json:"start"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Summary aggregates every retained metric sharing a name.
type Summary struct {
	Count   int           `json:"count"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
}

// Collector is a bounded, concurrency-safe span recorder.
type Collector struct {
	mu         sync.Mutex
	metrics    []Metric
	maxEntries int
	now        func() time.Time
}

// NewCollector keeps at most maxEntries finished spans (oldest dropped first).
// maxEntries <= 0 selects a default.
func NewCollector(maxEntries int) *Collector {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Collector{
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Span measures one operation between Start and End.
type Span struct {
	c     *Collector
	name  string
	start time.Time
	ended bool
}

// Start opens a span. The returned span must be ended exactly once; extra
// End calls are ignored.
func (c *Collector) Start(name string) *Span {
	if c == nil {
		return nil
	}
	return &Span{c: c, name: name, start: c.now()}
}

// End closes the span, records it and returns its duration.
func (s *Span) End(metadata map[string]any) time.Duration {
	if s == nil || s.ended {
		return 0
	}
	s.ended = true
	d := s.c.now().Sub(s.start)
	s.c.record(Metric{Name: s.name, Start: s.start, Duration: d, Metadata: metadata})
	return d
}

func (c *Collector) record(m Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, m)
	if over := len(c.metrics) - c.maxEntries; over > 0 {
		c.metrics = append(c.metrics[:0:0], c.metrics[over:]...)
	}
}

// Snapshot returns a copy of the retained metrics in recording order.
func (c *Collector) Snapshot() []Metric {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Metric, len(c.metrics))
	copy(out, c.metrics)
	return out
}

// Average returns the mean duration of the named span.
func (c *Collector) Average(name string) (time.Duration, bool) {
	if c == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		sum time.Duration
		n   int
	)
	for _, m := range c.metrics {
		if m.Name == name {
			sum += m.Duration
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / time.Duration(n), true
}

// Summaries groups the retained metrics by name.
func (c *Collector) Summaries() map[string]Summary {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sums := make(map[string]time.Duration)
	out := make(map[string]Summary)
	for _, m := range c.metrics {
		s := out[m.Name]
		s.Count++
		if m.Duration > s.Max {
			s.Max = m.Duration
		}
		sums[m.Name] += m.Duration
		out[m.Name] = s
	}
	for name, s := range out {
		s.Average = sums[name] / time.Duration(s.Count)
		out[name] = s
	}
	return out
}

// Names lists the distinct span names, sorted.
func (c *Collector) Names() []string {
	summaries := c.Summaries()
	names := make([]string, 0, len(summaries))
	for n := range summaries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset drops every retained metric.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.metrics = nil
	c.mu.Unlock()
}
