package surface

import (
	"container/list"
	"strings"
)

// tileCache is a least-recently-used map of tile bytes. Callers hold the
// surface mutex.
type tileCache struct {
	max   int
	order *list.List
	items map[string]*list.Element
}

type tileEntry struct {
	key  string
	data []byte
}

func newTileCache(max int) *tileCache {
	return &tileCache{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *tileCache) get(key string) ([]byte, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*tileEntry).data, true
}

func (c *tileCache) put(key string, data []byte) {
	if el, ok := c.items[key]; ok {
		el.Value.(*tileEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&tileEntry{key: key, data: data})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*tileEntry).key)
	}
}

func (c *tileCache) dropPrefix(prefix string) {
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(el)
			delete(c.items, key)
		}
	}
}

func (c *tileCache) len() int { return c.order.Len() }
