package scheduler

import (
	"container/list"
	"time"
)

// dedupeCache is a bounded least-recently-used map from context id to the
// last change-request time the scheduler handled for it.  It only exists
// to skip obviously redundant work within one process; correctness rests
// entirely on the persisted watermark comparison, so evicting an entry is
// always safe.
type dedupeCache struct {
	cap     int
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type dedupeEntry struct {
	contextID string
	handledAt time.Time
}

func newDedupeCache(capacity int) *dedupeCache {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupeCache{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

// Handled reports whether the given request time has already been handled
// for the context, i.e. the cached time is not older than requestedAt.
func (c *dedupeCache) Handled(contextID string, requestedAt time.Time) bool {
	el, ok := c.entries[contextID]
	if !ok {
		return false
	}
	c.order.MoveToFront(el)
	return !el.Value.(*dedupeEntry).handledAt.Before(requestedAt)
}

// Put records that work up to requestedAt was handled for the context,
// evicting the least recently used entry when full.
func (c *dedupeCache) Put(contextID string, requestedAt time.Time) {
	if el, ok := c.entries[contextID]; ok {
		el.Value.(*dedupeEntry).handledAt = requestedAt
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.cap {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*dedupeEntry).contextID)
		}
	}
	c.entries[contextID] = c.order.PushFront(&dedupeEntry{
		contextID: contextID, handledAt: requestedAt,
	})
}

// Len returns the current entry count.
func (c *dedupeCache) Len() int { return c.order.Len() }
