package services

import (
	"sync"
	"time"

	"subscription-api/pkg/logging"
)

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

// ttlCache is a process-local map whose entries expire after a fixed TTL.
// A background goroutine drops expired entries until Stop is called.
type ttlCache struct {
	name            string
	entries         map[string]ttlEntry
	mutex           sync.RWMutex
	cleanupInterval time.Duration
	ttl             time.Duration
	now             func() time.Time
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

func newTTLCache(name string, ttl, cleanupInterval time.Duration) *ttlCache {
	c := &ttlCache{
		name:            name,
		entries:         make(map[string]ttlEntry),
		cleanupInterval: cleanupInterval,
		ttl:             ttl,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
	}

	go c.startCleanupRoutine()

	return c
}

func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) set(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = ttlEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *ttlCache) delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)
}

func (c *ttlCache) startCleanupRoutine() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *ttlCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	initialCount := len(c.entries)

	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	cleanedCount := initialCount - len(c.entries)
	if cleanedCount > 0 {
		logging.Debugf("%s cleanup: removed %d expired entries, remaining: %d", c.name, cleanedCount, len(c.entries))
	}
}

func (c *ttlCache) stats() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return map[string]interface{}{
		"entries":          len(c.entries),
		"cleanup_interval": c.cleanupInterval.String(),
		"ttl":              c.ttl.String(),
	}
}

func (c *ttlCache) stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
