// Package convcache implements the two-tier (in-process + Redis) cache
// fronting conversation-list reads, so a session repeatedly paging its own
// conversation list does not hit the repository on every request.
package convcache

import (
	"sync"
	"time"

	"github.com/romanbabin/convogate/pkg/metrics"
)

// Page is one cached page of a session's conversation list.
type Page struct {
	Conversations []ConversationView
	Total         int
}

// ConversationView is the cache's copy of a conversation summary. It mirrors
// the handler's wire shape rather than importing internal/domain, so the
// cache package has no dependency on the storage layer.
type ConversationView struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Escalated bool
}

type l1Entry struct {
	value      Page
	expiresAt  time.Time
	accessTime time.Time
}

// l1Cache is an in-memory, per-process cache of conversation list pages.
// Eviction is oldest-accessed-first once maxEntries is reached; expired
// entries are reclaimed by a periodic sweep rather than on every Get, so a
// read under load never pays for cleanup.
type l1Cache struct {
	mu         sync.RWMutex
	entries    map[string]*l1Entry
	maxEntries int
	ttl        time.Duration
	metrics    *metrics.ConversationCacheMetrics
}

func newL1Cache(maxEntries int, ttl time.Duration, m *metrics.ConversationCacheMetrics) *l1Cache {
	c := &l1Cache{
		entries:    make(map[string]*l1Entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		metrics:    m,
	}
	return c
}

// run sweeps expired entries every interval until stop is closed. Callers start
// it in its own goroutine.
func (c *l1Cache) run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *l1Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.L1Entries.Set(float64(size))
	}
}

func (c *l1Cache) get(key string) (Page, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Page{}, false
	}
	if time.Now().After(entry.expiresAt) {
		return Page{}, false
	}

	c.mu.Lock()
	entry.accessTime = time.Now()
	c.mu.Unlock()

	return entry.value, true
}

func (c *l1Cache) set(key string, value Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &l1Entry{
		value:      value,
		expiresAt:  time.Now().Add(c.ttl),
		accessTime: time.Now(),
	}
}

// evictOldestLocked removes the least-recently-accessed entry. Callers must
// hold c.mu.
func (c *l1Cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldestTime) {
			oldestKey, oldestTime, first = key, entry.accessTime, false
		}
	}
	if oldestKey == "" {
		return
	}
	delete(c.entries, oldestKey)
	if c.metrics != nil {
		c.metrics.EvictionsTotal.Inc()
	}
}

// deleteSession removes every cached page for sessionID. Pages are keyed
// with the session ID as a prefix, so this is a linear scan rather than a
// per-page delete list; conversation lists are small enough (single-session
// page counts) that this stays cheap.
func (c *l1Cache) deleteSession(sessionPrefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(sessionPrefix) && key[:len(sessionPrefix)] == sessionPrefix {
			delete(c.entries, key)
		}
	}
}

func (c *l1Cache) stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"entries":     len(c.entries),
		"max_entries": c.maxEntries,
	}
}
