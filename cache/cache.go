package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/pagefetch/models"
)

// Entry is a cached API response and the time it was stored.
type Entry struct {
	Response  *models.FetchAPIResponse
	CreatedAt time.Time
}

// Fresh reports whether the entry is younger than maxAge.
func (e Entry) Fresh(maxAge time.Duration, now time.Time) bool {
	return maxAge > 0 && now.Sub(e.CreatedAt) <= maxAge
}

// Store persists fetch responses by key. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the entry for key regardless of its age, as long as it
	// has not expired from the store.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, resp *models.FetchAPIResponse) error
	Close() error
}

// Key hashes every input that changes what a fetch captures or how the
// body is converted. Charset is left out: it only affects CLI output.
func Key(req *models.FetchRequest, engine, format, selector string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(req.URL)
	write(req.Method)
	if req.Body != nil {
		write("body:" + *req.Body)
	} else {
		write("nobody")
	}
	write(req.Cookie)
	write(req.UserAgent)
	write(strconv.Itoa(req.SettleDelayMs))
	write(strconv.Itoa(req.ResourceTimeoutSec))
	write(strconv.FormatBool(req.Stealth))
	write(req.Proxy)
	write(engine)
	write(format)
	write(selector)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStore is an in-process Store. At capacity the oldest entry is
// evicted; a background loop drops entries older than the TTL.
type MemoryStore struct {
	mu         sync.RWMutex
	store      map[string]Entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a MemoryStore holding at most maxEntries responses for
// at most ttl.
func NewMemory(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &MemoryStore{
		store:      make(map[string]Entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok || c.expired(e) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (c *MemoryStore) Set(_ context.Context, key string, resp *models.FetchAPIResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.store[key] = Entry{Response: resp, CreatedAt: c.now()}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup loop.
func (c *MemoryStore) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryStore) expired(e Entry) bool {
	return c.ttl > 0 && c.now().Sub(e.CreatedAt) > c.ttl
}

func (c *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.store {
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey, oldest = k, e.CreatedAt
		}
	}
	delete(c.store, oldestKey)
}

func (c *MemoryStore) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if c.expired(e) {
			delete(c.store, k)
		}
	}
}

// cleanupLoop evicts expired entries every ttl/4 (at least once a minute).
func (c *MemoryStore) cleanupLoop() {
	every := c.ttl / 4
	if every <= 0 || every > time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.stop:
			return
		}
	}
}
