package capture

// Shared frame cache (C4): one logical slot, multiple named consumers,
// reference-counted so a slow consumer never sees storage freed out
// from under it. Grounded on the latest-wins, single-slot channel
// pattern used for frame delivery elsewhere in the retrieved corpus,
// extended here with the consumer-id bookkeeping and sweeper the spec
// requires.

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

const defaultSessionTimeout = 5 * time.Minute

type consumerRecord struct {
	firstAccess time.Time
	lastAccess  time.Time
	hitCount    int64
	refs        int
}

type cacheEntry struct {
	frame     *types.Frame
	refcount  int32
	superseded bool
}

// FrameHandle is a reference-counted view into one published frame. The
// consumer must call Release when done; the underlying frame stays
// alive until every outstanding handle for it is released.
type FrameHandle struct {
	Frame *types.Frame
	cache *Cache
	id    string
}

// Release drops this handle's reference. Safe to call more than once;
// only the first call has an effect, per §8's idempotence property.
func (h *FrameHandle) Release() {
	if h == nil || h.cache == nil {
		return
	}
	h.cache.release(h.id)
	h.cache = nil
}

// Cache implements the single-slot, multi-consumer store.
type Cache struct {
	mu              sync.Mutex
	entry           *cacheEntry
	consumers       map[string]*consumerRecord
	sessionTimeout  time.Duration
	logger          *zap.Logger
	stopSweep       chan struct{}
	sweepDone       chan struct{}
}

// NewCache constructs an empty cache and starts its staleness sweeper.
func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		consumers:      make(map[string]*consumerRecord),
		sessionTimeout: defaultSessionTimeout,
		logger:         logger,
		stopSweep:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Publish replaces the slot atomically. The previous frame, if any
// consumer still references it, remains reachable through their
// existing FrameHandles until they release.
func (c *Cache) Publish(frame *types.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry != nil {
		c.entry.superseded = true
		if c.entry.refcount == 0 {
			c.entry = nil // nothing held it; drop immediately
		}
	}
	c.entry = &cacheEntry{frame: frame, refcount: 0}
}

// Acquire returns a reference-counted handle to the current frame under
// consumerID, or nil if nothing has been published yet. Re-acquiring
// under the same id just updates its access timestamp and hit count;
// it does not stack additional outstanding handles beyond what the
// caller explicitly holds.
func (c *Cache) Acquire(consumerID string) *FrameHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return nil
	}
	now := time.Now()
	rec, ok := c.consumers[consumerID]
	if !ok {
		rec = &consumerRecord{firstAccess: now}
		c.consumers[consumerID] = rec
	}
	rec.lastAccess = now
	rec.hitCount++
	rec.refs++
	c.entry.refcount++
	return &FrameHandle{Frame: c.entry.frame, cache: c, id: consumerID}
}

func (c *Cache) release(consumerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.consumers[consumerID]
	if !ok || rec.refs == 0 {
		return // double-release is a no-op, per the idempotence property
	}
	rec.refs--
	if c.entry != nil && c.entry.refcount > 0 {
		c.entry.refcount--
		if c.entry.superseded && c.entry.refcount == 0 {
			c.entry = nil
		}
	}
}

// sweepLoop unregisters consumer records whose last access predates
// sessionTimeout, so a client that forgot to release can't leak a slot
// in the consumer map forever.
func (c *Cache) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.sweepStale()
		}
	}
}

func (c *Cache) sweepStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.sessionTimeout)
	for id, rec := range c.consumers {
		if rec.refs == 0 && rec.lastAccess.Before(cutoff) {
			delete(c.consumers, id)
			c.logger.Debug("cache: swept stale consumer", zap.String("consumer", id))
		}
	}
}

// Close stops the sweeper. Intended for test/teardown use; production
// worker lifetime spans the process.
func (c *Cache) Close() {
	close(c.stopSweep)
	<-c.sweepDone
}
