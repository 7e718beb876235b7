package lease

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/capgate/internal/metrics"
)

// Defaults for a Coordinator.
const (
	DefaultPrefix     = "capgate:lease:"
	DefaultMaxEntries = 256
	DefaultTTLMs      = 5_000
)

// Claim outcomes recorded in metrics.
const (
	resultGranted    = "granted"
	resultRenewed    = "renewed"
	resultDenied     = "denied"
	resultStoreError = "store_error"
)

// Config holds the coordinator's namespace and memory bound.
type Config struct {
	// Prefix namespaces every key this coordinator reads or writes.
	Prefix string
	// MaxEntries caps the in-memory mirror.
	MaxEntries int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{Prefix: DefaultPrefix, MaxEntries: DefaultMaxEntries}
}

// ClaimResult is the outcome of Claim. On denial OwnerAttemptID names the
// current holder, or is empty when the store could not confirm anything.
type ClaimResult struct {
	Acquired       bool   `json:"acquired"`
	OwnerAttemptID string `json:"owner_attempt_id,omitempty"`
	ExpiresAtMs    int64  `json:"expires_at_ms,omitempty"`
}

// Lease is a mirrored lease as reported by Leases.
type Lease struct {
	ResourceID string `json:"resource_id"`
	Record
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records claim and release outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.metrics = r
	}
}

// Coordinator grants leases over a shared Store.
//
// Thread-safety: all methods are safe for concurrent use. Claims and
// releases within one Coordinator are serialized, store I/O included.
type Coordinator struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Recorder

	hydrateGroup singleflight.Group
	hydrated     atomic.Bool
	hydrations   atomic.Int64

	mu       sync.Mutex
	leases   map[string]*leaseEntry
	byExpiry expiryHeap
}

// NewCoordinator creates a coordinator over store. It panics on a nil store.
func NewCoordinator(store Store, cfg Config, opts ...Option) *Coordinator {
	if store == nil {
		panic("lease: nil Store")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	c := &Coordinator{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		leases: make(map[string]*leaseEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim tries to take, or extend, the lease on resourceID for claimantID
// until nowMs+ttlMs. A non-positive ttl is floored to 1ms. Claim never
// returns an error: store failures surface as a denial with no owner.
func (c *Coordinator) Claim(ctx context.Context, resourceID, claimantID string, ttlMs, nowMs int64) ClaimResult {
	c.ensureHydrated(ctx)

	c.mu.Lock()
	result, outcome := c.claimLocked(ctx, resourceID, claimantID, ttlMs, nowMs)
	c.mu.Unlock()

	c.metrics.LeaseClaim(ctx, outcome)
	return result
}

func (c *Coordinator) claimLocked(ctx context.Context, resourceID, claimantID string, ttlMs, nowMs int64) (ClaimResult, string) {
	c.pruneExpired(ctx, nowMs)

	if ttlMs < 1 {
		ttlMs = 1
	}
	key := c.key(resourceID)

	prev, cached := c.leases[resourceID]
	if cached && prev.rec.OwnerAttemptID != claimantID {
		c.logger.Debug("lease claim denied",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"owner_attempt_id", prev.rec.OwnerAttemptID,
			"expires_at_ms", prev.rec.ExpiresAtMs,
		)
		return denied(prev.rec), resultDenied
	}

	if !cached {
		// Another process may have claimed since hydration.
		raw, found, err := c.store.Get(ctx, key)
		if err != nil {
			c.logger.Warn("lease store read failed, denying claim",
				"resource_id", resourceID,
				"claimant_id", claimantID,
				"error", err,
			)
			return ClaimResult{}, resultStoreError
		}
		if found {
			if rec, err := DecodeRecord(raw); err == nil && rec.LiveAt(nowMs) && rec.OwnerAttemptID != claimantID {
				c.put(resourceID, rec)
				return denied(rec), resultDenied
			}
		}
	}

	var prevRec Record
	if cached {
		prevRec = prev.rec
	}
	rec := Record{
		OwnerAttemptID: claimantID,
		ExpiresAtMs:    nowMs + ttlMs,
		UpdatedAtMs:    nowMs,
	}
	value, err := EncodeRecord(rec)
	if err != nil {
		return ClaimResult{}, resultStoreError
	}

	evicted := c.put(resourceID, rec)
	if err := c.store.Set(ctx, key, value); err != nil {
		c.rollback(resourceID, cached, prevRec, evicted)
		c.logger.Warn("lease store write failed, claim rolled back",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"error", err,
		)
		return ClaimResult{}, resultStoreError
	}

	outcome := resultGranted
	if cached {
		outcome = resultRenewed
	}
	c.logger.Debug("lease claim granted",
		"resource_id", resourceID,
		"claimant_id", claimantID,
		"expires_at_ms", rec.ExpiresAtMs,
		"renewed", cached,
	)
	return ClaimResult{
		Acquired:       true,
		OwnerAttemptID: claimantID,
		ExpiresAtMs:    rec.ExpiresAtMs,
	}, outcome
}

// Release gives up claimantID's lease on resourceID. It returns true only
// when a live lease owned by claimantID was removed; a second call, a call
// by anyone else, or a failed store removal returns false.
func (c *Coordinator) Release(ctx context.Context, resourceID, claimantID string, nowMs int64) bool {
	c.ensureHydrated(ctx)

	c.mu.Lock()
	released := c.releaseLocked(ctx, resourceID, claimantID, nowMs)
	c.mu.Unlock()

	c.metrics.LeaseRelease(ctx, released)
	return released
}

func (c *Coordinator) releaseLocked(ctx context.Context, resourceID, claimantID string, nowMs int64) bool {
	c.pruneExpired(ctx, nowMs)

	e, ok := c.leases[resourceID]
	if !ok {
		return c.releaseUnmirrored(ctx, resourceID, claimantID, nowMs)
	}
	if e.rec.OwnerAttemptID != claimantID {
		return false
	}

	rec := e.rec
	c.remove(resourceID)
	if err := c.store.Remove(ctx, c.key(resourceID)); err != nil {
		c.put(resourceID, rec)
		c.logger.Warn("lease store remove failed, release rolled back",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"error", err,
		)
		return false
	}

	c.logger.Debug("lease released",
		"resource_id", resourceID,
		"claimant_id", claimantID,
	)
	return true
}

// releaseUnmirrored releases a lease the mirror does not hold, such as one
// evicted at capacity, after checking ownership against the store row.
func (c *Coordinator) releaseUnmirrored(ctx context.Context, resourceID, claimantID string, nowMs int64) bool {
	raw, found, err := c.store.Get(ctx, c.key(resourceID))
	if err != nil {
		c.logger.Warn("lease store read failed, release refused",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"error", err,
		)
		return false
	}
	if !found {
		return false
	}
	rec, err := DecodeRecord(raw)
	if err != nil || !rec.LiveAt(nowMs) || rec.OwnerAttemptID != claimantID {
		return false
	}
	if err := c.store.Remove(ctx, c.key(resourceID)); err != nil {
		c.logger.Warn("lease store remove failed, release refused",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"error", err,
		)
		return false
	}

	c.logger.Debug("unmirrored lease released",
		"resource_id", resourceID,
		"claimant_id", claimantID,
	)
	return true
}

// Leases returns the live mirrored leases sorted by resource id.
func (c *Coordinator) Leases(ctx context.Context, nowMs int64) []Lease {
	c.ensureHydrated(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneExpired(ctx, nowMs)

	out := make([]Lease, 0, len(c.leases))
	for id, e := range c.leases {
		out = append(out, Lease{ResourceID: id, Record: e.rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// Len returns the number of mirrored leases, expired ones included until
// the next prune.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.leases)
}

// Hydrations returns how many full-namespace reads have completed.
func (c *Coordinator) Hydrations() int64 {
	return c.hydrations.Load()
}

// ensureHydrated loads the namespace into the mirror once. Concurrent
// callers share a single in-flight read. A failed read leaves the
// coordinator unhydrated so the next call retries.
func (c *Coordinator) ensureHydrated(ctx context.Context) {
	if c.hydrated.Load() {
		return
	}
	_, _, _ = c.hydrateGroup.Do("hydrate", func() (any, error) {
		if c.hydrated.Load() {
			return nil, nil
		}
		all, err := c.store.GetAll(ctx, c.cfg.Prefix)
		if err != nil {
			c.logger.Warn("lease hydration failed",
				"prefix", c.cfg.Prefix,
				"error", err,
			)
			return nil, err
		}

		c.mu.Lock()
		var loaded, corrupt int
		for key, raw := range all {
			if !strings.HasPrefix(key, c.cfg.Prefix) {
				continue
			}
			resourceID := strings.TrimPrefix(key, c.cfg.Prefix)
			if _, exists := c.leases[resourceID]; exists {
				continue
			}
			rec, err := DecodeRecord(raw)
			if err != nil {
				corrupt++
				continue
			}
			c.put(resourceID, rec)
			loaded++
		}
		c.mu.Unlock()

		c.hydrated.Store(true)
		c.hydrations.Add(1)
		c.logger.Debug("lease mirror hydrated",
			"prefix", c.cfg.Prefix,
			"loaded", loaded,
			"corrupt", corrupt,
		)
		return nil, nil
	})
}

// pruneExpired drops every mirrored lease with ExpiresAtMs ≤ nowMs and
// removes it from the store. Store failures are ignored: the lease is
// already logically gone.
func (c *Coordinator) pruneExpired(ctx context.Context, nowMs int64) {
	for {
		e := c.byExpiry.peek()
		if e == nil || e.rec.LiveAt(nowMs) {
			return
		}
		c.remove(e.resourceID)
		if err := c.store.Remove(ctx, c.key(e.resourceID)); err != nil {
			c.logger.Debug("expired lease removal failed",
				"resource_id", e.resourceID,
				"error", err,
			)
		}
	}
}

// put inserts or updates a mirrored lease. Inserting a new key at capacity
// first evicts the soonest-expiring entry, which is returned so a failed
// write can restore it.
func (c *Coordinator) put(resourceID string, rec Record) *leaseEntry {
	if e, ok := c.leases[resourceID]; ok {
		e.rec = rec
		heap.Fix(&c.byExpiry, e.index)
		return nil
	}

	var evicted *leaseEntry
	if len(c.leases) >= c.cfg.MaxEntries {
		evicted = heap.Pop(&c.byExpiry).(*leaseEntry)
		delete(c.leases, evicted.resourceID)
		c.logger.Debug("lease evicted at capacity",
			"resource_id", evicted.resourceID,
			"expires_at_ms", evicted.rec.ExpiresAtMs,
		)
	}

	e := &leaseEntry{resourceID: resourceID, rec: rec}
	heap.Push(&c.byExpiry, e)
	c.leases[resourceID] = e
	return evicted
}

func (c *Coordinator) remove(resourceID string) {
	e, ok := c.leases[resourceID]
	if !ok {
		return
	}
	heap.Remove(&c.byExpiry, e.index)
	delete(c.leases, resourceID)
}

// rollback undoes a put after a failed store write.
func (c *Coordinator) rollback(resourceID string, hadPrev bool, prev Record, evicted *leaseEntry) {
	if hadPrev {
		c.put(resourceID, prev)
	} else {
		c.remove(resourceID)
	}
	if evicted != nil {
		c.put(evicted.resourceID, evicted.rec)
	}
}

func (c *Coordinator) key(resourceID string) string {
	return c.cfg.Prefix + resourceID
}

func denied(rec Record) ClaimResult {
	return ClaimResult{
		OwnerAttemptID: rec.OwnerAttemptID,
		ExpiresAtMs:    rec.ExpiresAtMs,
	}
}
