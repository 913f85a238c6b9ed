// Package cache keeps resolved parameter values per merchant and removes
// them when an override anywhere in their inheritance chain changes.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/metric"

	params "github.com/goliatone/go-params"
)

// DefaultTTL is the lifetime of an entry measured from insertion.
const DefaultTTL = 300 * time.Second

// Key builds the composite cache key for a parameter resolved for a merchant.
// Colons and backslashes in name are escaped so the first bare colon always
// ends the parameter name.
func Key(name, merchantID string) string {
	return keyEscaper.Replace(name) + ":" + merchantID
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// Generation marks a point in the invalidation history of a Cache.
type Generation uint64

// Option configures a Cache.
type Option func(*Cache)

func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity bounds the number of entries. Zero means unbounded.
func WithCapacity(capacity uint64) Option {
	return func(c *Cache) { c.capacity = capacity }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeter records hit, miss and invalidation counters on meter instead of
// the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(c *Cache) { c.meter = meter }
}

// WithClock overrides the clock used to cap entry lifetimes at the value's
// expiration date.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// SetOption configures a single Set call.
type SetOption func(*setConfig)

type setConfig struct {
	ttl     time.Duration
	chain   params.InheritanceChain
	gen     Generation
	guarded bool
}

// WithTTL overrides the default lifetime for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(cfg *setConfig) { cfg.ttl = ttl }
}

// ResolvedAt drops the Set when any level of the entry, or its parameter, was
// invalidated after gen. Take gen with Generation before reading the
// repository.
func ResolvedAt(gen Generation) SetOption {
	return func(cfg *setConfig) {
		cfg.gen = gen
		cfg.guarded = true
	}
}

// WithChain records the chain the value was resolved against so that a
// change at any of its levels invalidates the entry.
func WithChain(chain params.InheritanceChain) SetOption {
	return func(cfg *setConfig) { cfg.chain = chain }
}

type indexEntry struct {
	item   *ttlcache.Item[string, params.ParameterValue]
	levels []string
}

// Cache is safe for concurrent use. Entries for different keys are
// independent and the last accepted Set for a key wins.
type Cache struct {
	ttl      time.Duration
	capacity uint64
	logger   *slog.Logger
	meter    metric.Meter
	now      func() time.Time

	entries   *ttlcache.Cache[string, params.ParameterValue]
	telemetry telemetry

	mu sync.Mutex
	// levels maps name+level to the cache keys resolved through that level.
	levels map[string]map[string]struct{}
	// keys maps a cache key back to its stored item and the level entries
	// that reference it.
	keys map[string]indexEntry

	// seq counts invalidations. invalidated and parameters record the last
	// seq at which a level or a whole parameter was dropped; flushed covers
	// pattern invalidations.
	seq         uint64
	invalidated map[string]uint64
	parameters  map[string]uint64
	flushed     uint64

	started atomic.Bool
	stopped atomic.Bool
}

func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
		levels:      map[string]map[string]struct{}{},
		keys:        map[string]indexEntry{},
		invalidated: map[string]uint64{},
		parameters:  map[string]uint64{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	cacheOpts := []ttlcache.Option[string, params.ParameterValue]{
		ttlcache.WithTTL[string, params.ParameterValue](c.ttl),
		ttlcache.WithDisableTouchOnHit[string, params.ParameterValue](),
	}
	if c.capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, params.ParameterValue](c.capacity))
	}
	c.entries = ttlcache.New(cacheOpts...)
	c.entries.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, params.ParameterValue]) {
		// Deletions come from invalidation, which already cleaned the index.
		if reason == ttlcache.EvictionReasonDeleted {
			return
		}
		c.forget(item)
	})
	c.telemetry = newTelemetry(c.meter)
	return c
}

// Start runs the expiry loop in the background until Close.
func (c *Cache) Start() {
	if c.stopped.Load() || !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.entries.Start()
}

// Close stops the expiry loop and drops every entry.
func (c *Cache) Close() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	if c.started.Load() {
		c.entries.Stop()
	}
	c.entries.DeleteAll()
	c.mu.Lock()
	c.levels = map[string]map[string]struct{}{}
	c.keys = map[string]indexEntry{}
	c.mu.Unlock()
}

// Generation returns the current invalidation generation.
func (c *Cache) Generation() Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Generation(c.seq)
}

// Get returns the cached value of name for merchantID.
func (c *Cache) Get(ctx context.Context, name, merchantID string) (params.ParameterValue, bool) {
	item := c.entries.Get(Key(name, merchantID))
	hit := item != nil && !item.IsExpired()
	c.telemetry.recordLookup(ctx, name, hit)
	if !hit {
		return params.ParameterValue{}, false
	}
	return item.Value().Clone(), true
}

// GetBulk returns the cached subset of names for merchantID.
func (c *Cache) GetBulk(ctx context.Context, names []string, merchantID string) map[string]params.ParameterValue {
	out := make(map[string]params.ParameterValue, len(names))
	for _, name := range names {
		if value, ok := c.Get(ctx, name, merchantID); ok {
			out[name] = value
		}
	}
	return out
}

// Set stores value for name and merchantID. Entries never outlive the
// value's own expiration date; an already expired value is not stored.
func (c *Cache) Set(ctx context.Context, name, merchantID string, value params.ParameterValue, opts ...SetOption) {
	if name == "" || merchantID == "" {
		return
	}
	cfg := setConfig{ttl: c.ttl}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	ttl := cfg.ttl
	if ttl <= 0 {
		ttl = c.ttl
	}
	if value.ExpirationDate != nil {
		remaining := value.ExpirationDate.Sub(c.now())
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}

	key := Key(name, merchantID)
	levels := []string{levelKey(name, params.EntityMerchant, merchantID)}
	for _, level := range cfg.chain {
		if level.EntityType == params.EntityMerchant && level.EntityID == merchantID {
			continue
		}
		levels = append(levels, levelKey(name, level.EntityType, level.EntityID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.guarded && c.staleLocked(name, levels, cfg.gen) {
		c.logger.Debug("dropped value resolved before an invalidation",
			slog.String("parameter", name),
			slog.String("merchant_id", merchantID))
		return
	}
	item := c.entries.Set(key, value.Clone(), ttl)
	c.unindexLocked(key)
	for _, lk := range levels {
		set := c.levels[lk]
		if set == nil {
			set = map[string]struct{}{}
			c.levels[lk] = set
		}
		set[key] = struct{}{}
	}
	c.keys[key] = indexEntry{item: item, levels: levels}
}

func (c *Cache) staleLocked(name string, levels []string, gen Generation) bool {
	since := uint64(gen)
	if c.flushed > since || c.parameters[name] > since {
		return true
	}
	for _, lk := range levels {
		if c.invalidated[lk] > since {
			return true
		}
	}
	return false
}

// SetBulk stores every value of values for merchantID with the same options.
func (c *Cache) SetBulk(ctx context.Context, merchantID string, values map[string]params.ParameterValue, opts ...SetOption) {
	for name, value := range values {
		if ctx.Err() != nil {
			return
		}
		c.Set(ctx, name, merchantID, value, opts...)
	}
}

// InvalidateHierarchy removes every entry of name resolved through the given
// level, plus the direct entry when the level is a merchant. It returns the
// number of entries removed.
func (c *Cache) InvalidateHierarchy(ctx context.Context, name string, entityType params.EntityType, entityID string) int {
	lk := levelKey(name, entityType, entityID)
	c.mu.Lock()
	c.seq++
	c.invalidated[lk] = c.seq
	var victims []string
	for key := range c.levels[lk] {
		victims = append(victims, key)
	}
	if entityType == params.EntityMerchant {
		direct := Key(name, entityID)
		if _, indexed := c.keys[direct]; !indexed {
			victims = append(victims, direct)
		}
	}
	removed := c.removeLocked(victims)
	c.mu.Unlock()

	c.telemetry.recordInvalidation(ctx, "hierarchy", removed)
	c.logger.Debug("invalidated parameter hierarchy",
		slog.String("parameter", name),
		slog.String("entity_type", entityType.String()),
		slog.String("entity_id", entityID),
		slog.Int("removed", removed))
	return removed
}

// InvalidateByPattern removes every entry whose key matches the glob pattern
// and returns how many were removed. The syntax is path.Match, except that
// "/" is an ordinary character, so "fee:*" also matches merchant ids that
// contain slashes. Colons inside parameter names are escaped as in Key.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	flat := flattenSlashes(pattern)
	if _, err := path.Match(flat, ""); err != nil {
		return 0, fmt.Errorf("cache: invalid pattern %q: %w", pattern, err)
	}
	c.mu.Lock()
	c.seq++
	c.flushed = c.seq
	removed := c.removeLocked(c.matchKeys(func(key string) bool {
		ok, _ := path.Match(flat, flattenSlashes(key))
		return ok
	}))
	c.mu.Unlock()
	c.telemetry.recordInvalidation(ctx, "pattern", removed)
	return removed, nil
}

// InvalidateParameter removes every cached entry of name.
func (c *Cache) InvalidateParameter(ctx context.Context, name string) int {
	prefix := Key(name, "")
	c.mu.Lock()
	c.seq++
	c.parameters[name] = c.seq
	removed := c.removeLocked(c.matchKeys(func(key string) bool { return strings.HasPrefix(key, prefix) }))
	c.mu.Unlock()
	c.telemetry.recordInvalidation(ctx, "parameter", removed)
	return removed
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) matchKeys(match func(string) bool) []string {
	var victims []string
	for _, key := range c.entries.Keys() {
		if match(key) {
			victims = append(victims, key)
		}
	}
	return victims
}

// removeLocked unindexes and deletes keys. Eviction callbacks run on their
// own goroutines, so holding mu here is safe.
func (c *Cache) removeLocked(keys []string) int {
	removed := 0
	for _, key := range keys {
		c.unindexLocked(key)
		if c.entries.Has(key) {
			removed++
		}
		c.entries.Delete(key)
	}
	return removed
}

// forget drops the index of an evicted item unless the key has since been
// stored again.
func (c *Cache) forget(item *ttlcache.Item[string, params.ParameterValue]) {
	c.mu.Lock()
	if entry, ok := c.keys[item.Key()]; ok && entry.item == item {
		c.unindexLocked(item.Key())
	}
	c.mu.Unlock()
}

func (c *Cache) unindexLocked(key string) {
	for _, lk := range c.keys[key].levels {
		set := c.levels[lk]
		delete(set, key)
		if len(set) == 0 {
			delete(c.levels, lk)
		}
	}
	delete(c.keys, key)
}

// flattenSlashes hides "/" from path.Match so that "*" crosses it.
func flattenSlashes(s string) string {
	return strings.ReplaceAll(s, "/", "\x00")
}

func levelKey(name string, entityType params.EntityType, entityID string) string {
	return name + "\x00" + string(entityType) + "\x00" + entityID
}
