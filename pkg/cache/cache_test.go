package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/cache"
)

func override(name string, entityType params.EntityType, entityID string, value params.Value) params.ParameterValue {
	return params.ParameterValue{
		ID:            entityID + "-" + name,
		EntityType:    entityType,
		EntityID:      entityID,
		ParameterName: name,
		Value:         value,
		EffectiveDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Overridden:    true,
		Version:       1,
		State:         params.StateActive,
	}
}

func chainFor(merchant, org, program, bank string) params.InheritanceChain {
	return params.NewInheritanceChain(
		params.ChainLevel{EntityType: params.EntityMerchant, EntityID: merchant},
		params.ChainLevel{EntityType: params.EntityOrganization, EntityID: org},
		params.ChainLevel{EntityType: params.EntityProgram, EntityID: program},
		params.ChainLevel{EntityType: params.EntityBank, EntityID: bank},
	)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "maxRefundAmount:m1", cache.Key("maxRefundAmount", "m1"))
	assert.NotEqual(t, cache.Key("a:b", "c"), cache.Key("a", "b:c"))
	assert.NotEqual(t, cache.Key(`a\`, "b"), cache.Key("a", `\b`))
}

func TestColonsDoNotMixEntries(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	c.Set(ctx, "a:b", "c", override("a:b", params.EntityMerchant, "c", params.StringValue("AB")))
	_, ok := c.Get(ctx, "a", "b:c")
	assert.False(t, ok, "a different parameter and merchant must miss")

	c.Set(ctx, "a", "b:c", override("a", params.EntityMerchant, "b:c", params.StringValue("A")))
	got, ok := c.Get(ctx, "a:b", "c")
	require.True(t, ok)
	assert.Equal(t, "AB", got.Value.String())

	assert.Equal(t, 1, c.InvalidateParameter(ctx, "a"))
	_, ok = c.Get(ctx, "a:b", "c")
	assert.True(t, ok, "invalidating a keeps a:b")
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	_, ok := c.Get(ctx, "currency", "m1")
	assert.False(t, ok)

	value := override("currency", params.EntityOrganization, "o1", params.StringValue("EUR"))
	c.Set(ctx, "currency", "m1", value)

	got, ok := c.Get(ctx, "currency", "m1")
	require.True(t, ok)
	assert.True(t, got.Value.Equal(params.StringValue("EUR")))
	assert.Equal(t, params.EntityOrganization, got.EntityType)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get(ctx, "currency", "m2")
	assert.False(t, ok, "entries are scoped per merchant")
}

func TestSetIgnoresEmptyKeys(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	c.Set(ctx, "", "m1", override("x", params.EntityMerchant, "m1", params.BoolValue(true)))
	c.Set(ctx, "x", "", override("x", params.EntityMerchant, "m1", params.BoolValue(true)))
	assert.Equal(t, 0, c.Len())
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.WithDefaultTTL(40 * time.Millisecond))
	defer c.Close()

	c.Set(ctx, "currency", "m1", override("currency", params.EntityMerchant, "m1", params.StringValue("USD")))
	c.Set(ctx, "currency", "m2", override("currency", params.EntityMerchant, "m2", params.StringValue("USD")), cache.WithTTL(time.Hour))

	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "currency", "m1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, ok := c.Get(ctx, "currency", "m2")
	assert.True(t, ok, "per-entry TTL overrides the default")
}

func TestTTLCappedAtExpiration(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := cache.New(cache.WithClock(func() time.Time { return now }))
	defer c.Close()

	expired := override("promo", params.EntityMerchant, "m1", params.BoolValue(true))
	past := now.Add(-time.Minute)
	expired.ExpirationDate = &past
	c.Set(ctx, "promo", "m1", expired)
	assert.Equal(t, 0, c.Len(), "expired values are not cached")

	soon := override("promo", params.EntityMerchant, "m2", params.BoolValue(true))
	deadline := now.Add(40 * time.Millisecond)
	soon.ExpirationDate = &deadline
	c.Set(ctx, "promo", "m2", soon)

	_, ok := c.Get(ctx, "promo", "m2")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "promo", "m2")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestInvalidateHierarchyRemovesDescendants(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	// m1 and m2 share bank b1, m3 is under bank b2.
	chains := map[string]params.InheritanceChain{
		"m1": chainFor("m1", "o1", "p1", "b1"),
		"m2": chainFor("m2", "o2", "p1", "b1"),
		"m3": chainFor("m3", "o3", "p2", "b2"),
	}
	for merchant, chain := range chains {
		c.Set(ctx, "maxRefundAmount", merchant, params.DefaultParameterValue(
			params.NewDefinition("maxRefundAmount", params.DataTypeNumber, params.NumberValue(10000)),
		), cache.WithChain(chain))
		c.Set(ctx, "currency", merchant, override("currency", params.EntityMerchant, merchant, params.StringValue("USD")), cache.WithChain(chain))
	}
	require.Equal(t, 6, c.Len())

	removed := c.InvalidateHierarchy(ctx, "maxRefundAmount", params.EntityBank, "b1")
	assert.Equal(t, 2, removed)

	for _, merchant := range []string{"m1", "m2"} {
		_, ok := c.Get(ctx, "maxRefundAmount", merchant)
		assert.False(t, ok, "merchant %s under b1 must be invalidated", merchant)
		_, ok = c.Get(ctx, "currency", merchant)
		assert.True(t, ok, "other parameters stay cached for %s", merchant)
	}
	_, ok := c.Get(ctx, "maxRefundAmount", "m3")
	assert.True(t, ok, "merchant under another bank stays cached")

	assert.Equal(t, 1, c.InvalidateHierarchy(ctx, "maxRefundAmount", params.EntityProgram, "p2"))
	assert.Equal(t, 0, c.InvalidateHierarchy(ctx, "maxRefundAmount", params.EntityProgram, "p2"))
}

func TestInvalidateHierarchyDirectMerchantKey(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	c.Set(ctx, "currency", "m1", override("currency", params.EntityMerchant, "m1", params.StringValue("USD")))
	assert.Equal(t, 1, c.InvalidateHierarchy(ctx, "currency", params.EntityMerchant, "m1"))
	assert.Equal(t, 0, c.Len())
}

func TestResetDropsStaleChainIndex(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	value := override("currency", params.EntityMerchant, "m1", params.StringValue("USD"))
	c.Set(ctx, "currency", "m1", value, cache.WithChain(chainFor("m1", "o1", "", "b1")))
	// The merchant moved to another bank; the entry is re-cached against the
	// new chain.
	c.Set(ctx, "currency", "m1", value, cache.WithChain(chainFor("m1", "o1", "", "b2")))

	assert.Equal(t, 0, c.InvalidateHierarchy(ctx, "currency", params.EntityBank, "b1"))
	assert.Equal(t, 1, c.InvalidateHierarchy(ctx, "currency", params.EntityBank, "b2"))
}

func TestBulkOperations(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	c.SetBulk(ctx, "m1", map[string]params.ParameterValue{
		"currency":       override("currency", params.EntityMerchant, "m1", params.StringValue("USD")),
		"instantPayouts": override("instantPayouts", params.EntityMerchant, "m1", params.BoolValue(true)),
	}, cache.WithChain(chainFor("m1", "o1", "p1", "b1")))

	got := c.GetBulk(ctx, []string{"currency", "instantPayouts", "missing"}, "m1")
	assert.Len(t, got, 2)
	assert.Contains(t, got, "currency")
	assert.NotContains(t, got, "missing")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	c.SetBulk(cancelled, "m2", map[string]params.ParameterValue{
		"currency": override("currency", params.EntityMerchant, "m2", params.StringValue("USD")),
	})
	_, ok := c.Get(ctx, "currency", "m2")
	assert.False(t, ok, "cancelled bulk set stops before storing")
}

func TestInvalidateByPattern(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	for _, merchant := range []string{"m1", "m2"} {
		c.Set(ctx, "fee.rate", merchant, override("fee.rate", params.EntityMerchant, merchant, params.NumberValue(1.5)))
		c.Set(ctx, "fee.cap", merchant, override("fee.cap", params.EntityMerchant, merchant, params.NumberValue(30)))
	}

	removed, err := c.InvalidateByPattern(ctx, "fee.*:m1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, c.Len())

	_, err = c.InvalidateByPattern(ctx, "[")
	assert.Error(t, err)

	assert.Equal(t, 1, c.InvalidateParameter(ctx, "fee.rate"))
	assert.Equal(t, 1, c.Len())
}

func TestPatternMatchesAcrossSlashes(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	defer c.Close()

	c.Set(ctx, "currency", "acme/eu/m1", override("currency", params.EntityMerchant, "acme/eu/m1", params.StringValue("EUR")))
	c.Set(ctx, "currency", "m2", override("currency", params.EntityMerchant, "m2", params.StringValue("USD")))
	c.Set(ctx, "fee.cap", "acme/eu/m1", override("fee.cap", params.EntityMerchant, "acme/eu/m1", params.NumberValue(30)))

	removed, err := c.InvalidateByPattern(ctx, "currency:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = c.InvalidateByPattern(ctx, "*:acme/*")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())
}

func TestResolvedAtDropsValuesReadBeforeInvalidation(t *testing.T) {
	ctx := context.Background()
	chain := chainFor("m1", "o1", "p1", "b1")
	stale := override("currency", params.EntityBank, "b1", params.StringValue("USD"))

	cases := []struct {
		name       string
		invalidate func(c *cache.Cache)
		stored     bool
	}{
		{"no invalidation", func(*cache.Cache) {}, true},
		{"level in chain", func(c *cache.Cache) {
			c.InvalidateHierarchy(ctx, "currency", params.EntityBank, "b1")
		}, false},
		{"merchant level", func(c *cache.Cache) {
			c.InvalidateHierarchy(ctx, "currency", params.EntityMerchant, "m1")
		}, false},
		{"level outside chain", func(c *cache.Cache) {
			c.InvalidateHierarchy(ctx, "currency", params.EntityBank, "b2")
		}, true},
		{"other parameter", func(c *cache.Cache) {
			c.InvalidateHierarchy(ctx, "instantPayouts", params.EntityBank, "b1")
		}, true},
		{"whole parameter", func(c *cache.Cache) {
			c.InvalidateParameter(ctx, "currency")
		}, false},
		{"pattern", func(c *cache.Cache) {
			_, _ = c.InvalidateByPattern(ctx, "nothing:*")
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := cache.New()
			defer c.Close()

			gen := c.Generation()
			tc.invalidate(c)
			c.Set(ctx, "currency", "m1", stale, cache.WithChain(chain), cache.ResolvedAt(gen))

			_, ok := c.Get(ctx, "currency", "m1")
			assert.Equal(t, tc.stored, ok)
		})
	}

	c := cache.New()
	defer c.Close()
	c.InvalidateHierarchy(ctx, "currency", params.EntityBank, "b1")
	c.Set(ctx, "currency", "m1", stale, cache.WithChain(chain), cache.ResolvedAt(c.Generation()))
	_, ok := c.Get(ctx, "currency", "m1")
	assert.True(t, ok, "values read after the invalidation are stored")
}

func TestCapacityEvictsAndCleansIndex(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.WithCapacity(2))
	defer c.Close()

	for _, merchant := range []string{"m1", "m2", "m3"} {
		c.Set(ctx, "currency", merchant, override("currency", params.EntityMerchant, merchant, params.StringValue("USD")),
			cache.WithChain(chainFor(merchant, "", "", "b1")))
	}
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.InvalidateHierarchy(ctx, "currency", params.EntityBank, "b1"))
}

func TestStartAndCloseAreIdempotent(t *testing.T) {
	c := cache.New()
	c.Start()
	c.Start()
	c.Set(context.Background(), "currency", "m1", override("currency", params.EntityMerchant, "m1", params.StringValue("USD")))
	c.Close()
	c.Close()
	assert.Equal(t, 0, c.Len())
	c.Start()
}
