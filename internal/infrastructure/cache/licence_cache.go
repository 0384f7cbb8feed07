package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/licence"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
)

// LicenceMappingCache is a read-through cache in front of a licence
// repository. Lookups are keyed by substance, customer account and the
// calendar day, so a cached answer never crosses a validity boundary.
// Cache failures degrade to the underlying repository.
type LicenceMappingCache struct {
	inner  licence.Repository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewLicenceMappingCache wraps repo with a caching layer. A zero ttl
// falls back to LicenceMappingTTL.
func NewLicenceMappingCache(repo licence.Repository, cache Cache, ttl time.Duration, logger *zap.Logger) *LicenceMappingCache {
	if ttl <= 0 {
		ttl = LicenceMappingTTL
	}
	return &LicenceMappingCache{
		inner:  repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// FindActiveMappings implements licence.Repository.
func (c *LicenceMappingCache) FindActiveMappings(ctx context.Context, substanceCode string, holder trade.Holder, asOf time.Time) ([]*licence.SubstanceMapping, error) {
	key := c.key(substanceCode, holder, asOf)

	var cached []*licence.SubstanceMapping
	err := c.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if _, miss := err.(ErrCacheKeyNotFound); !miss {
		c.logger.Warn("licence cache read failed, falling through",
			zap.String("key", key),
			zap.Error(err))
	}

	mappings, err := c.inner.FindActiveMappings(ctx, substanceCode, holder, asOf)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetJSON(ctx, key, mappings, c.ttl); err != nil {
		c.logger.Warn("licence cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}

	return mappings, nil
}

// Invalidate drops the cached entry for one substance and holder on the
// given day. Called after licence data changes upstream.
func (c *LicenceMappingCache) Invalidate(ctx context.Context, substanceCode string, holder trade.Holder, asOf time.Time) error {
	return c.cache.Delete(ctx, c.key(substanceCode, holder, asOf))
}

func (c *LicenceMappingCache) key(substanceCode string, holder trade.Holder, asOf time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", LicenceMappingPrefix, substanceCode, holder.CustomerAccount, asOf.UTC().Format("2006-01-02"))
}
