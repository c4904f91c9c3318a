package booking

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// PhoneBlocklistCache keeps each tenant's blocked phones in memory for a short TTL so the
// blocked-phone precondition usually costs no storage round-trip.
type PhoneBlocklistCache struct {
	store Store
	cache *cache.Cache
}

func NewPhoneBlocklistCache(store Store, ttl time.Duration) *PhoneBlocklistCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PhoneBlocklistCache{store: store, cache: cache.New(ttl, 2*ttl)}
}

func (c *PhoneBlocklistCache) Contains(ctx context.Context, businessID, phone string) (bool, error) {
	set, err := c.load(ctx, businessID)
	if err != nil {
		return false, err
	}
	_, blocked := set[phone]
	return blocked, nil
}

// Invalidate drops the cached list after an owner edits it.
func (c *PhoneBlocklistCache) Invalidate(businessID string) {
	c.cache.Delete(businessID)
}

func (c *PhoneBlocklistCache) load(ctx context.Context, businessID string) (map[string]struct{}, error) {
	if v, found := c.cache.Get(businessID); found {
		return v.(map[string]struct{}), nil
	}
	phones, err := c.store.ListBlockedPhones(ctx, businessID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(phones))
	for _, p := range phones {
		if n, err := NormalizePhone(p); err == nil {
			set[n] = struct{}{}
		}
	}
	c.cache.SetDefault(businessID, set)
	return set, nil
}
