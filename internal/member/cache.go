package member

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/repository"
)

// identityCache holds loaded identities by internal key. An entry is only served
// when the caller presents the member's current key row, so the database stays the
// authority on existence and API key. The cache saves the relation load.
type identityCache struct {
	lru *expirable.LRU[string, cachedIdentity]
}

type cachedIdentity struct {
	identity *auth.Identity
	key      repository.MemberKey
}

func newIdentityCache(size int, ttl time.Duration) *identityCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &identityCache{lru: expirable.NewLRU[string, cachedIdentity](size, nil, ttl)}
}

// get returns the cached identity when it was loaded from the same row version as current.
func (c *identityCache) get(current repository.MemberKey) (*auth.Identity, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.lru.Get(current.ID)
	if !ok {
		return nil, false
	}
	if entry.key.APIKey != current.APIKey || !entry.key.UpdatedAt.Equal(current.UpdatedAt) {
		c.lru.Remove(current.ID)
		return nil, false
	}
	return entry.identity, true
}

func (c *identityCache) put(identity *auth.Identity, key repository.MemberKey) {
	if c == nil || identity == nil {
		return
	}
	c.lru.Add(key.ID, cachedIdentity{identity: identity, key: key})
}

func (c *identityCache) forget(id string) {
	if c == nil {
		return
	}
	c.lru.Remove(id)
}

func (c *identityCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
