// Package cache holds recently read bucket records.
//
// Entries expire after a fixed TTL and are overwritten or dropped by every
// write path in the service, so a stale entry can only survive a change made
// outside this process, and then for at most one TTL.
package cache

import (
	"time"

	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type BucketCache struct {
	lru *expirable.LRU[string, models.Bucket]
}

func NewBucketCache(size int, ttl time.Duration) *BucketCache {
	return &BucketCache{lru: expirable.NewLRU[string, models.Bucket](size, nil, ttl)}
}

// Get returns a copy of the cached bucket.
func (c *BucketCache) Get(id string) (*models.Bucket, bool) {
	b, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return clone(b), true
}

func (c *BucketCache) Put(b *models.Bucket) {
	if b == nil || b.ID == "" {
		return
	}
	c.lru.Add(b.ID, *clone(*b))
}

func (c *BucketCache) Forget(id string) {
	c.lru.Remove(id)
}

func (c *BucketCache) Len() int {
	return c.lru.Len()
}

func clone(b models.Bucket) *models.Bucket {
	if b.Collaborators != nil {
		b.Collaborators = append([]string(nil), b.Collaborators...)
	}
	if b.DeletedAt != nil {
		t := *b.DeletedAt
		b.DeletedAt = &t
	}
	return &b
}
