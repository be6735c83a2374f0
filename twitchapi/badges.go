package twitchapi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// BadgeURLs are the image URLs of one badge version.
type BadgeURLs struct {
	URL1x string `json:"url_1x"`
	URL2x string `json:"url_2x"`
}

// BadgeSource is the subset of HelixClient the cache needs.
type BadgeSource interface {
	GlobalBadges(ctx context.Context) ([]BadgeSet, error)
	ChannelBadges(ctx context.Context, broadcasterID string) ([]BadgeSet, error)
}

// BadgeCache maps "set/version" keys to image URLs.
type BadgeCache struct {
	src BadgeSource

	mu          sync.RWMutex
	urls        map[string]BadgeURLs
	broadcaster string
	loadedAt    time.Time
}

// NewBadgeCache returns an empty cache backed by src.
func NewBadgeCache(src BadgeSource) *BadgeCache {
	return &BadgeCache{src: src, urls: map[string]BadgeURLs{}}
}

// Load replaces the cache with the global badges overlaid by broadcasterID's
// channel badges. An empty broadcasterID loads global badges only. On error
// the previous contents are kept.
func (c *BadgeCache) Load(ctx context.Context, broadcasterID string) error {
	global, err := c.src.GlobalBadges(ctx)
	if err != nil {
		return fmt.Errorf("global badges: %w", err)
	}
	next := make(map[string]BadgeURLs)
	put(next, global)
	if broadcasterID != "" {
		channel, err := c.src.ChannelBadges(ctx, broadcasterID)
		if err != nil {
			return fmt.Errorf("channel badges: %w", err)
		}
		put(next, channel)
	}

	c.mu.Lock()
	c.urls = next
	c.broadcaster = broadcasterID
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func put(m map[string]BadgeURLs, sets []BadgeSet) {
	for _, set := range sets {
		for _, v := range set.Versions {
			m[set.SetID+"/"+v.ID] = BadgeURLs{URL1x: v.ImageURL1x, URL2x: v.ImageURL2x}
		}
	}
}

// Resolve looks up badge ids as carried by chat messages ("moderator",
// "subscriber/12"). Ids without a version resolve as version "1". Unknown ids
// are omitted; the result is keyed by the id as given.
func (c *BadgeCache) Resolve(ids []string) map[string]BadgeURLs {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]BadgeURLs, len(ids))
	for _, id := range ids {
		key := id
		if !strings.Contains(id, "/") {
			key = id + "/1"
		}
		if u, ok := c.urls[key]; ok {
			out[id] = u
		}
	}
	return out
}

// Len is the number of cached badge versions.
func (c *BadgeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.urls)
}

// Loaded reports which broadcaster the cache was last loaded for and when.
func (c *BadgeCache) Loaded() (broadcasterID string, at time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broadcaster, c.loadedAt
}
