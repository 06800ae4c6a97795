package gmail

import (
	"context"
	"time"

	"maildossier/utils"
)

// CachedSource serves repeated thread fetches from a TTL cache. Entries are
// keyed by owner so two mailboxes never share results.
type CachedSource struct {
	next  Source
	cache *utils.MemoryCache
	owner string
	ttl   time.Duration
}

// NewCachedSource wraps next. A non-positive ttl disables caching.
func NewCachedSource(next Source, cache *utils.MemoryCache, owner string, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, cache: cache, owner: owner, ttl: ttl}
}

func (s *CachedSource) key(threadID string) string {
	return "thread:" + s.owner + ":" + threadID
}

// Thread returns the cached messages or fetches and stores them
func (s *CachedSource) Thread(ctx context.Context, threadID string) ([]Message, error) {
	if s.cache == nil || s.ttl <= 0 {
		return s.next.Thread(ctx, threadID)
	}

	if v, ok := s.cache.Get(s.key(threadID)); ok {
		if messages, ok := v.([]Message); ok {
			utils.Log.Debug("Thread cache hit: %s", threadID)
			return messages, nil
		}
	}

	messages, err := s.next.Thread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(s.key(threadID), messages, s.ttl)
	return messages, nil
}
