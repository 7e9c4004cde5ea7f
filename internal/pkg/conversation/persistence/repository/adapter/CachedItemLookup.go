package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	cacheport "github.com/Angelica137/kindly/internal/infrastructure/cache/port"
	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

const itemDisplayKeyPrefix = "kindly:item_display:"

// ItemDisplaySource is the uncached lookup, usually *PgItemRepository.
type ItemDisplaySource interface {
	FindItemDisplay(ctx context.Context, itemID string) (conversation.ItemDisplay, error)
}

// CachedItemLookup serves item display fields from the cache and falls back
// to the source on a miss. Cache failures never fail a lookup; misses of the
// source are not cached.
type CachedItemLookup struct {
	source ItemDisplaySource
	cache  cacheport.Cache
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedItemLookup(source ItemDisplaySource, cache cacheport.Cache, ttl time.Duration, log *zap.Logger) *CachedItemLookup {
	return &CachedItemLookup{source: source, cache: cache, ttl: ttl, log: logger.OrNop(log)}
}

func (l *CachedItemLookup) FindItemDisplay(ctx context.Context, itemID string) (conversation.ItemDisplay, error) {
	key := itemDisplayKeyPrefix + itemID

	raw, err := l.cache.Get(ctx, key)
	switch {
	case err == nil:
		var d conversation.ItemDisplay
		if jerr := json.Unmarshal([]byte(raw), &d); jerr == nil {
			return d, nil
		}
		l.log.Warn("item_display_cache_corrupt", zap.String("item_id", itemID))
	case !errors.Is(err, cacheport.ErrMiss):
		l.log.Warn("item_display_cache_get_failed", zap.String("item_id", itemID), zap.Error(err))
	}

	d, err := l.source.FindItemDisplay(ctx, itemID)
	if err != nil {
		return conversation.ItemDisplay{}, err
	}

	if b, jerr := json.Marshal(d); jerr == nil {
		if serr := l.cache.Set(ctx, key, string(b), l.ttl); serr != nil {
			l.log.Warn("item_display_cache_set_failed", zap.String("item_id", itemID), zap.Error(serr))
		}
	}
	return d, nil
}

