// Package projection provides the read-side cache over the balance engine.
// It is purely a latency optimization: the cache is never the sole source
// of truth and the whole layer tolerates being disabled.
package projection

import (
	"context"
	"fmt"
	"time"

	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
	"milledger/pkg/logger"
)

// Cache memoizes opening-balance projections keyed by (cutoff, variety)
// with a short TTL. Implementations swallow their own infrastructure
// errors; a broken cache degrades to misses, never to failures.
type Cache interface {
	Get(ctx context.Context, cutoff time.Time, variety string) (*balance.OpeningBalance, bool)
	Set(ctx context.Context, cutoff time.Time, variety string, ob *balance.OpeningBalance)

	// InvalidateVariety drops every entry that could include the variety,
	// including unfiltered projections.
	InvalidateVariety(ctx context.Context, variety string)
}

// Nop is the disabled cache: always a miss.
type Nop struct{}

func (Nop) Get(context.Context, time.Time, string) (*balance.OpeningBalance, bool) {
	return nil, false
}
func (Nop) Set(context.Context, time.Time, string, *balance.OpeningBalance) {}
func (Nop) InvalidateVariety(context.Context, string)                       {}

// Reader serves balance queries through the cache.
type Reader struct {
	engine *balance.Engine
	cache  Cache
}

// NewReader wraps a balance engine with a cache.
func NewReader(engine *balance.Engine, cache Cache) *Reader {
	if cache == nil {
		cache = Nop{}
	}
	return &Reader{engine: engine, cache: cache}
}

// GetOpeningBalance returns the cached projection when fresh, otherwise
// computes and stores it.
func (r *Reader) GetOpeningBalance(ctx context.Context, cutoff time.Time, varietyFilter string) (*balance.OpeningBalance, error) {
	variety := event.NormalizeVariety(varietyFilter)

	if ob, ok := r.cache.Get(ctx, cutoff, variety); ok {
		return ob, nil
	}

	ob, err := r.engine.ComputeOpeningBalance(ctx, cutoff, variety)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, cutoff, variety, ob)
	return ob, nil
}

// InvalidateForMovement drops cached projections touched by an admitted
// movement. Called from the projection worker.
func (r *Reader) InvalidateForMovement(ctx context.Context, mv *event.MovementEvent) {
	r.cache.InvalidateVariety(ctx, mv.Variety)
	logger.Debug(ctx, "balance cache invalidated", "variety", mv.Variety)
}

// cacheKey builds the canonical entry key. gen is the generation counter
// that makes invalidation O(1): bumping a variety's generation orphans all
// of its old entries, which then age out by TTL.
func cacheKey(cutoff time.Time, variety string, gen uint64) string {
	v := variety
	if v == "" {
		v = "*"
	}
	return fmt.Sprintf("balance:%s:g%d:%s", v, gen, cutoff.UTC().Format(time.RFC3339Nano))
}
