package projection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
	"milledger/pkg/logger"
)

// RedisCache shares balance projections across instances. All redis errors
// degrade to cache misses; they are logged, never returned.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds connection settings for the projection cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects and verifies the redis backend.
func NewRedisCache(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, cutoff time.Time, variety string) (*balance.OpeningBalance, bool) {
	key := cacheKey(cutoff, variety, c.generation(ctx, variety))

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn(ctx, "balance cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var snap wireSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Warn(ctx, "balance cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return snap.toBalance(), true
}

func (c *RedisCache) Set(ctx context.Context, cutoff time.Time, variety string, ob *balance.OpeningBalance) {
	key := cacheKey(cutoff, variety, c.generation(ctx, variety))

	raw, err := json.Marshal(newWireSnapshot(ob))
	if err != nil {
		logger.Warn(ctx, "balance cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Warn(ctx, "balance cache write failed", "key", key, "error", err)
	}
}

func (c *RedisCache) InvalidateVariety(ctx context.Context, variety string) {
	v := event.NormalizeVariety(variety)
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, genKey(v))
	pipe.Incr(ctx, genKey(""))
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn(ctx, "balance cache invalidation failed", "variety", v, "error", err)
	}
}

func (c *RedisCache) generation(ctx context.Context, variety string) uint64 {
	gen, err := c.client.Get(ctx, genKey(variety)).Uint64()
	if err != nil {
		return 0
	}
	return gen
}

func genKey(variety string) string {
	if variety == "" {
		return "balance:gen:*"
	}
	return "balance:gen:" + variety
}

// --- wire form ---
// Balance maps are keyed by struct; the cache stores them as entry lists.

type wireEntry struct {
	Variety       string       `json:"variety"`
	KunchinittuID id.ID        `json:"kunchinittuId,omitempty"`
	WarehouseID   id.ID        `json:"warehouseId,omitempty"`
	OutturnID     id.ID        `json:"outturnId,omitempty"`
	Bags          int64        `json:"bags"`
	NetWeight     types.Weight `json:"netWeight"`
}

type wireSnapshot struct {
	Cutoff     time.Time   `json:"cutoff"`
	Warehouse  []wireEntry `json:"warehouse"`
	Production []wireEntry `json:"production"`
}

func newWireSnapshot(ob *balance.OpeningBalance) wireSnapshot {
	snap := wireSnapshot{Cutoff: ob.Cutoff}
	snap.Warehouse = toWire(ob.WarehouseBalances)
	snap.Production = toWire(ob.ProductionBalances)
	return snap
}

func toWire(m map[balance.Key]balance.Entry) []wireEntry {
	out := make([]wireEntry, 0, len(m))
	for k, e := range m {
		out = append(out, wireEntry{
			Variety:       k.Variety,
			KunchinittuID: k.Location.KunchinittuID,
			WarehouseID:   k.Location.WarehouseID,
			OutturnID:     k.Location.OutturnID,
			Bags:          e.Bags.Int64(),
			NetWeight:     e.NetWeight,
		})
	}
	return out
}

func (s *wireSnapshot) toBalance() *balance.OpeningBalance {
	return &balance.OpeningBalance{
		Cutoff:             s.Cutoff,
		WarehouseBalances:  fromWire(s.Warehouse),
		ProductionBalances: fromWire(s.Production),
	}
}

func fromWire(entries []wireEntry) map[balance.Key]balance.Entry {
	m := make(map[balance.Key]balance.Entry, len(entries))
	for _, e := range entries {
		key := balance.Key{
			Variety: e.Variety,
			Location: event.LocationKey{
				KunchinittuID: e.KunchinittuID,
				WarehouseID:   e.WarehouseID,
				OutturnID:     e.OutturnID,
			},
		}
		m[key] = balance.Entry{Bags: types.Bags(e.Bags), NetWeight: e.NetWeight}
	}
	return m
}
