package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// maxTxRetries bounds optimistic-lock retries of UpdateRankedSet.
const maxTxRetries = 10

// RedisConfig holds the connection settings of the Redis store.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// NewRedisClient creates a Redis client. A URL takes precedence over the address fields.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: 2,
	}), nil
}

// RedisStore is a ranking.Store backed by Redis. A ranked set and its
// threshold live under two keys written in one MULTI/EXEC guarded by WATCH.
// A sorted set per (reference point, market) indexes products by write time
// for ListRankedSets.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisStore wraps a Redis client. An empty prefix defaults to "ranking".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ranking"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: log.With().Str("component", "redis_store").Logger(),
		now:    time.Now,
	}
}

// Ping tests the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) setKey(k ranking.Key) string {
	return fmt.Sprintf("%s:set:%s:%s:%s", s.prefix, k.ReferencePointID, k.ProductID, k.MarketID)
}

func (s *RedisStore) thresholdKey(k ranking.Key) string {
	return fmt.Sprintf("%s:threshold:%s:%s:%s", s.prefix, k.ReferencePointID, k.ProductID, k.MarketID)
}

func (s *RedisStore) indexKey(referencePointID, marketID string) string {
	return fmt.Sprintf("%s:index:%s:%s", s.prefix, referencePointID, marketID)
}

func (s *RedisStore) nearestKey(referencePointID string) string {
	return fmt.Sprintf("%s:nearest:%s", s.prefix, referencePointID)
}

func (s *RedisStore) commonKey(k ranking.CommonCategoryKey) string {
	return fmt.Sprintf("%s:common:%s:%s:%s", s.prefix, k.ReferencePointID, k.CategoryID, k.MarketID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ranking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func (s *RedisStore) GetRankedSet(ctx context.Context, key ranking.Key) (*ranking.RankedSet, error) {
	return getJSON[ranking.RankedSet](ctx, s.client, s.setKey(key))
}

func (s *RedisStore) GetThreshold(ctx context.Context, key ranking.Key) (*ranking.Threshold, error) {
	return getJSON[ranking.Threshold](ctx, s.client, s.thresholdKey(key))
}

// GetEntry fetches both keys with a single MGET.
func (s *RedisStore) GetEntry(ctx context.Context, key ranking.Key) (*ranking.RankedSet, *ranking.Threshold, error) {
	setKey, thKey := s.setKey(key), s.thresholdKey(key)
	vals, err := s.client.MGet(ctx, setKey, thKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis mget %s: %w", setKey, err)
	}
	set, err := decodeMGet[ranking.RankedSet](vals[0], setKey)
	if err != nil {
		return nil, nil, err
	}
	th, err := decodeMGet[ranking.Threshold](vals[1], thKey)
	if err != nil {
		return nil, nil, err
	}
	return set, th, nil
}

func decodeMGet[T any](val any, key string) (*T, error) {
	if val == nil {
		return nil, nil
	}
	str, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected type %T", key, val)
	}
	var v T
	if err := json.Unmarshal([]byte(str), &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func (s *RedisStore) UpdateRankedSet(ctx context.Context, key ranking.Key, fn ranking.UpdateFunc) (*ranking.RankedSet, error) {
	setKey, thKey := s.setKey(key), s.thresholdKey(key)
	var result *ranking.RankedSet

	txf := func(tx *redis.Tx) error {
		var current []ranking.ScoredOffer
		existing, err := getJSON[ranking.RankedSet](ctx, tx, setKey)
		switch {
		case err == nil:
			current = existing.Offers
		case !errors.Is(err, ranking.ErrNotFound):
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		set := &ranking.RankedSet{Key: key, Offers: append([]ranking.ScoredOffer{}, next...), CalculatedAt: now}
		th := ranking.ThresholdFor(key, set.Offers, now)

		setData, err := json.Marshal(set)
		if err != nil {
			return fmt.Errorf("encode ranked set: %w", err)
		}
		thData, err := json.Marshal(th)
		if err != nil {
			return fmt.Errorf("encode threshold: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, setKey, setData, 0)
			pipe.Set(ctx, thKey, thData, 0)
			pipe.ZAdd(ctx, s.indexKey(key.ReferencePointID, key.MarketID), redis.Z{
				Score:  float64(now.UnixMilli()),
				Member: key.ProductID,
			})
			return nil
		})
		if err != nil {
			return err
		}
		result = set
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, setKey, thKey)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("update %s: %w", key, err)
		}
		s.logger.Debug().Str("key", key.String()).Int("attempt", attempt+1).Msg("Ranked set changed concurrently, retrying")
	}
	return nil, fmt.Errorf("update %s: %w", key, redis.TxFailedErr)
}

func (s *RedisStore) ListRankedSets(ctx context.Context, referencePointID, marketID string, since time.Time) ([]*ranking.RankedSet, error) {
	lower := "-inf"
	if !since.IsZero() {
		lower = "(" + strconv.FormatInt(since.UnixMilli(), 10)
	}
	products, err := s.client.ZRangeByScore(ctx, s.indexKey(referencePointID, marketID), &redis.ZRangeBy{
		Min: lower,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index %s/%s: %w", referencePointID, marketID, err)
	}

	out := make([]*ranking.RankedSet, 0, len(products))
	for _, productID := range products {
		set, err := s.GetRankedSet(ctx, ranking.Key{ReferencePointID: referencePointID, ProductID: productID, MarketID: marketID})
		if errors.Is(err, ranking.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, nil
}

func (s *RedisStore) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PutNearestMerchants(ctx context.Context, set *ranking.NearestMerchantsSet) error {
	return s.putJSON(ctx, s.nearestKey(set.ReferencePointID), set)
}

func (s *RedisStore) GetNearestMerchants(ctx context.Context, referencePointID string) (*ranking.NearestMerchantsSet, error) {
	return getJSON[ranking.NearestMerchantsSet](ctx, s.client, s.nearestKey(referencePointID))
}

func (s *RedisStore) PutCommonCategory(ctx context.Context, set *ranking.CommonCategorySet) error {
	return s.putJSON(ctx, s.commonKey(set.Key), set)
}

func (s *RedisStore) GetCommonCategory(ctx context.Context, key ranking.CommonCategoryKey) (*ranking.CommonCategorySet, error) {
	return getJSON[ranking.CommonCategorySet](ctx, s.client, s.commonKey(key))
}
