package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ensure redisStore implements Store
var _ Store = (*redisStore)(nil)

// redisStore persists entries in Redis. The physical Redis TTL is the
// retain window, so stale reads keep working until retention runs out and
// Redis reclaims the key on its own.
type redisStore struct {
	client *redis.Client
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis at %s: %w", cfg.Addr, err)
	}
	return &redisStore{client: client}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("corrupt entry at %q: %w", key, err)
	}
	return &e, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, e *Entry, retain time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, raw, retain).Err()
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *redisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// incrWithExpireLua atomically increments a float counter and sets a TTL
// only when the key has none, in a single round-trip.
var incrWithExpireLua = redis.NewScript(`
	local newval = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
	if redis.call('TTL', KEYS[1]) == -1 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return newval
`)

// SpendCounter mirrors budget spend into Redis so concurrent processes see
// one exact total. It satisfies budget.SpendMirror.
type SpendCounter struct {
	client    *redis.Client
	namespace string
}

// NewSpendCounter creates a SpendCounter on an existing Redis-backed Store.
// Returns an error if the store is not Redis.
func NewSpendCounter(store Store, namespace string) (*SpendCounter, error) {
	rs, ok := store.(*redisStore)
	if !ok {
		return nil, fmt.Errorf("cache: spend counter requires a redis store")
	}
	if namespace == "" {
		namespace = "serp"
	}
	return &SpendCounter{client: rs.client, namespace: namespace}, nil
}

// IncrSpend atomically adds amount to the rolling counter for the period
// ("daily" or "monthly") and returns the new total. Keys carry a TTL wide
// enough to cover the period plus slack.
func (c *SpendCounter) IncrSpend(ctx context.Context, period string, amount float64) (float64, error) {
	key := fmt.Sprintf("%s:spend:%s:%s", c.namespace, period, periodBucket(period, time.Now().UTC()))
	ttl := 2 * 24 * time.Hour
	if period == "monthly" {
		ttl = 32 * 24 * time.Hour
	}

	result, err := incrWithExpireLua.Run(ctx, c.client, []string{key},
		strconv.FormatFloat(amount, 'f', 10, 64), int(ttl/time.Second)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: incr spend %q: %w", key, err)
	}
	switch v := result.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("cache: unexpected incr result type %T", result)
	}
}

// periodBucket names the current window so counters reset naturally at
// period boundaries.
func periodBucket(period string, now time.Time) string {
	if period == "monthly" {
		return now.Format("2006-01")
	}
	return now.Format("2006-01-02")
}
