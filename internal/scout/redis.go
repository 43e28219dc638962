package scout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
)

const redisKeyPrefix = "recurve:scout:"

// RedisStateStore shares competitor state between agent instances. Each
// competitor is one string key; GETSET makes the transition atomic.
type RedisStateStore struct {
	rdb *redis.Client
}

// NewRedisStateStore connects to url (redis://host:port/db) and checks the
// connection.
func NewRedisStateStore(url string) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("scout: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("scout: redis ping failed: %w: %v", faults.ErrStoreUnavailable, err)
	}
	return &RedisStateStore{rdb: rdb}, nil
}

// NewRedisStateStoreFromClient wraps an existing client.
func NewRedisStateStoreFromClient(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func (r *RedisStateStore) Swap(ctx context.Context, competitor string, next State) (State, error) {
	prev, err := r.rdb.GetSet(ctx, redisKeyPrefix+stateKey(competitor), string(next)).Result()
	if errors.Is(err, redis.Nil) {
		return Operational, nil
	}
	if err != nil {
		return "", fmt.Errorf("scout: getset %s: %w: %v", competitor, faults.ErrStoreUnavailable, err)
	}
	return parseState(prev), nil
}

func (r *RedisStateStore) keys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scout: scan state keys: %w: %v", faults.ErrStoreUnavailable, err)
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (r *RedisStateStore) Snapshot(ctx context.Context) (map[string]State, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]State, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("scout: read states: %w: %v", faults.ErrStoreUnavailable, err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // key expired between SCAN and MGET
		}
		out[strings.TrimPrefix(keys[i], redisKeyPrefix)] = parseState(s)
	}
	return out, nil
}

func (r *RedisStateStore) CriticalCompetitors(ctx context.Context) ([]string, error) {
	states, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for k, v := range states {
		if v == Critical {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *RedisStateStore) Clear(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("scout: clear states: %w: %v", faults.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the client.
func (r *RedisStateStore) Close() error {
	return r.rdb.Close()
}
