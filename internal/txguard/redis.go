package txguard

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisGuard shares the processed set across workers via SETNX, which
// gives the atomic check-and-insert a multi-process deployment needs.
type RedisGuard struct {
	rdb *redis.Client
}

// NewRedisGuard connects to Redis and pings it once.
func NewRedisGuard(redisURL string) (*RedisGuard, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisGuard{rdb: rdb}, nil
}

func (g *RedisGuard) Close() error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}

func key(id string) string { return "txguard:" + strings.TrimSpace(id) }

func (g *RedisGuard) Seen(ctx context.Context, id string) (bool, error) {
	n, err := g.rdb.Exists(ctx, key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) Register(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	// No TTL: the set is append-only by contract.
	return g.rdb.SetNX(ctx, key(id), 1, 0).Result()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
