// Package rediscache implements the shared decision cache on Redis so a
// fleet of engine replicas can serve each other's resolved decisions and
// propagate invalidations.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/palisade-io/palisade/pkg/authz"
)

// Config controls the Redis decision cache
type Config struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// DecisionTTL bounds decision staleness across replicas; it should
	// match the in-process decision TTL.
	DecisionTTL time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig(url string) Config {
	return Config{
		URL:         url,
		DB:          -1,
		DecisionTTL: 30 * time.Second,
	}
}

// Cache is a Redis-backed authz.SharedDecisionCache. Every decision write
// also indexes the key under the deciding user so user-scoped
// invalidation can drop all of that user's decisions with one round trip.
type Cache struct {
	client *redis.Client
	cfg    Config
	log    *logrus.Logger
}

// New connects to Redis and verifies the connection
func New(cfg Config, log *logrus.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if cfg.DecisionTTL <= 0 {
		cfg.DecisionTTL = 30 * time.Second
	}

	return &Cache{client: client, cfg: cfg, log: log}, nil
}

// NewFromClient wraps an existing client, mainly for tests
func NewFromClient(client *redis.Client, cfg Config, log *logrus.Logger) *Cache {
	if cfg.DecisionTTL <= 0 {
		cfg.DecisionTTL = 30 * time.Second
	}
	return &Cache{client: client, cfg: cfg, log: log}
}

func decisionKey(key string) string { return "palisade:decision:" + key }
func userIndexKey(userID string) string {
	return "palisade:user:" + userID + ":decisions"
}
func generationKey(userID string) string {
	return "palisade:user:" + userID + ":gen"
}

// generationTTL must comfortably exceed any in-flight check's lifetime:
// once the counter expires back to zero, a put fenced by the pre-bump
// generation would be admitted again.
const generationTTL = time.Hour

// putDecisionScript stores a decision only while the user's generation
// still matches the value captured before resolution began. A missing
// counter reads as zero. The compare and the writes run atomically so an
// invalidation cannot slip between them.
var putDecisionScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if gen == false then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
redis.call('PEXPIRE', KEYS[3], ARGV[5])
return 1
`)

// GetDecision returns a cached decision. Backend errors are misses; the
// caller falls through to full resolution.
func (c *Cache) GetDecision(ctx context.Context, key string) (authz.Decision, bool) {
	data, err := c.client.Get(ctx, decisionKey(key)).Result()
	if err == redis.Nil {
		return authz.Decision{}, false
	} else if err != nil {
		c.warn(err, "redis get failed")
		return authz.Decision{}, false
	}

	var d authz.Decision
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		// Drop corrupt entries rather than serving them.
		c.client.Del(ctx, decisionKey(key))
		c.warn(err, "corrupt cached decision dropped")
		return authz.Decision{}, false
	}
	return d, true
}

// Generation returns the user's invalidation counter. Backend errors
// read as zero; a later put fenced on that value is rejected as soon as
// the real counter is visible again.
func (c *Cache) Generation(ctx context.Context, userID string) uint64 {
	v, err := c.client.Get(ctx, generationKey(userID)).Uint64()
	if err == redis.Nil {
		return 0
	} else if err != nil {
		c.warn(err, "redis generation read failed")
		return 0
	}
	return v
}

// PutDecision stores a decision and indexes it under its user, unless
// the user's generation moved past gen while the decision was resolving
func (c *Cache) PutDecision(ctx context.Context, userID, key string, gen uint64, d authz.Decision) {
	data, err := json.Marshal(d)
	if err != nil {
		c.warn(err, "failed to marshal decision")
		return
	}

	// The index outlives its members slightly so invalidation can still
	// find keys that expired on their own.
	err = putDecisionScript.Run(ctx, c.client,
		[]string{generationKey(userID), decisionKey(key), userIndexKey(userID)},
		strconv.FormatUint(gen, 10),
		data,
		c.cfg.DecisionTTL.Milliseconds(),
		key,
		(2 * c.cfg.DecisionTTL).Milliseconds(),
	).Err()
	if err != nil {
		c.warn(err, "redis put failed")
	}
}

// InvalidateUser bumps the user's generation, then drops every cached
// decision recorded for the user. The bump comes first so an in-flight
// put is fenced even if the member scan below fails.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) {
	bump := c.client.Pipeline()
	bump.Incr(ctx, generationKey(userID))
	bump.Expire(ctx, generationKey(userID), generationTTL)
	if _, err := bump.Exec(ctx); err != nil {
		c.warn(err, "redis generation bump failed")
	}

	keys, err := c.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil && err != redis.Nil {
		c.warn(err, "redis invalidation scan failed")
		return
	}

	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, decisionKey(key))
	}
	pipe.Del(ctx, userIndexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		c.warn(err, "redis invalidation failed")
	}
}

// Ping checks backend connectivity, for health endpoints
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for health checks
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close releases the connection pool
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) warn(err error, msg string) {
	if c.log != nil {
		c.log.WithError(err).Warn(msg)
	}
}

var _ authz.SharedDecisionCache = (*Cache)(nil)
