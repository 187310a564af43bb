// Package cache keeps each user's latest risk score in Redis in front of the
// durable score history.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"awarerisk.org/internal/obs"
	"awarerisk.org/internal/risk"
)

const (
	defaultTTL    = 15 * time.Minute
	defaultPrefix = "awarerisk:"
)

// putScript stores a snapshot only when it is not older than the cached one.
// ARGV: calculated_at in unix micros, encoded score, ttl in ms, and "1" when
// an equal timestamp must not replace the cached entry.
const putScript = `
local cur = redis.call('HGET', KEYS[1], 'at')
if cur then
  local have, want = tonumber(cur), tonumber(ARGV[1])
  if have > want or (have == want and ARGV[4] == '1') then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'at', ARGV[1], 'score', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

// client is the subset of redis.Cmdable the cache needs.
type client interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Open parses a redis:// or rediss:// URL and returns a tuned client.
func Open(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	return redis.NewClient(opts), nil
}

// Scores decorates a risk.ScoreStore with a read-through cache of latest scores.
// Redis failures degrade to the underlying store.
type Scores struct {
	next   risk.ScoreStore
	rdb    client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

var _ risk.ScoreStore = (*Scores)(nil)

// NewScores wraps next. A non-positive ttl selects the default.
func NewScores(next risk.ScoreStore, rdb client, ttl time.Duration, logger *zap.Logger) *Scores {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &Scores{next: next, rdb: rdb, ttl: ttl, prefix: defaultPrefix, logger: logger}
}

func (c *Scores) key(tenantID, userID string) string {
	return c.prefix + "score:latest:" + tenantID + ":" + userID
}

func (c *Scores) SaveScore(ctx context.Context, s risk.Score) error {
	if err := c.next.SaveScore(ctx, s); err != nil {
		return err
	}
	c.put(ctx, s, false)
	return nil
}

func (c *Scores) ScoreHistory(ctx context.Context, tenantID, userID string, limit int) ([]risk.Score, error) {
	return c.next.ScoreHistory(ctx, tenantID, userID, limit)
}

func (c *Scores) LatestScores(ctx context.Context, tenantID string) ([]risk.Score, error) {
	return c.next.LatestScores(ctx, tenantID)
}

func (c *Scores) LatestScore(ctx context.Context, tenantID, userID string) (risk.Score, error) {
	raw, err := c.rdb.HGet(ctx, c.key(tenantID, userID), "score").Bytes()
	switch {
	case err == nil:
		var s risk.Score
		if jerr := json.Unmarshal(raw, &s); jerr == nil {
			return s, nil
		}
		c.logger.Warn("discarding undecodable cached score", zap.String("user_id", userID))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("score cache read failed", zap.Error(err))
	}

	s, err := c.next.LatestScore(ctx, tenantID, userID)
	if err != nil {
		return risk.Score{}, err
	}
	// a concurrent SaveScore may already have cached a newer snapshot
	c.put(ctx, s, true)
	return s, nil
}

// put caches s unless the entry holds a newer snapshot. With keepTies an
// entry calculated at the same instant is left alone.
func (c *Scores) put(ctx context.Context, s risk.Score, keepTies bool) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	strict := "0"
	if keepTies {
		strict = "1"
	}
	err = c.rdb.Eval(ctx, putScript, []string{c.key(s.TenantID, s.UserID)},
		strconv.FormatInt(s.CalculatedAt.UnixMicro(), 10), data, c.ttl.Milliseconds(), strict).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("score cache write failed", zap.Error(err))
	}
}
