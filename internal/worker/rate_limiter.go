package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/tinymail/internal/service/ledger"
)

// Decision is the quota gate's answer for one attempt.
type Decision struct {
	Admit      bool
	RetryAfter time.Duration
	// Count is the number of sends seen in the window when deciding.
	Count int
}

// Admitter gates sends against the daily quota. mailID identifies the
// attempt so a redelivered attempt does not reserve twice.
type Admitter interface {
	Admit(ctx context.Context, mailID string) (Decision, error)
}

// RollingCounter reports sends in a trailing window. *ledger.Service
// satisfies it.
type RollingCounter interface {
	RollingCount(ctx context.Context, window time.Duration) (int, error)
}

// QuotaLimiter is the soft limit: it reads the ledger's 24h count without
// reserving anything, so concurrent workers can overshoot the threshold by
// up to their number.
type QuotaLimiter struct {
	counts    RollingCounter
	threshold int
	backoff   time.Duration
}

// NewQuotaLimiter defers attempts once threshold sends happened in the
// trailing 24h.
func NewQuotaLimiter(counts RollingCounter, threshold int, backoff time.Duration) *QuotaLimiter {
	return &QuotaLimiter{counts: counts, threshold: threshold, backoff: backoff}
}

func (l *QuotaLimiter) Admit(ctx context.Context, _ string) (Decision, error) {
	n, err := l.counts.RollingCount(ctx, ledger.DailyWindow)
	if err != nil {
		return Decision{}, fmt.Errorf("quota check: %w", err)
	}
	if n >= l.threshold {
		return Decision{Admit: false, RetryAfter: l.backoff, Count: n}, nil
	}
	return Decision{Admit: true, Count: n}, nil
}

// Sliding-window reservation. The set holds one member per admitted
// attempt scored by admission time; the check and the reservation happen
// in one script so concurrent workers cannot both take the last slot.
const quotaLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

if redis.call("ZSCORE", key, member) then
    return {1, redis.call("ZCARD", key), 0}
end

local n = redis.call("ZCARD", key)
if n >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    return {0, n, tonumber(oldest[2])}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return {1, n + 1, 0}
`

// RedisQuotaLimiter is the strict limit. A reserved slot stays taken even
// if the send later fails.
type RedisQuotaLimiter struct {
	redis     *redis.Client
	key       string
	threshold int
	window    time.Duration
	backoff   time.Duration
	script    *redis.Script
	now       func() time.Time
}

// NewRedisQuotaLimiter creates a strict limiter keyed under prefix.
func NewRedisQuotaLimiter(client *redis.Client, prefix string, threshold int, backoff time.Duration) *RedisQuotaLimiter {
	return &RedisQuotaLimiter{
		redis:     client,
		key:       prefix + ":quota:sent",
		threshold: threshold,
		window:    ledger.DailyWindow,
		backoff:   backoff,
		script:    redis.NewScript(quotaLuaScript),
		now:       time.Now,
	}
}

func (l *RedisQuotaLimiter) Admit(ctx context.Context, mailID string) (Decision, error) {
	now := l.now()
	res, err := l.script.Run(ctx, l.redis, []string{l.key},
		now.UnixMilli(), l.window.Milliseconds(), l.threshold, mailID,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota reserve: %w", err)
	}

	d := Decision{Admit: res[0] == 1, Count: int(res[1])}
	if !d.Admit {
		// the oldest reservation leaves the window first
		freeAt := time.UnixMilli(res[2]).Add(l.window)
		d.RetryAfter = freeAt.Sub(now)
		if d.RetryAfter > l.backoff || d.RetryAfter <= 0 {
			d.RetryAfter = l.backoff
		}
	}
	return d, nil
}

// Usage returns the number of reservations currently in the window.
func (l *RedisQuotaLimiter) Usage(ctx context.Context) (int, error) {
	min := strconv.FormatInt(l.now().Add(-l.window).UnixMilli(), 10)
	n, err := l.redis.ZCount(ctx, l.key, "("+min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("quota usage: %w", err)
	}
	return int(n), nil
}
