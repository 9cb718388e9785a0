package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter provides proactive provider-quota limiting shared across
// processes via Redis. Counters are checked before each API call so a fleet
// of reviewers never exhausts the account quota mid-run.
type RateLimiter struct {
	redis    *redis.Client
	rpmLimit int64 // requests per minute
	tpmLimit int64 // tokens per minute
	rpdLimit int64 // requests per day
}

const (
	DefaultRPM = 1000
	DefaultTPM = 1_000_000
	DefaultRPD = 10_000
)

// NewRateLimiter creates a rate limiter connected to Redis.
func NewRateLimiter(redisAddr string) (*RateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", redisAddr, err)
	}

	return &RateLimiter{
		redis:    client,
		rpmLimit: DefaultRPM,
		tpmLimit: DefaultTPM,
		rpdLimit: DefaultRPD,
	}, nil
}

// CheckAndIncrement atomically increments the shared counters and reports
// whether the caller should throttle. The Lua script keeps check-and-bump
// race free across processes.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, estimatedTokens int64) error {
	now := time.Now()

	minuteKey := fmt.Sprintf("prsentry:rpm:%s", now.Format("2006-01-02T15:04"))
	tpmKey := fmt.Sprintf("prsentry:tpm:%s", now.Format("2006-01-02T15:04"))
	dayKey := fmt.Sprintf("prsentry:rpd:%s", now.Format("2006-01-02"))

	script := redis.NewScript(`
		local rpm_key = KEYS[1]
		local tpm_key = KEYS[2]
		local rpd_key = KEYS[3]
		local rpm_limit = tonumber(ARGV[1])
		local tpm_limit = tonumber(ARGV[2])
		local rpd_limit = tonumber(ARGV[3])
		local tokens = tonumber(ARGV[4])

		local rpm = redis.call('INCR', rpm_key)
		local tpm = redis.call('INCRBY', tpm_key, tokens)
		local rpd = redis.call('INCR', rpd_key)

		-- 70s TTL on minute keys leaves a buffer for clock skew
		if rpm == 1 then redis.call('EXPIRE', rpm_key, 70) end
		if tpm == tokens then redis.call('EXPIRE', tpm_key, 70) end
		if rpd == 1 then redis.call('EXPIRE', rpd_key, 86400) end

		-- throttle at 90% of the minute limits, hard stop at the daily limit
		if rpm >= rpm_limit * 0.9 then
			return {-1, 'RPM', rpm, rpm_limit}
		end
		if tpm >= tpm_limit * 0.9 then
			return {-2, 'TPM', tpm, tpm_limit}
		end
		if rpd >= rpd_limit then
			return {-3, 'RPD', rpd, rpd_limit}
		end

		return {0, 'OK', rpm, tpm, rpd}
	`)

	result, err := script.Run(ctx, r.redis,
		[]string{minuteKey, tpmKey, dayKey},
		r.rpmLimit, r.tpmLimit, r.rpdLimit, estimatedTokens).Result()

	if err != nil {
		return fmt.Errorf("rate limiter redis operation: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 2 {
		return fmt.Errorf("invalid rate limiter response format")
	}

	code := resultSlice[0].(int64)
	if code < 0 {
		limitType := resultSlice[1].(string)
		current := resultSlice[2].(int64)
		limit := resultSlice[3].(int64)

		if code == -3 {
			tomorrow := now.Add(24 * time.Hour)
			midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())
			waitTime := int(midnight.Sub(now).Seconds())
			return fmt.Errorf("daily quota exceeded: %d/%d requests (resets in %ds)", current, limit, waitTime)
		}

		waitTime := 60 - now.Second()
		if waitTime <= 0 {
			waitTime = 1
		}
		return fmt.Errorf("approaching %s limit (%d/%d), wait %ds", limitType, current, limit, waitTime)
	}

	return nil
}

// CheckAndIncrementWithRetry blocks until the rate limit window allows the
// call, respecting context cancellation. Daily quota exhaustion is not
// retried.
func (r *RateLimiter) CheckAndIncrementWithRetry(ctx context.Context, estimatedTokens int64) error {
	for {
		err := r.CheckAndIncrement(ctx, estimatedTokens)
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "daily quota exceeded") {
			return err
		}

		if strings.Contains(err.Error(), "wait") {
			waitTime := extractWaitTime(err.Error())
			select {
			case <-time.After(time.Duration(waitTime) * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return err
	}
}

var waitPattern = regexp.MustCompile(`wait (\d+)s`)

// extractWaitTime parses the wait duration from a throttle error message.
func extractWaitTime(errMsg string) int {
	matches := waitPattern.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		waitTime, err := strconv.Atoi(matches[1])
		if err == nil && waitTime > 0 {
			return waitTime
		}
	}
	return 60
}

// Close closes the Redis connection.
func (r *RateLimiter) Close() error {
	if r.redis != nil {
		return r.redis.Close()
	}
	return nil
}
