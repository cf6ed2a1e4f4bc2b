package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"resume-analyzer/internal/models"
)

const keyPrefix = "cache:result:"

// Cache stores extracted analysis results keyed by input fingerprint.
//
// Every operation fails open: a Redis outage turns Lookup into a miss and
// Store into a no-op, and the pipeline proceeds without the cache. Callers
// therefore never receive an error from this type.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New builds a result cache. ttl <= 0 means entries never expire.
func New(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) key(fingerprint string) string {
	return keyPrefix + fingerprint
}

// Lookup returns the entry for the fingerprint, bumping hit_count and
// last_accessed_at atomically before the copy is returned.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (models.CacheEntry, bool) {
	now := time.Now().UnixMilli()
	res, err := lookupScript.Run(ctx, c.client, []string{c.key(fingerprint)}, now).Result()
	if err == redis.Nil {
		return models.CacheEntry{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache lookup failed, treating as miss")
		return models.CacheEntry{}, false
	}
	fields, ok := res.([]interface{})
	if !ok || len(fields)%2 != 0 {
		c.logger.Warn().Str("fingerprint", fingerprint).Msg("cache entry malformed, treating as miss")
		return models.CacheEntry{}, false
	}

	entry := models.CacheEntry{Key: fingerprint}
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].(string)
		value, _ := fields[i+1].(string)
		switch name {
		case "improved_cv":
			entry.Result.ImprovedText = value
		case "cover_letter":
			entry.Result.CoverLetterText = value
		case "tips":
			entry.Result.TipsText = value
		case "changes_overview":
			entry.Result.ChangesOverviewText = value
		case "language":
			entry.Language = value
		case "hit_count":
			entry.HitCount, _ = strconv.ParseInt(value, 10, 64)
		case "created_at":
			entry.CreatedAt = parseMilli(value)
		case "last_accessed_at":
			entry.LastAccessedAt = parseMilli(value)
		}
	}
	return entry, true
}

// Store inserts the entry unless one already exists for the key. A losing
// race is not an error: the first write wins and later writers confirm
// idempotently, so both outcomes report true. Only a Redis failure is false.
func (c *Cache) Store(ctx context.Context, fingerprint string, result models.AnalysisResult, language string) bool {
	now := time.Now().UnixMilli()
	err := storeScript.Run(ctx, c.client, []string{c.key(fingerprint)},
		result.ImprovedText,
		result.CoverLetterText,
		result.TipsText,
		result.ChangesOverviewText,
		language,
		now,
		c.ttl.Milliseconds(),
	).Err()
	if err != nil && err != redis.Nil {
		c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache store failed, continuing without cache")
		return false
	}
	return true
}

func parseMilli(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

var lookupScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return nil
end
redis.call('HINCRBY', KEYS[1], 'hit_count', 1)
redis.call('HSET', KEYS[1], 'last_accessed_at', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var storeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'improved_cv', ARGV[1],
  'cover_letter', ARGV[2],
  'tips', ARGV[3],
  'changes_overview', ARGV[4],
  'language', ARGV[5],
  'hit_count', 0,
  'created_at', ARGV[6],
  'last_accessed_at', ARGV[6])
local ttl = tonumber(ARGV[7])
if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
return 1
`)
