package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var (
	rdb       *redis.Client
	locker    *redislock.Client
	keyPrefix string
)

func GetRedisDB() *redis.Client {
	return rdb
}

func init() {
	// Load env from .env
	godotenv.Load()
	keyPrefix = strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX"))
	if keyPrefix == "" {
		keyPrefix = "factory"
	}
}

// RedisKey namespaces key so several environments can share one redis.
func RedisKey(key string) string {
	return keyPrefix + ":" + key
}

// GetRedisObject decodes the JSON stored at key into dest. A missing key, or
// no redis connection, reports false with a nil error.
func GetRedisObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	raw, err := rdb.Get(ctx, RedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, RedisKey(key), data, exp).Err()
}

func RemoveRedisKey(ctx context.Context, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = RedisKey(k)
	}
	return rdb.Del(ctx, full...).Err()
}

// ObtainRedisLock tries once to take key. A nil lock with a nil error means
// redis is not connected; callers proceed without the lock in that case.
func ObtainRedisLock(ctx context.Context, key string, ttl time.Duration) (*redislock.Lock, error) {
	if locker == nil {
		return nil, nil
	}
	return locker.Obtain(ctx, RedisKey(key), ttl, nil)
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Call this from main() AFTER the HTTP server is listening.
func ConnectRedisWithRetry() {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
		log.Printf("REDIS_ADDRESS not set; defaulting to %s", addr)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		PoolSize: intFromEnv("REDIS_POOL_SIZE", 50),
	})

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			rdb = client
			locker = redislock.New(client)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, addr)
			return
		}
		sleep := retryBackoff(attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, addr, err, sleep)
		time.Sleep(sleep)
	}
}
