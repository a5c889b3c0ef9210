package cache

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rate-limit window cache keys
const windowKeyPrefix = "otp:window:"

var client *redis.Client

// Init initializes the Redis connection
func Init() error {
	// K8s sets REDIS_SERVICE_HOST and REDIS_SERVICE_PORT for services
	host := os.Getenv("REDIS_SERVICE_HOST")
	if host == "" {
		host = "redis" // fallback to service name
	}
	port := os.Getenv("REDIS_SERVICE_PORT")
	if port == "" {
		port = "6379"
	}

	client = redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Close the failed client and set to nil for graceful degradation
		client.Close()
		client = nil
		return err
	}
	return nil
}

// GetClient returns the Redis client
func GetClient() *redis.Client {
	return client
}

// GetWindow returns cached creation timestamps of recent challenges for a
// target. A miss or any cache failure reports false and the caller reads
// the store instead; the store stays the source of truth.
func GetWindow(ctx context.Context, target string) ([]time.Time, bool) {
	if client == nil {
		return nil, false
	}
	data, err := client.Get(ctx, windowKeyPrefix+target).Bytes()
	if err != nil {
		return nil, false
	}
	var millis []int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return nil, false
	}
	times := make([]time.Time, 0, len(millis))
	for _, ms := range millis {
		times = append(times, time.UnixMilli(ms))
	}
	return times, true
}

// SetWindow caches the recent-challenge timestamps for a target. TTL equals
// the rate-limit window so stale entries age out on their own.
func SetWindow(ctx context.Context, target string, times []time.Time, ttl time.Duration) {
	if client == nil || ttl <= 0 {
		return
	}
	millis := make([]int64, 0, len(times))
	for _, t := range times {
		millis = append(millis, t.UnixMilli())
	}
	data, err := json.Marshal(millis)
	if err != nil {
		return
	}
	client.Set(ctx, windowKeyPrefix+target, data, ttl)
}

// InvalidateWindow drops the cached window after a new challenge is created.
func InvalidateWindow(ctx context.Context, target string) {
	if client == nil {
		return
	}
	client.Del(ctx, windowKeyPrefix+target)
}
