package config

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for Redis.
}

// Redis bundles the client and the lock client so callers get both
// from one ConnectRedisWithRetry call.
type Redis struct {
	Client *redis.Client
	Locker *redislock.Client
}

// ConnectRedisWithRetry connects and returns the client + lock client.
func ConnectRedisWithRetry(ctx context.Context) *Redis {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
		log.Printf("REDIS_ADDRESS not set; defaulting to %s", redisAddr)
	}

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return &Redis{Client: rdb, Locker: redislock.New(rdb)}
		} else {
			sleep := time.Second * time.Duration(1<<min(attempt, 5))
			if sleep > 30*time.Second {
				sleep = 30 * time.Second
			}
			log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
			time.Sleep(sleep)
		}
	}
}

func (r *Redis) GetObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	if r == nil || r.Client == nil {
		return false, nil
	}
	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	err = json.Unmarshal([]byte(val), &dest)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) SetObject(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
	if r == nil || r.Client == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if err = r.Client.Set(ctx, key, objInByte, exp).Err(); err != nil {
		return err
	}
	return nil
}

// IncrCounter adds one and returns the updated value.
func (r *Redis) IncrCounter(ctx context.Context, key string) (int64, error) {
	if r == nil || r.Client == nil {
		return 0, nil
	}
	return r.Client.Incr(ctx, key).Result()
}

func (r *Redis) RemoveKey(ctx context.Context, keys ...string) error {
	if r == nil || r.Client == nil {
		return nil
	}
	_, err := r.Client.Del(ctx, keys...).Result()
	return err
}

// PublishObject marshals obj and publishes it on a Pub/Sub channel for
// in-process and sidecar consumers.
func (r *Redis) PublishObject(ctx context.Context, channel string, obj interface{}) error {
	if r == nil || r.Client == nil {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, channel, data).Err()
}

// ObtainLock wraps redislock.Obtain; it is the single-instance run guard
// used by every long-running pipeline.
func (r *Redis) ObtainLock(ctx context.Context, key string, ttl time.Duration) (*redislock.Lock, error) {
	if r == nil || r.Locker == nil {
		return nil, nil
	}
	return r.Locker.Obtain(ctx, key, ttl, nil)
}
