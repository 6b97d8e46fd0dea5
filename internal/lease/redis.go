package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only if this owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the TTL only if this owner still holds it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// Redis implements Leaser with one key per session identity.
type Redis struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lease: redis connect %s: %w", cfg.Addr, err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis lease store")
	return newRedis(client, cfg, logger), nil
}

func newRedis(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *Redis {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{
		client: client,
		owner:  uuid.NewString(),
		ttl:    ttl,
		prefix: cfg.Prefix,
		log:    logger,
	}
}

// Owner returns the token identifying this process's claims.
func (r *Redis) Owner() string { return r.owner }

func (r *Redis) key(id string) string { return r.prefix + id }

// Acquire claims id for ttl. Reacquiring an id this owner holds extends it.
func (r *Redis) Acquire(ctx context.Context, id string) error {
	ok, err := r.client.SetNX(ctx, r.key(id), r.owner, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("lease: acquire %s: %w", id, err)
	}
	if ok {
		return nil
	}
	if err := r.Refresh(ctx, id); err == nil {
		return nil
	} else if err != ErrNotHeld {
		return err
	}
	return ErrHeld
}

// Refresh extends the claim on id.
func (r *Redis) Refresh(ctx context.Context, id string) error {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key(id)}, r.owner, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lease: refresh %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release drops the claim on id if this owner holds it.
func (r *Redis) Release(ctx context.Context, id string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(id)}, r.owner).Err(); err != nil {
		return fmt.Errorf("lease: release %s: %w", id, err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
