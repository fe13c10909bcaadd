package guard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only while it still holds the caller's owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis shares marks between API instances. Each mark is a key with a TTL so a crashed
// instance cannot pin a player.
type Redis struct {
	rdb         redis.UniversalClient
	prefix      string
	role        string
	inflightTTL time.Duration
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = strings.Trim(prefix, ":") }
}

func WithRedisInflightTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.inflightTTL = d }
}

// NewRedis returns the registry for one role ("sending" or "receiving").
func NewRedis(rdb redis.UniversalClient, role string, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:         rdb,
		prefix:      "bufficorns:guard",
		role:        role,
		inflightTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.inflightTTL <= 0 {
		r.inflightTTL = 30 * time.Second
	}
	return r
}

func (r *Redis) key(k string) string {
	return r.prefix + ":" + r.role + ":" + k
}

func (r *Redis) IsValid(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Reserve is SET NX PX: the check and the mark are one Redis command. The stored value is
// the owner token handed back to the caller.
func (r *Redis) Reserve(ctx context.Context, key string) (string, bool, error) {
	owner := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, r.key(key), owner, r.inflightTTL).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil || !ok {
		return "", false, err
	}
	return owner, true, nil
}

// Release is a compare-and-delete, so an expired request cannot clear a newer reservation.
func (r *Redis) Release(ctx context.Context, key, owner string) error {
	if owner == "" {
		return nil
	}
	return releaseScript.Run(ctx, r.rdb, []string{r.key(key)}, owner).Err()
}

func (r *Redis) Add(ctx context.Context, key string) error {
	return r.rdb.Set(ctx, r.key(key), "", r.inflightTTL).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}
