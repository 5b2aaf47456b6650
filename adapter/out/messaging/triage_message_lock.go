package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

const lockPrefix = "triage:lock:"

var _ out.MessageLocker = (*RedisLocker)(nil)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements out.MessageLocker with SET NX and an owner token.
type RedisLocker struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisLocker(client *redis.Client, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		log:    log.With().Str("component", "message_lock").Logger(),
	}
}

// TryLock acquires the lock for messageID for at most ttl.
func (l *RedisLocker) TryLock(ctx context.Context, messageID string, ttl time.Duration) (out.Unlock, bool, error) {
	key := lockPrefix + messageID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, apperr.Transient(redisService, err).WithDetail("key", key)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return apperr.Transient(redisService, err).WithDetail("key", key)
		}
		if n == 0 {
			l.log.Debug().Str("message_id", messageID).Msg("lock expired before release")
		}
		return nil
	}
	return unlock, true, nil
}
