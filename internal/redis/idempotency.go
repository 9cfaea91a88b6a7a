package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrRequestInFlight = errors.New("a request with this idempotency key is still being processed")
	ErrClaimLost       = errors.New("idempotency claim expired before completion")
)

const (
	pendingPrefix = "pending:"
	donePrefix    = "done:"
)

// IdempotencyStore remembers the terminal outcome of a request keyed by a
// caller supplied token, so a retried request replays instead of re-running.
type IdempotencyStore interface {
	// Claim reserves key for the caller. It returns a claim token when the
	// key was free, the stored payload when a previous request completed, or
	// ErrRequestInFlight when another request holds the claim.
	Claim(ctx context.Context, key string) (token string, prior []byte, err error)
	// Complete stores payload for key if token still owns the claim.
	Complete(ctx context.Context, key, token string, payload []byte) error
	// Release drops the claim so the request can be retried from scratch.
	Release(ctx context.Context, key, token string) error
}

type redisIdempotencyStore struct {
	client   *redis.Client
	claimTTL time.Duration
	ttl      time.Duration
}

// NewRedisIdempotencyStore stores outcomes under idem:<key>. Claims expire
// after claimTTL so a crashed request cannot block its key for long;
// completed outcomes live for ttl.
func NewRedisIdempotencyStore(client *redis.Client, claimTTL, ttl time.Duration) IdempotencyStore {
	return &redisIdempotencyStore{
		client:   client,
		claimTTL: claimTTL,
		ttl:      ttl,
	}
}

func (s *redisIdempotencyStore) Claim(ctx context.Context, key string) (string, []byte, error) {
	k := redisKey(key)
	token := uuid.NewString()

	// Two rounds cover a completed record expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, k, pendingPrefix+token, s.claimTTL).Result()
		if err != nil {
			return "", nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return token, nil, nil
		}

		val, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("read idempotency key: %w", err)
		}

		prior, done := decodeRecord(val)
		if !done {
			return "", nil, ErrRequestInFlight
		}
		return "", prior, nil
	}

	return "", nil, ErrRequestInFlight
}

var completeScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  return 0
end
`)

func (s *redisIdempotencyStore) Complete(ctx context.Context, key, token string, payload []byte) error {
	res, err := completeScript.Run(ctx, s.client,
		[]string{redisKey(key)},
		pendingPrefix+token,
		donePrefix+string(payload),
		s.ttl.Milliseconds(),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrClaimLost
	}
	return nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (s *redisIdempotencyStore) Release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, s.client, []string{redisKey(key)}, pendingPrefix+token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func redisKey(key string) string {
	return "idem:" + key
}

// decodeRecord splits a stored value into its payload and whether the
// request it belongs to has completed.
func decodeRecord(val string) ([]byte, bool) {
	if payload, ok := strings.CutPrefix(val, donePrefix); ok {
		return []byte(payload), true
	}
	return nil, false
}
