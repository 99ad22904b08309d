package reset

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "memorybox:reset"

	fieldCode      = "code"
	fieldExpiresAt = "expires_at"
	fieldVerified  = "verified"

	maxTxRetries = 5

	// Keys outlive expires_at by this much so a late read reports
	// ErrExpired rather than ErrNoEntry.
	expiryGrace = time.Minute
)

// RedisRegistry stores one hash per email and lets Redis drop it once
// expiryGrace has passed after expires_at. Verify
// and Consume run as WATCH transactions so concurrent transitions on one
// email stay serialized across server instances.
type RedisRegistry struct {
	client   *red.Client
	prefix   string
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// NewRedisRegistry wraps client. A non-positive ttl selects DefaultTTL.
func NewRedisRegistry(client *red.Client, keyPrefix string, ttl time.Duration) *RedisRegistry {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		now:      time.Now,
		generate: GenerateCode,
	}
}

// WithClock overrides the internal clock, used in tests.
func (r *RedisRegistry) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

func (r *RedisRegistry) TTL() time.Duration { return r.ttl }

func (r *RedisRegistry) key(email string) string {
	return r.prefix + ":" + email
}

func (r *RedisRegistry) Issue(ctx context.Context, email string) (Entry, error) {
	code, err := r.generate()
	if err != nil {
		return Entry{}, err
	}
	expiresAt := r.now().Add(r.ttl)
	key := r.key(email)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldCode:      code,
		fieldExpiresAt: strconv.FormatInt(expiresAt.UnixMilli(), 10),
		fieldVerified:  "0",
	})
	pipe.PExpire(ctx, key, r.ttl+expiryGrace)
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, fmt.Errorf("redis store reset code: %w", err)
	}
	return Entry{Email: email, Code: code, ExpiresAt: expiresAt}, nil
}

func (r *RedisRegistry) Verify(ctx context.Context, email, code string) error {
	key := r.key(email)
	return r.transact(ctx, key, func(tx *red.Tx, e Entry) error {
		if !codesEqual(e.Code, code) {
			return ErrMismatch
		}
		if e.Verified {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.HSet(ctx, key, fieldVerified, "1")
			return nil
		})
		return err
	})
}

func (r *RedisRegistry) Consume(ctx context.Context, email, code string) error {
	key := r.key(email)
	return r.transact(ctx, key, func(tx *red.Tx, e Entry) error {
		if !e.Verified {
			return ErrNotVerified
		}
		if !codesEqual(e.Code, code) {
			return ErrMismatch
		}
		_, err := tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	})
}

func (r *RedisRegistry) Invalidate(ctx context.Context, email string) error {
	if err := r.client.Del(ctx, r.key(email)).Err(); err != nil {
		return fmt.Errorf("redis delete reset code: %w", err)
	}
	return nil
}

// transact watches key, loads the live entry and runs fn. Lost races are
// retried a bounded number of times.
func (r *RedisRegistry) transact(ctx context.Context, key string, fn func(tx *red.Tx, e Entry) error) error {
	txf := func(tx *red.Tx) error {
		values, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis hgetall reset code: %w", err)
		}
		e, err := parseEntry(values)
		if err != nil {
			return err
		}
		if r.now().After(e.ExpiresAt) {
			if err := tx.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("redis delete expired reset code: %w", err)
			}
			return ErrExpired
		}
		return fn(tx, e)
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, red.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis reset transaction on %s: %w", key, red.TxFailedErr)
}

func parseEntry(values map[string]string) (Entry, error) {
	code := strings.TrimSpace(values[fieldCode])
	if len(values) == 0 || code == "" {
		return Entry{}, ErrNoEntry
	}
	ms, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse %s: %w", fieldExpiresAt, err)
	}
	return Entry{
		Code:      code,
		ExpiresAt: time.UnixMilli(ms),
		Verified:  values[fieldVerified] == "1",
	}, nil
}
