package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// ErrLockNotHeld is returned when extending a lock this instance does not own.
var ErrLockNotHeld = fmt.Errorf("%w: lock not held by this instance", domain.ErrForbidden)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// DefaultLockPrefix namespaces lock keys.
const DefaultLockPrefix = "sercha-typesense:lock:"

// Owner-checked mutations. KEYS[1] is the lock key, ARGV[1] the owner.
var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then return 0 end
return redis.call("DEL", KEYS[1])`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then return 0 end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])`)
)

// LockConfig configures a Lock.
type LockConfig struct {
	// Prefix defaults to DefaultLockPrefix.
	Prefix string
	// Owner identifies this process. Defaults to host:pid:uuid.
	Owner  string
	Logger *slog.Logger
}

// Lock guards the scheduler tick and per-collection sync steps with
// SET NX PX keys whose value is the owner.
type Lock struct {
	client *redis.Client
	prefix string
	owner  string
	logger *slog.Logger
}

// NewLock creates a Redis-backed lock.
func NewLock(client *redis.Client, cfg LockConfig) *Lock {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultLockPrefix
	}
	if cfg.Owner == "" {
		host, _ := os.Hostname()
		cfg.Owner = fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Lock{client: client, prefix: cfg.Prefix, owner: cfg.Owner, logger: cfg.Logger}
}

// Owner returns the value written into held lock keys.
func (l *Lock) Owner() string {
	return l.owner
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		holder, remaining, herr := l.Holder(ctx, name)
		if herr == nil && holder != "" {
			l.logger.Debug("lock busy", "lock", name, "holder", holder, "remaining", remaining)
		}
	}
	return ok, nil
}

// Holder reports who holds a lock and for how much longer.
// An empty holder means the lock is free.
func (l *Lock) Holder(ctx context.Context, name string) (string, time.Duration, error) {
	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := l.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, l.key(name))
		pttl = p.PTTL(ctx, l.key(name))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, fmt.Errorf("inspect lock %s: %w", name, err)
	}
	holder, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("inspect lock %s: %w", name, err)
	}
	return holder, pttl.Val(), nil
}

// Release deletes the lock only while this instance still owns it.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := unlockScript.Run(ctx, l.client, []string{l.key(name)}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key(name)}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s: %w", name, ErrLockNotHeld)
	}
	return nil
}

func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
