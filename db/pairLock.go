package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/techagentng/qwik/logger"
)

// PairLocker serializes work on one unordered pair of users. Callers pass
// the pair already normalized.
type PairLocker interface {
	WithPairLock(ctx context.Context, first, second uint, fn func() error) error
}

func pairKey(first, second uint) string {
	return fmt.Sprintf("%d_%d", first, second)
}

type pairMutex struct {
	mu   sync.Mutex
	refs int
}

// localPairLocker is a keyed mutex. Entries are reference counted and
// removed once nobody holds or waits on them.
type localPairLocker struct {
	mu    sync.Mutex
	locks map[string]*pairMutex
}

func NewLocalPairLocker() PairLocker {
	return &localPairLocker{locks: make(map[string]*pairMutex)}
}

func (l *localPairLocker) WithPairLock(ctx context.Context, first, second uint, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := pairKey(first, second)

	l.mu.Lock()
	pm, ok := l.locks[key]
	if !ok {
		pm = &pairMutex{}
		l.locks[key] = pm
	}
	pm.refs++
	l.mu.Unlock()

	pm.mu.Lock()
	defer func() {
		pm.mu.Unlock()
		l.mu.Lock()
		pm.refs--
		if pm.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}()

	return fn()
}

func (l *localPairLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// redisPairLocker holds a redsync mutex per pair so that several service
// instances creating the same thread take turns.
type redisPairLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
	log *logger.Logger
}

func NewRedisPairLocker(client *goredis.Client, ttl time.Duration, log *logger.Logger) PairLocker {
	return &redisPairLocker{
		rs:  redsync.New(redsyncgoredis.NewPool(client)),
		ttl: ttl,
		log: log.With("component", "RedisPairLocker"),
	}
}

func (l *redisPairLocker) WithPairLock(ctx context.Context, first, second uint, fn func() error) error {
	mutex := l.rs.NewMutex("qwik:thread-pair:"+pairKey(first, second), redsync.WithExpiry(l.ttl))
	if err := mutex.LockContext(ctx); err != nil {
		return errors.Wrap(err, "acquire pair lock")
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			l.log.Warn("failed to release pair lock", "first", first, "second", second, "error", err)
		}
	}()
	return fn()
}
