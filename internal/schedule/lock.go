package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/vigia/internal/model"
)

// Lock elects the single replica that runs the daily cycle
type Lock interface {
	// TryAcquire never blocks on a held lock; false means another replica owns it
	TryAcquire(ctx context.Context) (bool, error)
	Held() bool
	Release(ctx context.Context) error
}

// LocalLock only excludes schedulers within this process
type LocalLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

func NewLocalLock() *LocalLock { return &LocalLock{} }

func (l *LocalLock) TryAcquire(context.Context) (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	l.held.Store(true)
	return true, nil
}

func (l *LocalLock) Held() bool { return l.held.Load() }

func (l *LocalLock) Release(context.Context) error {
	if l.held.CompareAndSwap(true, false) {
		l.mu.Unlock()
	}
	return nil
}

// PostgresLock is a session advisory lock held on a pinned connection, so it
// is released by PostgreSQL if the process dies
type PostgresLock struct {
	db   *sql.DB
	key  int64
	mu   sync.Mutex
	conn *sql.Conn
}

func NewPostgresLock(db *sql.DB, key int64) *PostgresLock {
	return &PostgresLock{db: db, key: key}
}

func (l *PostgresLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.key, err)
	}
	if !ok {
		_ = conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PostgresLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

func (l *PostgresLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	var released bool
	err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released)
	closeErr := conn.Close()
	if err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.key, err)
	}
	return closeErr
}

var (
	refreshScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
)

// RedisLock is a SET NX lease refreshed while held. Losing the lease (for
// example after a long pause) flips Held to false.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	token  string
	logger *slog.Logger

	held atomic.Bool
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisLock{client: client, key: key, ttl: ttl, token: uuid.NewString(), logger: logger}
}

func (l *RedisLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held.Load() {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}
	l.held.Store(true)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.refresh(l.stop, l.done)
	return true, nil
}

func (l *RedisLock) refresh(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("lock refresh failed", "key", l.key, "error", err)
				continue
			}
			if n == 0 {
				l.logger.Error("lock lease lost", "key", l.key)
				l.held.Store(false)
				return
			}
		}
	}
}

func (l *RedisLock) Held() bool { return l.held.Load() }

func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop == nil {
		return nil
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil
	l.held.Store(false)

	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock %s: %w", l.key, err)
	}
	return nil
}

// NewLock picks the backend: redis when an address is set, postgres when the
// store is PostgreSQL, otherwise a process-local lock
func NewLock(cfg model.LockConfig, driver string, db *sql.DB, logger *slog.Logger) (Lock, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" || backend == "auto" {
		switch {
		case cfg.RedisAddr != "":
			backend = "redis"
		case driver == "postgres" && db != nil:
			backend = "postgres"
		default:
			backend = "local"
		}
	}

	switch backend {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis lock needs lock.redis_addr")
		}
		opts, err := redisOptions(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return NewRedisLock(redis.NewClient(opts), cfg.RedisKey, cfg.TTL, logger), nil
	case "postgres":
		if driver != "postgres" || db == nil {
			return nil, errors.New("postgres lock needs a postgres store")
		}
		return NewPostgresLock(db, cfg.AdvisoryKey), nil
	case "local":
		return NewLocalLock(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}
