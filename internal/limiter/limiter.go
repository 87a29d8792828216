package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/examextract/internal/metrics"
)

// Adaptive is a redis-backed per-engine circuit breaker with exponential
// cooldown, shared across replicas, plus a local in-process concurrency cap.
type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

type Options struct {
	RedisURL    string
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func New(opts Options) (*Adaptive, error) {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Adaptive{rdb: c, maxInflight: opts.MaxInflight, baseBackoff: opts.BaseBackoff, maxBackoff: opts.MaxBackoff, sem: map[string]chan struct{}{}}, nil
}

func (a *Adaptive) key(engine string) string {
	return fmt.Sprintf("cb:engine:%s", strings.ToLower(engine))
}

// IsOpen returns true if the breaker is open (cooldown active) for the engine.
func (a *Adaptive) IsOpen(ctx context.Context, engine string) bool {
	ts, err := a.rdb.Get(ctx, a.key(engine)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// Open sets/extends the cooldown with exponential backoff per attempt.
func (a *Adaptive) Open(ctx context.Context, engine string) {
	k := a.key(engine)
	attempts, _ := a.rdb.Incr(ctx, k+":attempts").Result()
	if attempts < 1 {
		attempts = 1
	}
	// backoff doubles up to maxBackoff
	d := a.baseBackoff * (1 << (attempts - 1))
	if d > a.maxBackoff || d <= 0 {
		d = a.maxBackoff
	}
	until := time.Now().Add(d).Unix()
	_ = a.rdb.Set(ctx, k, until, d).Err()
	metrics.BreakerOpened(engine)
}

// Close resets the breaker for the engine.
func (a *Adaptive) Close(ctx context.Context, engine string) {
	k := a.key(engine)
	n, err := a.rdb.Del(ctx, k, k+":attempts").Result()
	if err == nil && n > 0 {
		metrics.BreakerClosed(engine)
	}
}

// Allow tries to reserve a local in-process slot for the engine.
// Returns a release function and true if allowed; otherwise nil,false.
func (a *Adaptive) Allow(engine string) (func(), bool) {
	key := strings.ToLower(engine)
	a.mu.Lock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

func (a *Adaptive) CloseClient() error { return a.rdb.Close() }
