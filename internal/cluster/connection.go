package cluster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/cyburs/redisson/internal/logger"
)

// Connection is the minimal surface the core needs from a live node
// connection: a blocking request/response call, a liveness check, and an
// asynchronous close. The wire-level implementation is an external
// collaborator (see SPEC_FULL.md §11); this interface is what the
// reconciliation engine actually consumes from it.
type Connection interface {
	Sync(ctx context.Context, args ...interface{}) (interface{}, error)
	IsActive() bool
	CloseAsync()
}

// redisConnection adapts *redis.Client to Connection.
type redisConnection struct {
	addr   Address
	client *redis.Client
	active atomic.Bool
}

// dialConnection is a package-level variable rather than a plain function
// so tests can substitute a fake dialer without a live Redis server.
var dialConnection = func(ctx context.Context, addr Address, cfg Config) (Connection, error) {
	opts := &redis.Options{
		Addr:         addr.String(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		ClientName:   cfg.ClientName,
		DialTimeout:  cfg.connectTimeout(),
		ReadTimeout:  cfg.timeout(),
		WriteTimeout: cfg.timeout(),
		PoolSize:     cfg.masterPoolMaxSize(),
		MinIdleConns: cfg.masterPoolMinIdleSize(),
		ConnMaxIdleTime: cfg.idleConnectionTimeout(),
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.pingTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &redisConnection{addr: addr, client: client}
	c.active.Store(true)
	return c, nil
}

func (c *redisConnection) Sync(ctx context.Context, args ...interface{}) (interface{}, error) {
	res, err := c.client.Do(ctx, args...).Result()
	if err != nil && err != redis.Nil {
		c.active.Store(false)
		return nil, err
	}
	return res, nil
}

func (c *redisConnection) IsActive() bool { return c.active.Load() }

func (c *redisConnection) CloseAsync() {
	c.active.Store(false)
	go c.client.Close()
}

// NodeConnector is the seed connector & node-connection cache (SPEC §4.4):
// it maintains short-lived probe connections to arbitrary cluster
// addresses, reused across ticks, and never re-checks a cache hit's
// liveness — that discipline is intentional (see SPEC_FULL.md §11 / design
// notes): it is a cheap reuse cache, not a health tracker. Callers that
// discover a cached connection has gone bad must call Evict and retry.
type NodeConnector struct {
	cfg Config

	mu       sync.Mutex
	cache    map[Address]Connection
	limiters map[Address]*rate.Limiter
}

func newNodeConnector(cfg Config) *NodeConnector {
	return &NodeConnector{
		cfg:      cfg,
		cache:    make(map[Address]Connection),
		limiters: make(map[Address]*rate.Limiter),
	}
}

// Connect returns a probe connection for addr, or (nil, false) if it
// can't presently be reached. A cache hit is returned without
// re-validating liveness. A cache miss dials fresh, subject to a
// per-address rate limit derived from retryInterval so a dead seed isn't
// redialed on every single tick.
func (nc *NodeConnector) Connect(ctx context.Context, addr Address, suppressLogs bool) (Connection, bool) {
	nc.mu.Lock()
	if conn, ok := nc.cache[addr]; ok {
		nc.mu.Unlock()
		return conn, true
	}
	limiter := nc.limiterFor(addr)
	nc.mu.Unlock()

	if !limiter.Allow() {
		return nil, false
	}

	dialCtx, cancel := context.WithTimeout(ctx, nc.cfg.connectTimeout())
	defer cancel()

	conn, err := dialConnection(dialCtx, addr, nc.cfg)
	if err != nil {
		if !suppressLogs {
			logger.Warn("cluster: failed to connect to %s: %v", addr, err)
		}
		nc.Evict(addr)
		return nil, false
	}
	if !conn.IsActive() {
		conn.CloseAsync()
		nc.Evict(addr)
		return nil, false
	}

	nc.mu.Lock()
	nc.cache[addr] = conn
	nc.mu.Unlock()
	return conn, true
}

func (nc *NodeConnector) limiterFor(addr Address) *rate.Limiter {
	l, ok := nc.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Every(nc.cfg.retryInterval()), 1)
		nc.limiters[addr] = l
	}
	return l
}

// Evict drops addr from the cache and asynchronously closes whatever
// connection was cached for it, if any. Callers use this when a reused
// connection is later discovered to be dead (a failed Sync, a false from
// IsActive observed outside of Connect).
func (nc *NodeConnector) Evict(addr Address) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.evictLocked(addr)
}

func (nc *NodeConnector) evictLocked(addr Address) {
	if conn, ok := nc.cache[addr]; ok {
		conn.CloseAsync()
		delete(nc.cache, addr)
	}
}

// CloseAll closes every cached probe connection. Used by the shutdown
// coordinator.
func (nc *NodeConnector) CloseAll() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	for addr, conn := range nc.cache {
		conn.CloseAsync()
		delete(nc.cache, addr)
	}
}
