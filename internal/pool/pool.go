// Package pool provides bounded, validated, retry-aware access to the backing
// sqlite database. The persistent backend runs on mattn/go-sqlite3 (cgo, with
// optional sqlite-vec); the in-memory flavor runs on the pure-Go
// modernc.org/sqlite driver.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/types"
)

// Backend selects the database flavor.
type Backend string

const (
	BackendPersistent Backend = "persistent"
	BackendInMemory   Backend = "in_memory"
)

// Config bounds and tunes the pool.
type Config struct {
	Min                 int
	Max                 int
	ConnectionTimeout   time.Duration
	IdleTimeout         time.Duration
	MaxLifetime         time.Duration
	WarmOnStart         bool
	ValidateOnCheckout  bool
	RecycleAfterUses    int
	ShutdownGracePeriod time.Duration
	MaxRetries          int
	CooldownPeriod      time.Duration
	ErrorRateThreshold  float64
}

// DefaultConfig returns pool defaults.
func DefaultConfig() Config {
	return Config{
		Min:                 1,
		Max:                 8,
		ConnectionTimeout:   5 * time.Second,
		IdleTimeout:         5 * time.Minute,
		MaxLifetime:         30 * time.Minute,
		WarmOnStart:         true,
		ValidateOnCheckout:  true,
		RecycleAfterUses:    10000,
		ShutdownGracePeriod: 10 * time.Second,
		MaxRetries:          3,
		CooldownPeriod:      5 * time.Second,
		ErrorRateThreshold:  0.5,
	}
}

// pooledConn tracks a live connection with its recycling counters.
type pooledConn struct {
	conn      *sql.Conn
	createdAt time.Time
	lastUsed  time.Time
	uses      int
}

// Pool hands out validated connections with bounded concurrency. A failed
// handle is discarded rather than returned; sustained failures trip a short
// cooldown during which acquires fast-fail.
type Pool struct {
	db      *sql.DB
	backend Backend
	cfg     Config

	mu       sync.Mutex
	idle     []*pooledConn
	numOpen  int
	checkout int
	closed   bool
	slotFree chan struct{}

	// breaker state
	recentErrs    int
	recentOps     int
	cooldownUntil time.Time

	stats Stats
}

// Stats counts pool activity.
type Stats struct {
	Acquired    uint64
	Released    uint64
	Discarded   uint64
	Recycled    uint64
	Timeouts    uint64
	Validations uint64
}

// Open creates a pool over the given backend and path. For the in-memory
// backend a unique shared-cache DSN keeps all pooled connections on the same
// database.
func Open(backend Backend, path string, cfg Config) (*Pool, error) {
	timer := logging.StartTimer(logging.CategoryPool, "Open")
	defer timer.Stop()

	if cfg.Max < 1 {
		cfg.Max = 1
	}
	if cfg.Min > cfg.Max {
		cfg.Min = cfg.Max
	}

	var driver, dsn string
	switch backend {
	case BackendInMemory:
		driver = "sqlite"
		dsn = fmt.Sprintf("file:cortexmem-%s?mode=memory&cache=shared", uuid.NewString())
	case BackendPersistent:
		driver = "sqlite3"
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL",
			path)
	default:
		return nil, types.InvalidInput(fmt.Sprintf("unknown storage backend %q", backend))
	}

	logging.Pool("Opening %s pool (min=%d max=%d)", backend, cfg.Min, cfg.Max)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, types.Transport(fmt.Errorf("failed to open database: %w", err))
	}
	db.SetMaxOpenConns(cfg.Max)
	db.SetMaxIdleConns(cfg.Max)
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	p := &Pool{
		db:       db,
		backend:  backend,
		cfg:      cfg,
		slotFree: make(chan struct{}, cfg.Max),
	}

	if cfg.WarmOnStart {
		if err := p.warm(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return p, nil
}

// Backend reports the flavor this pool runs on.
func (p *Pool) Backend() Backend { return p.backend }

// DB exposes the underlying handle for schema setup. Transactions and
// per-statement work should go through Acquire.
func (p *Pool) DB() *sql.DB { return p.db }

func (p *Pool) warm() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	defer cancel()

	for i := 0; i < p.cfg.Min; i++ {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return types.Transport(fmt.Errorf("failed to warm connection %d: %w", i, err))
		}
		now := time.Now()
		p.mu.Lock()
		p.idle = append(p.idle, &pooledConn{conn: conn, createdAt: now, lastUsed: now})
		p.numOpen++
		p.mu.Unlock()
	}
	logging.PoolDebug("Warmed %d connections", p.cfg.Min)
	return nil
}

// Acquire checks out a handle, failing with ResourceExhausted after
// ConnectionTimeout or immediately while the pool is cooling down.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.ResourceExhausted("pool")
	}
	if time.Now().Before(p.cooldownUntil) {
		p.mu.Unlock()
		logging.PoolDebug("Acquire rejected: pool cooling down")
		return nil, types.ResourceExhausted("pool")
	}
	p.mu.Unlock()

	deadline := time.Now().Add(p.cfg.ConnectionTimeout)
	for {
		if h, err, done := p.tryAcquire(ctx); done {
			return h, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
			return nil, types.ResourceExhausted("pool")
		}

		wait := 10 * time.Millisecond
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, types.Cancelled()
		case <-p.slotFree:
		case <-time.After(wait):
		}
	}
}

// tryAcquire attempts one checkout. done=false means "pool exhausted, wait".
func (p *Pool) tryAcquire(ctx context.Context) (*Handle, error, bool) {
	p.mu.Lock()

	// Prefer an idle connection, discarding stale ones.
	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if p.expired(pc) {
			p.numOpen--
			p.stats.Discarded++
			p.mu.Unlock()
			pc.conn.Close()
			p.mu.Lock()
			continue
		}

		p.checkout++
		p.stats.Acquired++
		validate := p.cfg.ValidateOnCheckout
		p.mu.Unlock()

		if validate {
			p.mu.Lock()
			p.stats.Validations++
			p.mu.Unlock()
			if err := pc.conn.PingContext(ctx); err != nil {
				logging.PoolDebug("Validation failed, discarding connection: %v", err)
				pc.conn.Close()
				p.mu.Lock()
				p.numOpen--
				p.checkout--
				p.stats.Discarded++
				p.mu.Unlock()
				return nil, nil, false
			}
		}
		return &Handle{pool: p, pc: pc}, nil, true
	}

	// Open a new connection when below the cap.
	if p.numOpen < p.cfg.Max {
		p.numOpen++
		p.checkout++
		p.stats.Acquired++
		p.mu.Unlock()

		connCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		conn, err := p.db.Conn(connCtx)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.numOpen--
			p.checkout--
			p.mu.Unlock()
			p.recordError()
			return nil, types.Transport(fmt.Errorf("failed to open connection: %w", err)), true
		}
		now := time.Now()
		return &Handle{pool: p, pc: &pooledConn{conn: conn, createdAt: now, lastUsed: now}}, nil, true
	}

	p.mu.Unlock()
	return nil, nil, false
}

func (p *Pool) expired(pc *pooledConn) bool {
	now := time.Now()
	if p.cfg.MaxLifetime > 0 && now.Sub(pc.createdAt) > p.cfg.MaxLifetime {
		return true
	}
	if p.cfg.IdleTimeout > 0 && now.Sub(pc.lastUsed) > p.cfg.IdleTimeout {
		return true
	}
	return false
}

// release returns a handle's connection to the pool, or discards it when it
// is broken or due for recycling.
func (p *Pool) release(pc *pooledConn, broken bool) {
	p.mu.Lock()
	p.checkout--
	p.stats.Released++

	recycle := p.cfg.RecycleAfterUses > 0 && pc.uses >= p.cfg.RecycleAfterUses
	if broken || recycle || p.closed {
		p.numOpen--
		if broken {
			p.stats.Discarded++
		} else if recycle {
			p.stats.Recycled++
		}
		p.mu.Unlock()
		pc.conn.Close()
	} else {
		pc.lastUsed = time.Now()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}

	select {
	case p.slotFree <- struct{}{}:
	default:
	}
}

// recordError feeds the breaker. Error rate above the threshold over the
// recent window trips a cooldown.
func (p *Pool) recordError() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recentErrs++
	p.recentOps++
	p.maybeTrip()
}

func (p *Pool) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recentOps++
	if p.recentOps >= 100 {
		p.recentOps = 0
		p.recentErrs = 0
	}
}

func (p *Pool) maybeTrip() {
	if p.recentOps < 10 {
		return
	}
	rate := float64(p.recentErrs) / float64(p.recentOps)
	if rate >= p.cfg.ErrorRateThreshold {
		p.cooldownUntil = time.Now().Add(p.cfg.CooldownPeriod)
		p.recentOps = 0
		p.recentErrs = 0
		logging.Pool("Error rate %.2f tripped cooldown until %v", rate, p.cooldownUntil)
	}
}

// Stats returns a copy of the counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close drains the pool, waiting up to ShutdownGracePeriod for in-flight
// handles before closing the database.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	deadline := time.Now().Add(p.cfg.ShutdownGracePeriod)
	for {
		p.mu.Lock()
		busy := p.checkout
		p.mu.Unlock()
		if busy == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, pc := range idle {
		pc.conn.Close()
	}

	logging.Pool("Pool closed")
	return p.db.Close()
}
