// Package dbpool implements a fixed-capacity, semaphore-guarded pool of
// database handles sitting on top of database/sql, mirroring the
// original connection-pool's queue-plus-counting-semaphore shape rather
// than relying solely on database/sql's own internal pooling.
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// ErrPoolExhausted is returned by Acquire when the free-handle queue is
// empty while the admission semaphore claims capacity remains — an
// invariant violation rather than ordinary contention, surfaced to
// callers as a 503-class failure.
var ErrPoolExhausted = errors.New("dbpool: pool exhausted")

// Config names the handles the pool opens at Init.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	PoolSize int
}

// Pool is a fixed-capacity FIFO of *sql.Conn guarded by a counting
// semaphore. The zero value is not usable; construct with Open.
type Pool struct {
	db   *sql.DB
	sem  chan struct{}
	mu   sync.Mutex
	free []*sql.Conn
}

// Open connects to the database and pre-populates the pool with
// cfg.PoolSize handles, mirroring the original's eager connect-at-init
// behavior.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.PoolSize <= 0 {
		return nil, errors.New("dbpool: PoolSize must be > 0")
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.PoolSize)

	p := &Pool{
		db:  db,
		sem: make(chan struct{}, cfg.PoolSize),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			p.ClosePool()
			return nil, err
		}
		p.free = append(p.free, c)
		p.sem <- struct{}{}
	}
	return p, nil
}

// Acquire waits for a free handle (respecting ctx) and pops one off the
// FIFO. It is a bug for the semaphore to admit an acquisition while the
// FIFO is empty; that case returns ErrPoolExhausted instead of blocking
// forever or panicking.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, ErrPoolExhausted
	}
	c := p.free[0]
	p.free = p.free[1:]
	return c, nil
}

// Release returns c to the pool.
func (p *Pool) Release(c *sql.Conn) {
	p.mu.Lock()
	p.free = append(p.free, c)
	p.mu.Unlock()
	p.sem <- struct{}{}
}

// Guard scopes one Acquire/Release pair, mirroring the original's RAII
// acquisition guard: `defer guard.Close()` always releases.
type Guard struct {
	pool *Pool
	conn *sql.Conn
}

// AcquireGuard acquires a handle and returns a Guard wrapping it.
func (p *Pool) AcquireGuard(ctx context.Context) (*Guard, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Guard{pool: p, conn: c}, nil
}

// Conn returns the guarded handle.
func (g *Guard) Conn() *sql.Conn { return g.conn }

// Close releases the guarded handle back to the pool. Safe to call via
// defer immediately after AcquireGuard.
func (g *Guard) Close() {
	g.pool.Release(g.conn)
}

// ClosePool drains and closes every handle plus the underlying *sql.DB.
// Idempotent.
func (p *Pool) ClosePool() {
	p.mu.Lock()
	for _, c := range p.free {
		c.Close()
	}
	p.free = nil
	p.mu.Unlock()
	if p.db != nil {
		p.db.Close()
	}
}

// FreeCount reports the number of currently idle handles.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// CheckCredentials issues the credential-check query named in spec.md
// §1 ("SELECT password FROM user WHERE username = $1") against a pooled
// handle, satisfying httpproto.CredentialChecker for the /login and
// /register routes.
func (p *Pool) CheckCredentials(username, password string) (bool, error) {
	ctx := context.Background()
	g, err := p.AcquireGuard(ctx)
	if err != nil {
		return false, err
	}
	defer g.Close()

	var stored string
	err = g.Conn().QueryRowContext(ctx,
		"SELECT password FROM user WHERE username = $1", username).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == password, nil
}
