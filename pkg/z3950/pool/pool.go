package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

type Config struct {
	MaxIdle     int           // idle sessions kept per target
	IdleTimeout time.Duration // idle sessions older than this are closed
}

var DefaultConfig = Config{
	MaxIdle:     5,
	IdleTimeout: 5 * time.Minute,
}

// ClientWrapper is an initialized session plus the key it was opened for.
type ClientWrapper struct {
	Client   *z3950.Client
	Host     string
	Port     int
	DBName   string
	LastUsed time.Time
}

// Pool keeps initialized Z39.50 sessions per host:port:db.
type Pool struct {
	mu     sync.Mutex
	pools  map[string][]*ClientWrapper
	config Config
	dial   func(ctx context.Context, host string, port int) (*z3950.Client, error)
}

func NewPool(cfg Config) *Pool {
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultConfig.MaxIdle
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig.IdleTimeout
	}
	return &Pool{
		pools:  make(map[string][]*ClientWrapper),
		config: cfg,
		dial:   dialAndInit,
	}
}

func dialAndInit(ctx context.Context, host string, port int) (*z3950.Client, error) {
	client := z3950.NewClient(host, port)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (p *Pool) genKey(host string, port int, db string) string {
	return fmt.Sprintf("%s:%d:%s", host, port, db)
}

// Get returns an idle session for the target or opens a new one.
func (p *Pool) Get(ctx context.Context, host string, port int, db string) (*ClientWrapper, error) {
	key := p.genKey(host, port, db)

	for {
		p.mu.Lock()
		conns := p.pools[key]
		if len(conns) == 0 {
			p.mu.Unlock()
			break
		}
		wrapper := conns[len(conns)-1]
		p.pools[key] = conns[:len(conns)-1]
		p.mu.Unlock()

		if time.Since(wrapper.LastUsed) > p.config.IdleTimeout {
			slog.Debug("pool: connection expired, closing", "host", host)
			wrapper.Client.Close()
			continue
		}
		slog.Debug("pool: hit", "host", host)
		return wrapper, nil
	}

	slog.Debug("pool: miss, creating new connection", "host", host)
	client, err := p.dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return &ClientWrapper{
		Client:   client,
		Host:     host,
		Port:     port,
		DBName:   db,
		LastUsed: time.Now(),
	}, nil
}

// Put returns a healthy session to the pool.
func (p *Pool) Put(cw *ClientWrapper) {
	if cw == nil || cw.Client == nil {
		return
	}

	cw.LastUsed = time.Now()
	key := p.genKey(cw.Host, cw.Port, cw.DBName)

	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.pools[key]
	if len(conns) >= p.config.MaxIdle {
		cw.Client.Close()
		return
	}
	p.pools[key] = append(conns, cw)
}

// Discard closes a session that must not be reused, e.g. after an I/O error.
func (p *Pool) Discard(cw *ClientWrapper) {
	if cw != nil && cw.Client != nil {
		cw.Client.Close()
	}
}

// Idle reports how many sessions are parked for the target.
func (p *Pool) Idle(host string, port int, db string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools[p.genKey(host, port, db)])
}

// Run evicts expired sessions every interval until ctx is done, then
// closes everything left in the pool.
func (p *Pool) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.closeAll()
			return
		case <-ticker.C:
			p.evict(time.Now())
		}
	}
}

func (p *Pool) evict(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conns := range p.pools {
		var valid []*ClientWrapper
		for _, cw := range conns {
			if now.Sub(cw.LastUsed) <= p.config.IdleTimeout {
				valid = append(valid, cw)
			} else {
				cw.Client.Close()
			}
		}
		p.pools[key] = valid
	}
}

func (p *Pool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conns := range p.pools {
		for _, cw := range conns {
			cw.Client.Close()
		}
		delete(p.pools, key)
	}
}
