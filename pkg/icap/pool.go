package icap

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// pooledSession is an idle session with the time it was returned
type pooledSession struct {
	session  *Session
	lastUsed time.Time
}

// idleList holds the idle sessions of one server
type idleList struct {
	mu       sync.Mutex
	sessions []*pooledSession
}

// Pool keeps idle sessions whose server connection stays open between
// requests, keyed by "host:port"
type Pool struct {
	cfg         Config
	idle        *xsync.MapOf[string, *idleList]
	maxIdle     int
	maxIdleTime time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// PoolOptions tune a Pool
type PoolOptions struct {
	MaxIdle         int           // Maximum idle sessions per server (default: 10)
	MaxIdleTime     time.Duration // Idle sessions older than this are closed (default: 90s)
	CleanupInterval time.Duration // How often idle sessions are checked (default: 30s)
}

// SetDefaults sets default values for unspecified options
func (o *PoolOptions) SetDefaults() {
	if o.MaxIdle == 0 {
		o.MaxIdle = 10
	}
	if o.MaxIdleTime == 0 {
		o.MaxIdleTime = 90 * time.Second
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = 30 * time.Second
	}
}

// NewPool creates a pool handing out sessions configured with cfg. Call
// Close to stop its cleanup goroutine.
func NewPool(cfg Config, opts PoolOptions) *Pool {
	opts.SetDefaults()
	p := &Pool{
		cfg:         cfg,
		idle:        xsync.NewMapOf[string, *idleList](),
		maxIdle:     opts.MaxIdle,
		maxIdleTime: opts.MaxIdleTime,
		stop:        make(chan struct{}),
	}

	// Start cleanup goroutine
	go p.cleanupLoop(opts.CleanupInterval)

	return p
}

// Get returns an idle session to host, or a new one when none is left
func (p *Pool) Get(host string) (*Session, error) {
	cfg := p.cfg
	cfg.SetDefaults()

	if list, ok := p.idle.Load(poolKey(host, cfg.Port)); ok {
		for {
			ps := list.pop()
			if ps == nil {
				break
			}
			// Check if the server still holds the connection open
			if ps.session.reusable() {
				return ps.session, nil
			}
			ps.session.Close()
		}
	}

	return NewSession(host, cfg)
}

// Put returns s to the pool. Sessions whose connection will not carry
// another request, and sessions beyond the idle limit, are closed.
func (p *Pool) Put(s *Session) {
	if !s.reusable() {
		s.Close()
		return
	}

	list, _ := p.idle.LoadOrStore(poolKey(s.conn.host, s.conn.port), &idleList{})
	if !list.push(&pooledSession{session: s, lastUsed: time.Now()}, p.maxIdle) {
		s.Close()
	}
}

// Idle returns the number of idle sessions to host:port
func (p *Pool) Idle(host string, port int) int {
	list, ok := p.idle.Load(poolKey(host, port))
	if !ok {
		return 0
	}
	list.mu.Lock()
	defer list.mu.Unlock()
	return len(list.sessions)
}

// Close closes every idle session and stops the cleanup goroutine
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.idle.Range(func(key string, list *idleList) bool {
		for _, ps := range list.drain() {
			ps.session.Close()
		}
		p.idle.Delete(key)
		return true
	})
}

// cleanupLoop periodically removes stale sessions
func (p *Pool) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.cleanup()
		case <-p.stop:
			return
		}
	}
}

// cleanup closes sessions that have been idle too long or whose server
// went away
func (p *Pool) cleanup() {
	now := time.Now()
	p.idle.Range(func(key string, list *idleList) bool {
		var stale []*pooledSession

		list.mu.Lock()
		active := list.sessions[:0]
		for _, ps := range list.sessions {
			if now.Sub(ps.lastUsed) > p.maxIdleTime || !ps.session.reusable() {
				stale = append(stale, ps)
			} else {
				active = append(active, ps)
			}
		}
		clear(list.sessions[len(active):])
		list.sessions = active
		list.mu.Unlock()

		for _, ps := range stale {
			ps.session.Close()
		}
		return true
	})
}

func (l *idleList) pop() *pooledSession {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Get the most recently used session
	n := len(l.sessions)
	if n == 0 {
		return nil
	}
	ps := l.sessions[n-1]
	l.sessions[n-1] = nil
	l.sessions = l.sessions[:n-1]
	return ps
}

func (l *idleList) push(ps *pooledSession, maxIdle int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Don't exceed max idle sessions
	if len(l.sessions) >= maxIdle {
		return false
	}
	l.sessions = append(l.sessions, ps)
	return true
}

func (l *idleList) drain() []*pooledSession {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions := l.sessions
	l.sessions = nil
	return sessions
}

func poolKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
