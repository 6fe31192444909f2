package fdfs

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const quitWriteTimeout = time.Second

// Session is one pooled TCP socket to one endpoint.
// In-use state and timestamps belong to the owning Pool and change only under its lock.
type Session struct {
	ID        string
	Endpoint  Endpoint
	CreatedAt time.Time

	conn       net.Conn
	pool       *Pool
	lastUsedAt time.Time
	inUse      bool
	useCount   uint64
	broken     atomic.Bool
	closed     atomic.Bool
	closeOnce  *sync.Once
}

func newSession(conn net.Conn, endpoint Endpoint, pool *Pool, now time.Time) *Session {
	return &Session{
		ID:         uuid.New().String(),
		Endpoint:   endpoint,
		CreatedAt:  now,
		conn:       conn,
		pool:       pool,
		lastUsedAt: now,
		closeOnce:  &sync.Once{},
	}
}

// Conn exposes the socket to the exchange engine; only the current holder may use it.
func (s *Session) Conn() net.Conn {
	return s.conn
}

func (s *Session) ioTimeout() time.Duration {
	if s.pool == nil {
		return 0
	}
	return s.pool.Config.IOTimeout
}

// open marks the session in-use. Caller holds the pool lock.
func (s *Session) open(now time.Time) error {
	if s.closed.Load() || s.broken.Load() {
		return &ConnectionError{Endpoint: s.Endpoint, Op: "open session", Err: ErrSessionClosed}
	}

	s.inUse = true
	s.lastUsedAt = now
	s.useCount++
	return nil
}

// IsAlive probes the socket without consuming application data.
// It cannot see a silent partition where the peer never resets the connection.
func (s *Session) IsAlive() bool {
	if s.closed.Load() || s.broken.Load() {
		return false
	}
	return probeConn(s.conn)
}

// MarkBroken records a fault so the session is discarded instead of reused.
func (s *Session) MarkBroken() {
	s.broken.Store(true)
}

// Broken reports whether a fault was recorded on this session.
func (s *Session) Broken() bool {
	return s.broken.Load()
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Close sends QUIT and closes the socket. Errors are swallowed; safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if !s.broken.Load() {
			_ = s.conn.SetWriteDeadline(time.Now().Add(quitWriteTimeout))
			_, _ = s.conn.Write(NewRequestHeader(CmdQuit, 0).Bytes())
		}

		_ = s.conn.Close()
	})
}

// Release hands the session back to its pool for reuse, or discards it when broken.
func (s *Session) Release() {
	if s.pool == nil {
		s.Close()
		return
	}
	s.pool.release(s)
}

// Discard removes the session from its pool and closes it.
func (s *Session) Discard() {
	if s.pool == nil {
		s.Close()
		return
	}
	s.pool.discard(s)
}

// InUse reports whether the session is assigned to a caller.
func (s *Session) InUse() bool {
	s.pool.lock.Lock()
	defer s.pool.lock.Unlock()
	return s.inUse
}

// UseCount reports how many times the session has been handed out.
func (s *Session) UseCount() uint64 {
	s.pool.lock.Lock()
	defer s.pool.lock.Unlock()
	return s.useCount
}

// LastUsedAt reports when the session was last opened or released.
func (s *Session) LastUsedAt() time.Time {
	s.pool.lock.Lock()
	defer s.pool.lock.Unlock()
	return s.lastUsedAt
}
