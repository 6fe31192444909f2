package fdfs

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/sirupsen/logrus"
)

type dialFunc func(address string, timeout time.Duration) (net.Conn, error)

func dialTCP(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

// Pool houses the sessions of one endpoint.
type Pool struct {
	Endpoint Endpoint
	Config   PoolConfig

	lock        *sync.Mutex
	sessions    []*Session
	pending     int // dials in flight, counted against MaxSize
	enabled     bool
	disabledAt  time.Time
	failCount   int
	lastSweepAt time.Time
	closed      bool
	releases    *queue.Queue // one token per release, wakes blocked acquirers
	logger      logrus.FieldLogger
	dial        dialFunc
	now         func() time.Time
}

// PoolStats is a point-in-time view of a Pool.
type PoolStats struct {
	Endpoint  Endpoint
	Name      string
	Sessions  int
	InUse     int
	Pending   int
	Enabled   bool
	FailCount int
}

// NewPool creates the hosting structure for one endpoint's sessions. No connection is made yet.
func NewPool(endpoint Endpoint, config *PoolConfig) (*Pool, error) {
	if config.MaxSize <= 0 {
		return nil, configError("pool maxsize can't be 0")
	}

	if config.IdleLifetime <= 0 || config.DialTimeout <= 0 {
		return nil, configError("pool idle lifetime or dial timeout can't be 0")
	}

	poolConfig := *config
	if poolConfig.RetryInterval <= 0 {
		poolConfig.RetryInterval = DefaultSleepOnRetryInterval * time.Millisecond
	}

	if poolConfig.Logger == nil {
		poolConfig.Logger = discardLogger()
	}

	now := time.Now()
	return &Pool{
		Endpoint:    endpoint,
		Config:      poolConfig,
		lock:        &sync.Mutex{},
		sessions:    make([]*Session, 0, config.MaxSize),
		enabled:     true,
		lastSweepAt: now,
		releases:    queue.New(int64(config.MaxSize)),
		logger: poolConfig.Logger.WithFields(logrus.Fields{
			"pool":     poolConfig.Name,
			"endpoint": endpoint.String(),
		}),
		dial: dialTCP,
		now:  time.Now,
	}, nil
}

// GetSession hands out an idle live session or dials a new one, waiting up to timeout.
// The session must be given back with Release (or Discard after a fault).
func (p *Pool) GetSession(timeout time.Duration) (*Session, error) {
	deadline := time.Now().Add(timeout)

	for {
		session, err := p.tryGetSession()
		if session != nil || err != nil {
			return session, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.logger.WithField("timeout", timeout).Debug("no session available before timeout")
			return nil, &TimeoutError{Endpoint: p.Endpoint, Waited: timeout}
		}

		if remaining > p.Config.RetryInterval {
			remaining = p.Config.RetryInterval
		}
		p.waitForRelease(remaining)
	}
}

// tryGetSession runs one pass of the acquisition algorithm.
// A nil session with a nil error means the caller should wait and retry.
func (p *Pool) tryGetSession() (*Session, error) {
	session, stale, dial, err := p.checkout()
	closeSessions(stale)

	if err != nil || session != nil || !dial {
		return session, err
	}

	return p.connect()
}

// checkout picks an idle session or reserves a dial slot. Evicted sessions are returned
// for closing once the lock is released.
func (p *Pool) checkout() (session *Session, stale []*Session, dial bool, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return nil, nil, false, &ConnectionError{Endpoint: p.Endpoint, Op: "get session", Err: ErrPoolClosed}
	}

	now := p.now()
	if now.Sub(p.lastSweepAt) > p.Config.IdleLifetime {
		stale = p.sweep(now)
	}

	session, dead := p.idleSession(now)
	stale = append(stale, dead...)
	if session != nil || len(p.sessions)+p.pending >= p.Config.MaxSize {
		return session, stale, false, nil
	}

	p.pending++
	return nil, stale, true, nil
}

// sweep evicts idle sessions that are closed or past their lifetime. Caller holds the lock.
func (p *Pool) sweep(now time.Time) []*Session {
	var evicted []*Session
	kept := p.sessions[:0]

	for _, session := range p.sessions {
		if !session.inUse && (session.Closed() || session.Broken() || now.Sub(session.lastUsedAt) > p.Config.IdleLifetime) {
			evicted = append(evicted, session)
			continue
		}
		kept = append(kept, session)
	}

	for i := len(kept); i < len(p.sessions); i++ {
		p.sessions[i] = nil
	}
	p.sessions = kept
	p.lastSweepAt = now

	if len(evicted) > 0 {
		p.logger.WithField("evicted", len(evicted)).Debug("idle sessions expired")
	}

	return evicted
}

// idleSession returns the first idle session that passes the probe, already opened.
// Sessions failing the probe are removed and returned for closing. Caller holds the lock.
func (p *Pool) idleSession(now time.Time) (*Session, []*Session) {
	var dead []*Session

	for i := 0; i < len(p.sessions); {
		session := p.sessions[i]
		if session.inUse {
			i++
			continue
		}

		if session.IsAlive() && session.open(now) == nil {
			return session, dead
		}

		p.logger.WithField("session", session.ID).Debug("removing dead idle session")
		p.removeAt(i)
		dead = append(dead, session)
	}

	return nil, dead
}

// connect dials on a slot already reserved through p.pending.
func (p *Pool) connect() (*Session, error) {
	conn, dialErr := p.dial(p.Endpoint.String(), p.Config.DialTimeout)

	session, failCount, err := p.admit(conn, dialErr)
	switch {
	case err != nil:
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err

	case dialErr != nil:
		p.logger.WithError(dialErr).WithField("failures", failCount).Warn("connect failed")
		if failCount < maxConnectFailures {
			return nil, nil
		}

		p.logger.Warn("pool disabled after repeated connect failures")
		return nil, &ConnectionError{
			Endpoint: p.Endpoint,
			Op:       "connect",
			Err:      fmt.Errorf("%w: %w", ErrPoolDisabled, dialErr),
		}
	}

	p.logger.WithField("session", session.ID).Debug("session added")
	return session, nil
}

// admit gives back the reserved slot and records the dial outcome: a new opened session,
// or one more consecutive failure, disabling the pool at the threshold.
func (p *Pool) admit(conn net.Conn, dialErr error) (*Session, int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.pending--

	if p.closed {
		return nil, p.failCount, &ConnectionError{Endpoint: p.Endpoint, Op: "get session", Err: ErrPoolClosed}
	}

	if dialErr != nil {
		p.failCount++
		if p.failCount >= maxConnectFailures {
			p.disable(p.now())
		}
		return nil, p.failCount, nil
	}

	now := p.now()
	session := newSession(conn, p.Endpoint, p, now)
	_ = session.open(now)
	p.failCount = 0
	p.sessions = append(p.sessions, session)
	return session, 0, nil
}

func (p *Pool) waitForRelease(wait time.Duration) {
	// ErrTimeout and ErrDisposed both just send us back around the loop.
	_, _ = p.releases.Poll(1, wait)
}

func (p *Pool) notifyRelease() {
	if p.releases.Len() < int64(p.Config.MaxSize) {
		_ = p.releases.Put(struct{}{})
	}
}

func (p *Pool) release(session *Session) {
	if session.Broken() || session.Closed() {
		p.discard(session)
		return
	}

	p.lock.Lock()
	if !session.inUse || p.indexOf(session) < 0 {
		p.lock.Unlock()
		return
	}
	session.inUse = false
	session.lastUsedAt = p.now()
	p.lock.Unlock()

	p.notifyRelease()
}

func (p *Pool) discard(session *Session) {
	p.lock.Lock()
	index := p.indexOf(session)
	if index >= 0 {
		p.removeAt(index)
	}
	p.lock.Unlock()

	session.Close()

	if index >= 0 {
		p.logger.WithField("session", session.ID).Debug("session discarded")
		p.notifyRelease()
	}
}

func (p *Pool) indexOf(session *Session) int {
	for i, member := range p.sessions {
		if member == session {
			return i
		}
	}
	return -1
}

func (p *Pool) removeAt(index int) {
	last := len(p.sessions) - 1
	copy(p.sessions[index:], p.sessions[index+1:])
	p.sessions[last] = nil
	p.sessions = p.sessions[:last]
}

// Disable stops the Registry from routing new acquisitions here. Existing sessions stay open.
func (p *Pool) Disable() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.disable(p.now())
}

func (p *Pool) disable(now time.Time) {
	p.enabled = false
	p.disabledAt = now
}

// Enable clears the disabled flag. The fail counter is kept, so one more failure trips it again.
func (p *Pool) Enable() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.enabled = true
	p.disabledAt = time.Time{}
}

// Enabled reports whether the pool accepts routing.
func (p *Pool) Enabled() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.enabled
}

// DisabledAt reports when the pool was last disabled, zero while enabled.
func (p *Pool) DisabledAt() time.Time {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.disabledAt
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() PoolStats {
	p.lock.Lock()
	defer p.lock.Unlock()

	inUse := 0
	for _, session := range p.sessions {
		if session.inUse {
			inUse++
		}
	}

	return PoolStats{
		Endpoint:  p.Endpoint,
		Name:      p.Config.Name,
		Sessions:  len(p.sessions),
		InUse:     inUse,
		Pending:   p.pending,
		Enabled:   p.enabled,
		FailCount: p.failCount,
	}
}

// Shutdown closes every session, in-use or not, and wakes blocked acquirers with ErrPoolClosed.
func (p *Pool) Shutdown() {
	if p == nil {
		return
	}

	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = nil
	p.lock.Unlock()

	closeSessions(sessions)
	p.releases.Dispose()
}

func closeSessions(sessions []*Session) {
	for _, session := range sessions {
		session.Close()
	}
}
