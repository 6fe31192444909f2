package fdfs

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePoolWithZeroMaxSize(t *testing.T) {
	pool, err := NewPool(NewEndpoint("127.0.0.1", 22122), testPoolConfig(0))
	assert.Nil(t, pool)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestCreatePoolWithZeroLifetime(t *testing.T) {
	config := testPoolConfig(1)
	config.IdleLifetime = 0

	pool, err := NewPool(NewEndpoint("127.0.0.1", 22122), config)
	assert.Nil(t, pool)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestCreatePoolIsLazy(t *testing.T) {
	pool := newTestPool(t, closedEndpoint(t), 3)
	defer pool.Shutdown()

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.True(t, stats.Enabled)
}

func TestPoolGetAndReleaseSession(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()

	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, server.Endpoint(), session.Endpoint)
	assert.True(t, session.InUse())
	assert.Equal(t, uint64(1), session.UseCount())

	session.Release()
	assert.False(t, session.InUse())
	assert.Equal(t, 1, pool.Stats().Sessions)
}

func TestPoolReusesReleasedSession(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 2)
	defer pool.Shutdown()
	dials := countDials(pool)

	first, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	second, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	first.Release()

	third, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	assert.Same(t, first, third)
	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, uint64(2), third.UseCount())

	second.Release()
	third.Release()
}

func TestPoolTimesOutWhenExhausted(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()

	held, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	defer held.Release()

	started := time.Now()
	session, err := pool.GetSession(100 * time.Millisecond)
	assert.Nil(t, session)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(started), 100*time.Millisecond)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, server.Endpoint(), timeoutErr.Endpoint)
}

func TestPoolReleaseWakesWaiter(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	config := testPoolConfig(1)
	config.RetryInterval = 5 * time.Second
	pool, err := NewPool(server.Endpoint(), config)
	require.NoError(t, err)
	defer pool.Shutdown()

	held, err := pool.GetSession(time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		held.Release()
	}()

	started := time.Now()
	session, err := pool.GetSession(3 * time.Second)
	require.NoError(t, err)
	assert.Same(t, held, session)
	assert.Less(t, time.Since(started), 2*time.Second)

	session.Release()
}

func TestPoolNeverExceedsMaxSize(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	const maxSize = 3
	pool := newTestPool(t, server.Endpoint(), maxSize)
	defer pool.Shutdown()
	dials := countDials(pool)

	var inUse, peak atomic.Int32
	wg := &sync.WaitGroup{}

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			session, err := pool.GetSession(5 * time.Second)
			if !assert.NoError(t, err) {
				return
			}

			current := inUse.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}

			_, err = Exchange(session, NewRequestHeader(StorageCmdDeleteFile, 0), nil)
			assert.NoError(t, err)
			time.Sleep(5 * time.Millisecond)

			inUse.Add(-1)
			session.Release()
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxSize))
	assert.LessOrEqual(t, dials.Load(), int32(maxSize))
	assert.LessOrEqual(t, pool.Stats().Sessions, maxSize)
	assert.Equal(t, 0, pool.Stats().InUse)
}

func TestPoolEvictsIdleSessionsOnSweep(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	clock := newFakeClock()
	pool := newTestPool(t, server.Endpoint(), 2)
	defer pool.Shutdown()
	pool.now = clock.Now
	pool.lastSweepAt = clock.Now()
	dials := countDials(pool)

	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	session.Release()

	clock.Advance(150 * time.Second)

	// Nothing is evicted until the next acquisition runs the sweep.
	assert.Equal(t, 1, pool.Stats().Sessions)
	assert.False(t, session.Closed())

	fresh, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	assert.NotSame(t, session, fresh)
	assert.True(t, session.Closed())
	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, 1, pool.Stats().Sessions)

	fresh.Release()
}

func TestPoolSweepKeepsRecentSessions(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	clock := newFakeClock()
	pool := newTestPool(t, server.Endpoint(), 2)
	defer pool.Shutdown()
	pool.now = clock.Now
	pool.lastSweepAt = clock.Now()

	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	session.Release()
	clock.Advance(20 * time.Second)

	// The sweep is due, but the session was used 20s ago.
	again, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	assert.Same(t, session, again)

	again.Release()
}

func TestPoolDisablesAfterConsecutiveDialFailures(t *testing.T) {
	pool := newTestPool(t, closedEndpoint(t), 5)
	defer pool.Shutdown()

	var attempts atomic.Int32
	pool.dial = func(string, time.Duration) (net.Conn, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	}

	session, err := pool.GetSession(5 * time.Second)
	assert.Nil(t, session)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.True(t, errors.Is(err, ErrPoolDisabled))
	assert.Equal(t, int32(maxConnectFailures), attempts.Load())

	stats := pool.Stats()
	assert.False(t, stats.Enabled)
	assert.Equal(t, maxConnectFailures, stats.FailCount)
	assert.False(t, pool.DisabledAt().IsZero())
}

func TestPoolDialSuccessResetsFailCount(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()

	var attempts atomic.Int32
	pool.dial = func(address string, timeout time.Duration) (net.Conn, error) {
		if attempts.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return dialTCP(address, timeout)
	}

	session, err := pool.GetSession(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 0, pool.Stats().FailCount)
	assert.True(t, pool.Enabled())

	session.Release()
}

func TestPoolEnableKeepsFailCount(t *testing.T) {
	pool := newTestPool(t, closedEndpoint(t), 1)
	defer pool.Shutdown()

	pool.dial = func(string, time.Duration) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	_, err := pool.GetSession(5 * time.Second)
	require.True(t, errors.Is(err, ErrPoolDisabled))

	pool.Enable()
	assert.True(t, pool.Enabled())
	assert.True(t, pool.DisabledAt().IsZero())

	// One more failure trips the breaker again.
	_, err = pool.GetSession(5 * time.Second)
	assert.True(t, errors.Is(err, ErrPoolDisabled))
	assert.Equal(t, maxConnectFailures+1, pool.Stats().FailCount)
}

func TestPoolDropsDeadIdleSession(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()
	dials := countDials(pool)

	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	session.Release()

	server.DropAll()
	require.Eventually(t, func() bool { return !session.IsAlive() }, 2*time.Second, 10*time.Millisecond)

	fresh, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	assert.NotSame(t, session, fresh)
	assert.True(t, session.Closed())
	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, 1, pool.Stats().Sessions)

	fresh.Release()
}

func TestPoolReleaseBrokenSessionDiscards(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()

	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)

	session.MarkBroken()
	session.Release()

	assert.True(t, session.Closed())
	assert.Equal(t, 0, pool.Stats().Sessions)

	// Releasing twice is harmless.
	session.Release()
	assert.Equal(t, 0, pool.Stats().Sessions)
}

func TestPoolDiscard(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()

	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)

	session.Discard()
	assert.True(t, session.Closed())
	assert.Equal(t, 0, pool.Stats().Sessions)
}

func TestPoolShutdown(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)

	held, err := pool.GetSession(time.Second)
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := pool.GetSession(5 * time.Second)
		waiterErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	pool.Shutdown()
	pool.Shutdown()

	select {
	case err := <-waiterErr:
		assert.True(t, errors.Is(err, ErrPoolClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by shutdown")
	}

	assert.True(t, held.Closed())
	held.Release()

	_, err = pool.GetSession(time.Second)
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestPoolThirdAcquirerWaitsForReusedSession(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 2)
	defer pool.Shutdown()
	dials := countDials(pool)

	acquired := make(chan *Session, 3)
	for i := 0; i < 3; i++ {
		go func() {
			session, err := pool.GetSession(3 * time.Second)
			if assert.NoError(t, err) {
				acquired <- session
			}
		}()
	}

	var held []*Session
	for len(held) < 2 {
		select {
		case session := <-acquired:
			held = append(held, session)
		case <-time.After(2 * time.Second):
			t.Fatal("first two acquirers did not get sessions")
		}
	}

	select {
	case <-acquired:
		t.Fatal("third acquirer got a session beyond max size")
	case <-time.After(100 * time.Millisecond):
	}

	held[0].Release()

	select {
	case third := <-acquired:
		assert.Same(t, held[0], third)
		third.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("third acquirer was not handed the released session")
	}

	held[1].Release()
	assert.Equal(t, int32(2), dials.Load())
}

func TestSessionIsAliveWhileIdle(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()

	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	_, err = Exchange(session, NewRequestHeader(StorageCmdDeleteFile, 0), nil)
	require.NoError(t, err)
	session.Release()

	assert.True(t, session.IsAlive())
	assert.True(t, session.IsAlive())
}

func TestPoolRecoversFromPanicDuringCheckout(t *testing.T) {
	defer leaktest.Check(t)()

	server := newFakeServer(t, okResponder)
	defer server.Close()

	pool := newTestPool(t, server.Endpoint(), 1)
	defer pool.Shutdown()

	pool.now = func() time.Time { panic("clock failure") }
	assert.Panics(t, func() { _, _ = pool.GetSession(time.Second) })

	pool.now = time.Now
	session, err := pool.GetSession(time.Second)
	require.NoError(t, err)
	session.Release()
	assert.Equal(t, 1, pool.Stats().Sessions)
}
