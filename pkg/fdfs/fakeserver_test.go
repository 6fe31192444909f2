package fdfs

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// responder answers one request frame with raw response bytes, possibly none.
// hangUp closes the connection once the answer is written.
type responder func(request Header, body []byte) (answer []byte, hangUp bool)

// fakeServer is a loopback FastDFS peer that serves frames until closed.
type fakeServer struct {
	listener net.Listener
	respond  responder
	accepted atomic.Int32

	lock   *sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     *sync.WaitGroup
}

func newFakeServer(t *testing.T, respond responder) *fakeServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &fakeServer{
		listener: listener,
		respond:  respond,
		lock:     &sync.Mutex{},
		conns:    make(map[net.Conn]struct{}),
		wg:       &sync.WaitGroup{},
	}

	server.wg.Add(1)
	go server.acceptLoop()

	return server
}

func (s *fakeServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.accepted.Add(1)
		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.lock.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.forget(conn)

	for {
		request, err := ReadHeader(conn)
		if err != nil || request.Command == CmdQuit {
			return
		}

		body := make([]byte, request.Length)
		if _, err = io.ReadFull(conn, body); err != nil {
			return
		}

		answer, hangUp := s.respond(request, body)
		if len(answer) > 0 {
			if _, err = conn.Write(answer); err != nil {
				return
			}
		}

		if hangUp {
			return
		}
	}
}

func (s *fakeServer) forget(conn net.Conn) {
	s.lock.Lock()
	delete(s.conns, conn)
	s.lock.Unlock()
	_ = conn.Close()
}

// DropAll closes every open server-side connection and keeps listening.
func (s *fakeServer) DropAll() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *fakeServer) Accepted() int {
	return int(s.accepted.Load())
}

func (s *fakeServer) Endpoint() Endpoint {
	address := s.listener.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: address.Port}
}

func (s *fakeServer) Close() {
	s.lock.Lock()
	s.closed = true
	s.lock.Unlock()

	_ = s.listener.Close()
	s.DropAll()
	s.wg.Wait()
}

// frame builds a raw response: header followed by body.
func frame(status byte, body []byte) []byte {
	header := Header{Length: uint64(len(body)), Command: CmdResponse, Status: status}
	return append(header.Bytes(), body...)
}

// okResponder answers every request with an empty success frame.
func okResponder(Header, []byte) ([]byte, bool) {
	return frame(0, nil), false
}

// closedEndpoint returns a loopback endpoint nothing listens on.
func closedEndpoint(t *testing.T) Endpoint {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	return Endpoint{Host: "127.0.0.1", Port: port}
}

func storageNodeBody(group string, endpoint Endpoint, pathIndex byte, withPathIndex bool) []byte {
	body := make([]byte, GroupNameMaxLen+IPAddressSize-1+PkgLenSize)
	copy(body, group)
	copy(body[GroupNameMaxLen:], endpoint.Host)
	binary.BigEndian.PutUint64(body[GroupNameMaxLen+IPAddressSize-1:], uint64(endpoint.Port))
	if withPathIndex {
		body = append(body, pathIndex)
	}
	return body
}

func fileIDBody(group, fileName string) []byte {
	body := make([]byte, GroupNameMaxLen)
	copy(body, group)
	return append(body, fileName...)
}

// fakeClock is a settable time source for pools and registries.
type fakeClock struct {
	lock    *sync.Mutex
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{lock: &sync.Mutex{}, current: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.current = c.current.Add(d)
}

func testPoolConfig(maxSize int) *PoolConfig {
	return &PoolConfig{
		Name:           "test",
		MaxSize:        maxSize,
		IdleLifetime:   100 * time.Second,
		RetryInterval:  10 * time.Millisecond,
		DialTimeout:    time.Second,
		AcquireTimeout: 2 * time.Second,
	}
}

func newTestPool(t *testing.T, endpoint Endpoint, maxSize int) *Pool {
	t.Helper()

	pool, err := NewPool(endpoint, testPoolConfig(maxSize))
	require.NoError(t, err)
	return pool
}

// countDials wraps the pool dialer so tests can see how many sockets were opened.
func countDials(pool *Pool) *atomic.Int32 {
	dials := &atomic.Int32{}
	next := pool.dial
	pool.dial = func(address string, timeout time.Duration) (net.Conn, error) {
		dials.Add(1)
		return next(address, timeout)
	}
	return dials
}
