package fdfs

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/sirupsen/logrus"
)

// Registry maps trackers and storage endpoints to their pools.
// Build one per process with NewRegistry and call Initialize once before first use.
type Registry struct {
	config ClientConfig
	logger logrus.FieldLogger

	trackerLock  *sync.RWMutex
	trackers     []Endpoint
	trackerPools map[Endpoint]*Pool
	storagePools cmap.ConcurrentMap

	dial   dialFunc
	now    func() time.Time
	random func(n int) int
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(config *ClientConfig, logger logrus.FieldLogger) (*Registry, error) {
	if config == nil {
		return nil, configError("client config is nil")
	}

	registryConfig := *config
	registryConfig.ApplyDefaults()

	if registryConfig.StorageMaxConnectionsPerPool < 0 || registryConfig.TrackerMaxConnectionsPerPool < 0 {
		return nil, configError("max connections per pool can't be negative")
	}

	if logger == nil {
		logger = discardLogger()
	}

	return &Registry{
		config:       registryConfig,
		logger:       logger.WithField("component", "registry"),
		trackerLock:  &sync.RWMutex{},
		trackerPools: make(map[Endpoint]*Pool),
		storagePools: cmap.New(),
		dial:         dialTCP,
		now:          time.Now,
		random:       rand.Intn,
	}, nil
}

// Initialize creates one pool per tracker and replaces the tracker list.
// Pools of trackers dropped from the list stay allocated but are no longer picked.
func (r *Registry) Initialize(trackers []Endpoint) error {
	if len(trackers) == 0 {
		return configError("tracker list is empty")
	}

	r.trackerLock.Lock()
	defer r.trackerLock.Unlock()

	for _, endpoint := range trackers {
		if _, ok := r.trackerPools[endpoint]; ok {
			continue
		}

		pool, err := r.newPool(endpoint, r.config.TrackerPoolConfig(r.logger))
		if err != nil {
			return err
		}
		r.trackerPools[endpoint] = pool
	}

	r.trackers = append([]Endpoint(nil), trackers...)
	r.logger.WithField("trackers", len(trackers)).Info("registry initialized")

	return nil
}

func (r *Registry) newPool(endpoint Endpoint, config *PoolConfig) (*Pool, error) {
	pool, err := NewPool(endpoint, config)
	if err != nil {
		return nil, err
	}

	pool.dial = r.dial
	pool.now = r.now
	pool.lastSweepAt = r.now()
	return pool, nil
}

// GetTrackerSession picks a tracker at random and walks the list until a pool yields a session.
// Disabled pools are skipped until their cool-down passes. When every tracker fails, all tracker
// pools are re-enabled and ErrAllTrackersUnreachable is returned; retrying is up to the caller.
func (r *Registry) GetTrackerSession() (*Session, error) {
	pools := r.TrackerPools()
	if len(pools) == 0 {
		return nil, configError("registry has no trackers, call Initialize first")
	}

	start := r.random(len(pools))
	var lastErr error

	for i := 0; i < len(pools); i++ {
		pool := pools[(start+i)%len(pools)]

		if !pool.Enabled() {
			if r.now().Sub(pool.DisabledAt()) <= trackerCoolDown {
				continue
			}
			pool.Enable()
			r.logger.WithField("endpoint", pool.Endpoint.String()).Info("tracker pool re-enabled after cool-down")
		}

		session, err := pool.GetSession(pool.Config.AcquireTimeout)
		if err == nil {
			return session, nil
		}

		lastErr = err
		r.logger.WithError(err).WithField("endpoint", pool.Endpoint.String()).Warn("tracker unavailable")
	}

	for _, pool := range pools {
		pool.Enable()
	}

	err := ErrAllTrackersUnreachable
	if lastErr != nil {
		err = fmt.Errorf("%w (last error: %v)", ErrAllTrackersUnreachable, lastErr)
	}

	return nil, &ConnectionError{Op: "get tracker session", Err: err}
}

// GetStorageSession creates the endpoint's pool on first use, then acquires from it.
func (r *Registry) GetStorageSession(endpoint Endpoint) (*Session, error) {
	pool, err := r.storagePool(endpoint)
	if err != nil {
		return nil, err
	}

	return pool.GetSession(pool.Config.AcquireTimeout)
}

func (r *Registry) storagePool(endpoint Endpoint) (*Pool, error) {
	key := endpoint.String()
	if value, ok := r.storagePools.Get(key); ok {
		if pool, ok := value.(*Pool); ok && pool != nil {
			return pool, nil
		}
	}

	var createErr error
	value := r.storagePools.Upsert(key, nil, func(exist bool, valueInMap interface{}, _ interface{}) interface{} {
		if exist {
			return valueInMap
		}

		pool, err := r.newPool(endpoint, r.config.StoragePoolConfig(r.logger))
		if err != nil {
			createErr = err
			return nil
		}

		r.logger.WithField("endpoint", key).Debug("storage pool created")
		return pool
	})

	pool, ok := value.(*Pool)
	if createErr != nil || !ok || pool == nil {
		r.storagePools.Remove(key)
		if createErr == nil {
			createErr = configError("storage pool for %s could not be created", key)
		}
		return nil, createErr
	}

	return pool, nil
}

// WithTrackerSession runs fn on a tracker session and always gives the session back.
func (r *Registry) WithTrackerSession(fn func(*Session) error) error {
	session, err := r.GetTrackerSession()
	if err != nil {
		return err
	}

	return withSession(session, fn)
}

// WithStorageSession runs fn on a session to endpoint and always gives the session back.
func (r *Registry) WithStorageSession(endpoint Endpoint, fn func(*Session) error) error {
	session, err := r.GetStorageSession(endpoint)
	if err != nil {
		return err
	}

	return withSession(session, fn)
}

// withSession releases the session on every exit path; a panic mid-exchange discards it.
func withSession(session *Session, fn func(*Session) error) error {
	completed := false
	defer func() {
		if !completed {
			session.MarkBroken()
		}
		session.Release()
	}()

	err := fn(session)
	completed = true
	return err
}

// Trackers returns the current tracker list.
func (r *Registry) Trackers() []Endpoint {
	r.trackerLock.RLock()
	defer r.trackerLock.RUnlock()
	return append([]Endpoint(nil), r.trackers...)
}

// TrackerPools returns the pools of the current tracker list, in list order.
func (r *Registry) TrackerPools() []*Pool {
	r.trackerLock.RLock()
	defer r.trackerLock.RUnlock()

	pools := make([]*Pool, 0, len(r.trackers))
	for _, endpoint := range r.trackers {
		pools = append(pools, r.trackerPools[endpoint])
	}
	return pools
}

// TrackerPool returns the pool of a tracker endpoint, if one was created.
func (r *Registry) TrackerPool(endpoint Endpoint) (*Pool, bool) {
	r.trackerLock.RLock()
	defer r.trackerLock.RUnlock()
	pool, ok := r.trackerPools[endpoint]
	return pool, ok
}

// StoragePool returns the pool of a storage endpoint, if one was created.
func (r *Registry) StoragePool(endpoint Endpoint) (*Pool, bool) {
	value, ok := r.storagePools.Get(endpoint.String())
	if !ok {
		return nil, false
	}
	pool, ok := value.(*Pool)
	return pool, ok && pool != nil
}

// StoragePoolCount returns how many storage pools exist.
func (r *Registry) StoragePoolCount() int {
	return r.storagePools.Count()
}

// Reset shuts down every pool and forgets all trackers and storage endpoints.
// Meant for shutdown and test harnesses; Initialize may be called again afterwards.
func (r *Registry) Reset() {
	r.trackerLock.Lock()
	for endpoint, pool := range r.trackerPools {
		pool.Shutdown()
		delete(r.trackerPools, endpoint)
	}
	r.trackers = nil
	r.trackerLock.Unlock()

	for _, key := range r.storagePools.Keys() {
		if value, ok := r.storagePools.Get(key); ok {
			r.storagePools.Remove(key)
			if pool, ok := value.(*Pool); ok {
				pool.Shutdown()
			}
		}
	}
}
