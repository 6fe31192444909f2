package fdfs

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults applied to zero-valued ClientConfig fields.
const (
	DefaultStorageMaxConnectionsPerPool    = 5
	DefaultTrackerMaxConnectionsPerPool    = 5
	DefaultConnectionAcquireTimeoutSeconds = 10
	DefaultConnectionIdleLifetimeSeconds   = 100
	DefaultDialTimeoutMilliseconds         = 5000
	DefaultSleepOnRetryInterval            = 1000
	DefaultLogLevel                        = "info"
)

// ClientConfig represents the process-wide client settings.
type ClientConfig struct {
	Trackers                        []string `json:"Trackers" yaml:"Trackers"`
	StorageMaxConnectionsPerPool    int      `json:"StorageMaxConnectionsPerPool" yaml:"StorageMaxConnectionsPerPool"`
	TrackerMaxConnectionsPerPool    int      `json:"TrackerMaxConnectionsPerPool" yaml:"TrackerMaxConnectionsPerPool"`
	ConnectionAcquireTimeoutSeconds uint32   `json:"ConnectionAcquireTimeoutSeconds" yaml:"ConnectionAcquireTimeoutSeconds"`
	ConnectionIdleLifetimeSeconds   uint32   `json:"ConnectionIdleLifetimeSeconds" yaml:"ConnectionIdleLifetimeSeconds"`
	TextEncoding                    string   `json:"TextEncoding" yaml:"TextEncoding"`
	DialTimeoutMilliseconds         uint32   `json:"DialTimeoutMilliseconds" yaml:"DialTimeoutMilliseconds"`
	IOTimeoutSeconds                uint32   `json:"IOTimeoutSeconds" yaml:"IOTimeoutSeconds"`         // 0 leaves exchanges unbounded
	SleepOnRetryInterval            uint32   `json:"SleepOnRetryInterval" yaml:"SleepOnRetryInterval"` // ms between acquisition retries
	LogLevel                        string   `json:"LogLevel" yaml:"LogLevel"`
}

// DefaultClientConfig returns a config with every default set and no trackers.
func DefaultClientConfig() *ClientConfig {
	config := &ClientConfig{}
	config.ApplyDefaults()
	return config
}

// ApplyDefaults fills zero-valued fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.StorageMaxConnectionsPerPool == 0 {
		c.StorageMaxConnectionsPerPool = DefaultStorageMaxConnectionsPerPool
	}
	if c.TrackerMaxConnectionsPerPool == 0 {
		c.TrackerMaxConnectionsPerPool = DefaultTrackerMaxConnectionsPerPool
	}
	if c.ConnectionAcquireTimeoutSeconds == 0 {
		c.ConnectionAcquireTimeoutSeconds = DefaultConnectionAcquireTimeoutSeconds
	}
	if c.ConnectionIdleLifetimeSeconds == 0 {
		c.ConnectionIdleLifetimeSeconds = DefaultConnectionIdleLifetimeSeconds
	}
	if c.TextEncoding == "" {
		c.TextEncoding = DefaultTextEncoding
	}
	if c.DialTimeoutMilliseconds == 0 {
		c.DialTimeoutMilliseconds = DefaultDialTimeoutMilliseconds
	}
	if c.SleepOnRetryInterval == 0 {
		c.SleepOnRetryInterval = DefaultSleepOnRetryInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the config without touching the network.
func (c *ClientConfig) Validate() error {
	if len(c.Trackers) == 0 {
		return configError("tracker list is empty")
	}

	if _, err := ParseEndpoints(c.Trackers); err != nil {
		return err
	}

	if c.StorageMaxConnectionsPerPool < 0 || c.TrackerMaxConnectionsPerPool < 0 {
		return configError("max connections per pool can't be negative")
	}

	if _, err := NewTextCodec(c.TextEncoding); err != nil {
		return err
	}

	return nil
}

// PoolConfig represents the settings of one endpoint pool.
type PoolConfig struct {
	Name           string // tracker or storage
	MaxSize        int
	IdleLifetime   time.Duration
	RetryInterval  time.Duration
	DialTimeout    time.Duration
	IOTimeout      time.Duration
	Logger         logrus.FieldLogger
	AcquireTimeout time.Duration
}

// TrackerPoolConfig derives the pool settings used for tracker endpoints.
func (c *ClientConfig) TrackerPoolConfig(logger logrus.FieldLogger) *PoolConfig {
	return c.poolConfig("tracker", c.TrackerMaxConnectionsPerPool, logger)
}

// StoragePoolConfig derives the pool settings used for storage endpoints.
func (c *ClientConfig) StoragePoolConfig(logger logrus.FieldLogger) *PoolConfig {
	return c.poolConfig("storage", c.StorageMaxConnectionsPerPool, logger)
}

func (c *ClientConfig) poolConfig(name string, maxSize int, logger logrus.FieldLogger) *PoolConfig {
	return &PoolConfig{
		Name:           name,
		MaxSize:        maxSize,
		IdleLifetime:   time.Duration(c.ConnectionIdleLifetimeSeconds) * time.Second,
		RetryInterval:  time.Duration(c.SleepOnRetryInterval) * time.Millisecond,
		DialTimeout:    time.Duration(c.DialTimeoutMilliseconds) * time.Millisecond,
		IOTimeout:      time.Duration(c.IOTimeoutSeconds) * time.Second,
		AcquireTimeout: time.Duration(c.ConnectionAcquireTimeoutSeconds) * time.Second,
		Logger:         logger,
	}
}
