package transport

import (
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultPoolSize      = 25
	DefaultQueueCapacity = 24
	DefaultBufferItems   = 10000
	DefaultDialTimeout   = 5 * time.Second
	DefaultDialRetries   = 10
)

// Config is the per edge configuration of transport queues and producers.
type Config struct {
	// Number of buffers preallocated for each in memory edge.
	PoolSize int `toml:"pool-size"`
	// Number of filled buffers that may be in flight before producers block.
	QueueCapacity int `toml:"queue-capacity"`
	// Number of items a producer stages before flushing.
	BufferItems int `toml:"buffer-items"`
	// Maximum time a blocking queue operation waits, zero waits forever.
	Timeout toml.Duration `toml:"timeout"`

	DialTimeout toml.Duration `toml:"dial-timeout"`
	DialRetries int           `toml:"dial-retries"`
}

func NewConfig() Config {
	return Config{
		PoolSize:      DefaultPoolSize,
		QueueCapacity: DefaultQueueCapacity,
		BufferItems:   DefaultBufferItems,
		DialTimeout:   toml.Duration(DefaultDialTimeout),
		DialRetries:   DefaultDialRetries,
	}
}

func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return errors.New("transport pool-size must be positive")
	}
	if c.QueueCapacity <= 0 {
		return errors.New("transport queue-capacity must be positive")
	}
	if c.PoolSize < c.QueueCapacity {
		return errors.Errorf("transport pool-size %d must be at least queue-capacity %d", c.PoolSize, c.QueueCapacity)
	}
	if c.BufferItems <= 0 {
		return errors.New("transport buffer-items must be positive")
	}
	if c.Timeout < 0 || c.DialTimeout < 0 {
		return errors.New("transport timeouts must not be negative")
	}
	if c.DialRetries < 0 {
		return errors.New("transport dial-retries must not be negative")
	}
	return nil
}
