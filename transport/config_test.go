package transport_test

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamit/streamit/transport"
)

func TestConfig_DecodeDurations(t *testing.T) {
	c := transport.NewConfig()
	_, err := toml.Decode(`
timeout = "1m30s"
dial-timeout = "15"
`, &c)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, time.Duration(c.Timeout))
	// a bare integer is seconds
	assert.Equal(t, 15*time.Second, time.Duration(c.DialTimeout))
	assert.Equal(t, transport.DefaultDialRetries, c.DialRetries)
	require.NoError(t, c.Validate())

	c = transport.NewConfig()
	assert.Equal(t, transport.DefaultDialTimeout, time.Duration(c.DialTimeout))
	_, err = toml.Decode(`timeout = "later"`, &c)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	testCases := map[string]func(c *transport.Config){
		"pool size":        func(c *transport.Config) { c.PoolSize = 0 },
		"queue capacity":   func(c *transport.Config) { c.QueueCapacity = 0 },
		"pool below queue": func(c *transport.Config) { c.PoolSize = c.QueueCapacity - 1 },
		"buffer items":     func(c *transport.Config) { c.BufferItems = -1 },
		"negative timeout": func(c *transport.Config) { c.Timeout = -1 },
		"dial retries":     func(c *transport.Config) { c.DialRetries = -1 },
	}
	for name, mutate := range testCases {
		t.Run(name, func(t *testing.T) {
			c := transport.NewConfig()
			require.NoError(t, c.Validate())
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
