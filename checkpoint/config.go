package checkpoint

import "github.com/pkg/errors"

type Config struct {
	Enabled bool `toml:"enabled"`
	// Directory holding one file per thread and iteration.
	Dir string `toml:"dir"`
	// Number of steady state iterations between checkpoints, zero disables periodic checkpoints.
	Interval uint64 `toml:"interval"`
}

func NewConfig() Config {
	return Config{
		Dir: "./checkpoints",
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.Dir == "" {
		return errors.New("must specify checkpoint dir")
	}
	return nil
}
