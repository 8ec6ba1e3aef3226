package cluster

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/streamit/streamit/checkpoint"
	"github.com/streamit/streamit/services/diagnostic"
	"github.com/streamit/streamit/services/storage"
	"github.com/streamit/streamit/transport"
)

// Machine is a process of the cluster reachable at Address.
type Machine struct {
	ID      string `toml:"id"`
	Address string `toml:"address"`
}

// Partition places a thread on a machine. Work is the estimate the
// partitioner assigned to the thread, it is carried but not interpreted.
type Partition struct {
	Thread  int    `toml:"thread"`
	Machine string `toml:"machine"`
	Work    int64  `toml:"work"`
}

type Config struct {
	// ID of the machine this process runs as. Empty when every thread is local.
	LocalMachine string `toml:"local-machine"`

	Transport  transport.Config  `toml:"transport"`
	Checkpoint checkpoint.Config `toml:"checkpoint"`
	Storage    storage.Config    `toml:"storage"`
	Logging    diagnostic.Config `toml:"logging"`

	Machines   []Machine   `toml:"machines"`
	Partitions []Partition `toml:"partitions"`
}

func NewConfig() Config {
	return Config{
		Transport:  transport.NewConfig(),
		Checkpoint: checkpoint.NewConfig(),
		Storage:    storage.NewConfig(),
		Logging:    diagnostic.NewConfig(),
	}
}

// ParseConfig reads and validates the TOML configuration file at path.
func ParseConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return DecodeConfig(f)
}

// DecodeConfig decodes TOML from r over the defaults and validates the result.
func DecodeConfig(r io.Reader) (Config, error) {
	c := NewConfig()
	if _, err := toml.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return errors.Wrap(err, "transport")
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return errors.Wrap(err, "checkpoint")
	}
	if err := c.Storage.Validate(); err != nil {
		return errors.Wrap(err, "storage")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}

	machines := make(map[string]bool, len(c.Machines))
	for _, m := range c.Machines {
		if m.ID == "" {
			return errors.New("machine id must not be empty")
		}
		if m.Address == "" {
			return errors.Errorf("machine %s: must specify address", m.ID)
		}
		if machines[m.ID] {
			return errors.Errorf("duplicate machine %s", m.ID)
		}
		machines[m.ID] = true
	}
	if len(c.Machines) > 0 && !machines[c.LocalMachine] {
		return errors.Errorf("local machine %q is not a configured machine", c.LocalMachine)
	}

	threads := make(map[int]bool, len(c.Partitions))
	for _, p := range c.Partitions {
		if p.Thread < 0 {
			return errors.Errorf("invalid thread id %d", p.Thread)
		}
		if threads[p.Thread] {
			return errors.Errorf("thread %d placed twice", p.Thread)
		}
		threads[p.Thread] = true
		if len(c.Machines) > 0 && !machines[p.Machine] {
			return errors.Errorf("thread %d placed on unknown machine %q", p.Thread, p.Machine)
		}
	}
	return nil
}

// machineOf returns the machine a thread runs on. Threads missing from the
// partition run on the local machine.
func (c Config) machineOf(thread int) string {
	for _, p := range c.Partitions {
		if p.Thread == thread {
			if len(c.Machines) == 0 {
				return c.LocalMachine
			}
			return p.Machine
		}
	}
	return c.LocalMachine
}

func (c Config) address(machine string) (string, bool) {
	for _, m := range c.Machines {
		if m.ID == machine {
			return m.Address, true
		}
	}
	return "", false
}
