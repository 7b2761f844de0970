package publisher

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/selector"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

var (
	// ErrEmptyTopicName is returned when the topic name is empty
	ErrEmptyTopicName = errors.New("topic name cannot be empty")
	// ErrEmptyHostName is returned when the host name is empty
	ErrEmptyHostName = errors.New("host name cannot be empty")
	// ErrNoWriterFactory is returned when no writer factory is supplied
	ErrNoWriterFactory = errors.New("writer factory cannot be nil")
)

// Config is the writer attribute bundle of one publisher
type Config struct {
	HostName    string
	ProcessName string
	ProcessID   int32

	// Layers are the layers this publisher may start
	Layers transport.LayerSet

	// LocalPriority and RemotePriority order the layers for same-host and
	// cross-host subscribers
	LocalPriority  []transport.Layer
	RemotePriority []transport.Layer

	// Loopback connects subscribers of the same process
	Loopback bool

	// ZeroCopy lets a lone shm layer take the payload without a buffer copy
	ZeroCopy bool

	// ReregisterDelay is slept after a writer asked for re-registration
	ReregisterDelay time.Duration
}

// NewConfig derives a publisher configuration from the node configuration
func NewConfig(c *config.Config) Config {
	return Config{
		HostName:        c.HostName,
		ProcessName:     c.ProcessName,
		ProcessID:       int32(os.Getpid()),
		Layers:          c.Publisher.Layers.Set(),
		LocalPriority:   c.Publisher.LocalPriority,
		RemotePriority:  c.Publisher.RemotePriority,
		Loopback:        c.Publisher.Loopback,
		ZeroCopy:        c.Publisher.ZeroCopy,
		ReregisterDelay: c.Publisher.ReregisterDelay,
	}
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ProcessID == 0 {
		c.ProcessID = int32(os.Getpid())
	}
	if len(c.LocalPriority) == 0 {
		c.LocalPriority = selector.DefaultLocalPriority
	}
	if len(c.RemotePriority) == 0 {
		c.RemotePriority = selector.DefaultRemotePriority
	}
	if c.ReregisterDelay < 0 {
		c.ReregisterDelay = 0
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.HostName == "" {
		return ErrEmptyHostName
	}
	if _, err := selector.New(c.LocalPriority, c.RemotePriority); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidConfig, err)
	}
	return nil
}
