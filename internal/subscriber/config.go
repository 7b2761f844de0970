package subscriber

import (
	"errors"
	"os"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

var (
	// ErrEmptyTopicName is returned when the topic name is empty
	ErrEmptyTopicName = errors.New("topic name cannot be empty")
	// ErrEmptyHostName is returned when the host name is empty
	ErrEmptyHostName = errors.New("host name cannot be empty")
	// ErrNoReaderFactory is returned when no reader factory is supplied
	ErrNoReaderFactory = errors.New("reader factory cannot be nil")
)

// DefaultDedupWindow is the number of recent frame hashes remembered
const DefaultDedupWindow = 64

// Config is the reader attribute bundle of one subscriber
type Config struct {
	HostName    string
	ProcessName string
	ProcessID   int32

	// Layers are the layers this subscriber reads
	Layers transport.LayerSet

	// DedupWindow is how many recent frames are checked for duplicates
	DedupWindow int
}

// NewConfig derives a subscriber configuration from the node configuration
func NewConfig(c *config.Config) Config {
	return Config{
		HostName:    c.HostName,
		ProcessName: c.ProcessName,
		ProcessID:   int32(os.Getpid()),
		Layers:      c.Subscriber.Layers.Set(),
		DedupWindow: c.Subscriber.DedupWindow,
	}
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ProcessID == 0 {
		c.ProcessID = int32(os.Getpid())
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.HostName == "" {
		return ErrEmptyHostName
	}
	return nil
}
