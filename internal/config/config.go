// Package config holds the runtime configuration of an ecal-go node.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go-simpler.org/env"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/selector"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Registration network modes
const (
	NetworkUDP   = "udp"
	NetworkLocal = "local"
)

// Config is the complete node configuration
type Config struct {
	HostName    string `yaml:"host_name"`
	ProcessName string `yaml:"process_name"`
	LogLevel    string `yaml:"log_level"`

	Registration RegistrationConfig `yaml:"registration"`
	Transport    TransportConfig    `yaml:"transport"`
	Publisher    PublisherConfig    `yaml:"publisher"`
	Subscriber   SubscriberConfig   `yaml:"subscriber"`
	Monitor      MonitorConfig      `yaml:"monitor"`
}

// RegistrationConfig configures the discovery protocol
type RegistrationConfig struct {
	// Network is "udp" (multicast) or "local" (this process only)
	Network         string        `yaml:"network"`
	Group           string        `yaml:"group"`
	Port            int           `yaml:"port"`
	TTL             int           `yaml:"ttl"`
	Interface       string        `yaml:"interface"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Timeout         time.Duration `yaml:"timeout"`

	// Loopback delivers samples of this process to its own gateways
	Loopback bool `yaml:"loopback"`
}

// TransportConfig holds the layer settings shared by writers and readers
type TransportConfig struct {
	SHM SHMConfig `yaml:"shm"`
	UDP UDPConfig `yaml:"udp"`
	TCP TCPConfig `yaml:"tcp"`
}

// SHMConfig configures the shared memory layer
type SHMConfig struct {
	Dir          string        `yaml:"dir"`
	MinSize      int           `yaml:"min_size"`
	ReservePct   int           `yaml:"reserve_pct"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// UDPConfig configures the UDP multicast layer
type UDPConfig struct {
	GroupBase   string `yaml:"group_base"`
	GroupMask   string `yaml:"group_mask"`
	Port        int    `yaml:"port"`
	TTL         int    `yaml:"ttl"`
	Interface   string `yaml:"interface"`
	MaxDatagram int    `yaml:"max_datagram"`
	Loopback    bool   `yaml:"loopback"`
}

// TCPConfig configures the TCP layer
type TCPConfig struct {
	ListenHost     string `yaml:"listen_host"`
	SendQueueSize  int    `yaml:"send_queue_size"`
	MaxMessageSize int    `yaml:"max_message_size"`
}

// LayerToggles enables layers individually
type LayerToggles struct {
	SHM bool `yaml:"shm"`
	UDP bool `yaml:"udp"`
	TCP bool `yaml:"tcp"`
}

// Set returns the enabled layers
func (t LayerToggles) Set() transport.LayerSet {
	var s transport.LayerSet
	if t.SHM {
		s = s.With(transport.LayerSHM)
	}
	if t.UDP {
		s = s.With(transport.LayerUDP)
	}
	if t.TCP {
		s = s.With(transport.LayerTCP)
	}
	return s
}

// PublisherConfig configures publishers
type PublisherConfig struct {
	Layers          LayerToggles      `yaml:"layers"`
	ZeroCopy        bool              `yaml:"zero_copy"`
	LocalPriority   []transport.Layer `yaml:"local_priority"`
	RemotePriority  []transport.Layer `yaml:"remote_priority"`
	Loopback        bool              `yaml:"loopback"`
	ReregisterDelay time.Duration     `yaml:"reregister_delay"`
}

// SubscriberConfig configures subscribers
type SubscriberConfig struct {
	Layers      LayerToggles `yaml:"layers"`
	DedupWindow int          `yaml:"dedup_window"`
}

// MonitorConfig configures the monitor HTTP API
type MonitorConfig struct {
	Port      string `yaml:"port"`
	SecretKey string `yaml:"secret_key"`
	NoAuth    bool   `yaml:"no_auth"`
}

// envOverrides are applied on top of the file configuration
type envOverrides struct {
	HostName          string `env:"ECAL_HOST_NAME"`
	RegistrationGroup string `env:"ECAL_REGISTRATION_GROUP"`
	MonitorSecret     string `env:"ECAL_MONITOR_SECRET"`
	LogLevel          string `env:"ECAL_LOG_LEVEL"`
}

// Default returns a configuration with every layer enabled
func Default() *Config {
	c := &Config{
		LogLevel: "info",
		Registration: RegistrationConfig{
			Network:  NetworkUDP,
			Loopback: true,
		},
		Transport: TransportConfig{
			UDP: UDPConfig{Loopback: true},
		},
		Publisher: PublisherConfig{
			Layers:   LayerToggles{SHM: true, UDP: true, TCP: true},
			Loopback: true,
		},
		Subscriber: SubscriberConfig{
			Layers: LayerToggles{SHM: true, UDP: true, TCP: true},
		},
	}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.HostName == "" {
		if h, err := os.Hostname(); err == nil {
			c.HostName = h
		} else {
			c.HostName = "localhost"
		}
	}
	if c.ProcessName == "" {
		c.ProcessName = filepath.Base(os.Args[0])
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	r := &c.Registration
	if r.Network == "" {
		r.Network = NetworkUDP
	}
	if r.Group == "" {
		r.Group = "239.0.0.1"
	}
	if r.Port <= 0 {
		r.Port = 14000
	}
	if r.TTL <= 0 {
		r.TTL = 3
	}
	if r.RefreshInterval <= 0 {
		r.RefreshInterval = time.Second
	}
	if r.Timeout <= 0 {
		r.Timeout = 10 * time.Second
	}

	shm := &c.Transport.SHM
	if shm.Dir == "" {
		shm.Dir = "/dev/shm"
	}
	if shm.MinSize <= 0 {
		shm.MinSize = 4096
	}
	if shm.ReservePct <= 0 {
		shm.ReservePct = 50
	}
	if shm.PollInterval <= 0 {
		shm.PollInterval = time.Millisecond
	}

	udp := &c.Transport.UDP
	if udp.GroupBase == "" {
		udp.GroupBase = "239.0.0.1"
	}
	if udp.GroupMask == "" {
		udp.GroupMask = "255.255.255.0"
	}
	if udp.Port <= 0 {
		udp.Port = 14002
	}
	if udp.TTL <= 0 {
		udp.TTL = 3
	}
	if udp.MaxDatagram <= 0 {
		udp.MaxDatagram = 64000
	}

	tcp := &c.Transport.TCP
	if tcp.SendQueueSize <= 0 {
		tcp.SendQueueSize = 1000
	}
	if tcp.MaxMessageSize <= 0 {
		tcp.MaxMessageSize = 64 * 1024 * 1024
	}

	p := &c.Publisher
	if len(p.LocalPriority) == 0 {
		p.LocalPriority = append([]transport.Layer(nil), selector.DefaultLocalPriority...)
	}
	if len(p.RemotePriority) == 0 {
		p.RemotePriority = append([]transport.Layer(nil), selector.DefaultRemotePriority...)
	}
	if p.ReregisterDelay <= 0 {
		p.ReregisterDelay = 5 * time.Millisecond
	}

	if c.Subscriber.DedupWindow <= 0 {
		c.Subscriber.DedupWindow = 64
	}

	if c.Monitor.Port == "" {
		c.Monitor.Port = "8081"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HostName == "" {
		return invalid("host name cannot be empty")
	}
	switch c.Registration.Network {
	case NetworkUDP, NetworkLocal:
	default:
		return invalid("unknown registration network %q", c.Registration.Network)
	}
	if err := checkMulticast(c.Registration.Group); err != nil {
		return invalid("registration group: %v", err)
	}
	if err := checkPort(c.Registration.Port); err != nil {
		return invalid("registration port: %v", err)
	}
	if c.Registration.Timeout < c.Registration.RefreshInterval {
		return invalid("registration timeout %s is shorter than refresh interval %s",
			c.Registration.Timeout, c.Registration.RefreshInterval)
	}
	if err := checkMulticast(c.Transport.UDP.GroupBase); err != nil {
		return invalid("udp group base: %v", err)
	}
	if ip := net.ParseIP(c.Transport.UDP.GroupMask); ip == nil || ip.To4() == nil {
		return invalid("udp group mask %q is not an IPv4 mask", c.Transport.UDP.GroupMask)
	}
	if err := checkPort(c.Transport.UDP.Port); err != nil {
		return invalid("udp port: %v", err)
	}
	if c.Transport.UDP.MaxDatagram < 1024 || c.Transport.UDP.MaxDatagram > 65000 {
		return invalid("udp max datagram %d out of range [1024, 65000]", c.Transport.UDP.MaxDatagram)
	}
	if _, err := selector.New(c.Publisher.LocalPriority, c.Publisher.RemotePriority); err != nil {
		return errs.WrapInvalid(err, "Config", "Validate", "check priorities")
	}
	return nil
}

// Load reads a YAML file (optional), applies environment overrides,
// fills defaults and validates
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapInvalid(err, "Config", "Load", "read "+path)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errs.WrapInvalid(err, "Config", "Load", "parse "+path)
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv applies the ECAL_* environment variables
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Load(&o, nil); err != nil {
		return errs.WrapInvalid(err, "Config", "ApplyEnv", "load environment")
	}
	if o.HostName != "" {
		c.HostName = o.HostName
	}
	if o.RegistrationGroup != "" {
		c.Registration.Group = o.RegistrationGroup
	}
	if o.MonitorSecret != "" {
		c.Monitor.SecretKey = o.MonitorSecret
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func checkMulticast(addr string) error {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("%q is not an IPv4 address", addr)
	}
	if !ip.IsMulticast() {
		return fmt.Errorf("%q is not a multicast address", addr)
	}
	return nil
}

func checkPort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.New("port out of range")
	}
	return nil
}
