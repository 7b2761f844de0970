package transport

import (
	"fmt"
	"strings"
)

// Layer identifies a transport mechanism
type Layer int

const (
	// LayerNone is the "no common layer" sentinel
	LayerNone Layer = iota

	// LayerSHM is the shared memory layer (same host only)
	LayerSHM

	// LayerUDP is the UDP multicast layer
	LayerUDP

	// LayerTCP is the TCP layer
	LayerTCP
)

// LayerCount is the size of arrays indexed by Layer
const LayerCount = 4

// WriteOrder is the fixed order in which a publisher fans out a payload
var WriteOrder = [...]Layer{LayerSHM, LayerUDP, LayerTCP}

func (l Layer) String() string {
	switch l {
	case LayerNone:
		return "none"
	case LayerSHM:
		return "shm"
	case LayerUDP:
		return "udp"
	case LayerTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Valid reports whether l names a real transport
func (l Layer) Valid() bool {
	return l == LayerSHM || l == LayerUDP || l == LayerTCP
}

// ParseLayer parses a layer name such as "shm", "udp" or "tcp"
func ParseLayer(s string) (Layer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shm":
		return LayerSHM, nil
	case "udp":
		return LayerUDP, nil
	case "tcp":
		return LayerTCP, nil
	default:
		return LayerNone, fmt.Errorf("unknown transport layer %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (l Layer) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("cannot marshal transport layer %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Layer) UnmarshalText(text []byte) error {
	parsed, err := ParseLayer(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LayerSet is a set of layers
type LayerSet uint8

// NewLayerSet builds a set from the given layers. Invalid layers are ignored.
func NewLayerSet(layers ...Layer) LayerSet {
	var s LayerSet
	for _, l := range layers {
		s = s.With(l)
	}
	return s
}

// With returns s with l added
func (s LayerSet) With(l Layer) LayerSet {
	if !l.Valid() {
		return s
	}
	return s | 1<<uint(l)
}

// Has reports whether l is in s
func (s LayerSet) Has(l Layer) bool {
	return l.Valid() && s&(1<<uint(l)) != 0
}

// Empty reports whether s has no layers
func (s LayerSet) Empty() bool {
	return s == 0
}

// Layers returns the members of s in write order
func (s LayerSet) Layers() []Layer {
	layers := make([]Layer, 0, len(WriteOrder))
	for _, l := range WriteOrder {
		if s.Has(l) {
			layers = append(layers, l)
		}
	}
	return layers
}

func (s LayerSet) String() string {
	names := make([]string, 0, len(WriteOrder))
	for _, l := range s.Layers() {
		names = append(names, l.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// LayerState holds the per-layer flags carried in registration samples
type LayerState struct {
	// ReadEnabled means the entity can read this layer
	ReadEnabled bool

	// WriteEnabled means the entity has started writing this layer
	WriteEnabled bool

	// Active means at least one frame was sent on this layer
	Active bool
}

// LayerStates holds one LayerState per layer, indexed by Layer
type LayerStates [LayerCount]LayerState

// ReadSet returns the layers with ReadEnabled set
func (s LayerStates) ReadSet() LayerSet {
	var set LayerSet
	for _, l := range WriteOrder {
		if s[l].ReadEnabled {
			set = set.With(l)
		}
	}
	return set
}

// WriteSet returns the layers with WriteEnabled set
func (s LayerStates) WriteSet() LayerSet {
	var set LayerSet
	for _, l := range WriteOrder {
		if s[l].WriteEnabled {
			set = set.With(l)
		}
	}
	return set
}
