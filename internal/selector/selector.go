// Package selector picks the transport layer for a publisher/subscriber pair.
package selector

import (
	"fmt"

	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// DefaultLocalPriority favors shared memory between processes on one host
var DefaultLocalPriority = []transport.Layer{transport.LayerSHM, transport.LayerUDP, transport.LayerTCP}

// DefaultRemotePriority is used between hosts
var DefaultRemotePriority = []transport.Layer{transport.LayerUDP, transport.LayerTCP}

// Selector holds the priority orders. It is immutable after New and safe
// for concurrent use.
type Selector struct {
	local  []transport.Layer
	remote []transport.Layer
}

// New creates a selector. Empty priority lists fall back to the defaults.
func New(local, remote []transport.Layer) (*Selector, error) {
	if len(local) == 0 {
		local = DefaultLocalPriority
	}
	if len(remote) == 0 {
		remote = DefaultRemotePriority
	}
	if err := validate(local); err != nil {
		return nil, fmt.Errorf("invalid local priority: %w", err)
	}
	if err := validate(remote); err != nil {
		return nil, fmt.Errorf("invalid remote priority: %w", err)
	}
	return &Selector{
		local:  append([]transport.Layer(nil), local...),
		remote: append([]transport.Layer(nil), remote...),
	}, nil
}

func validate(order []transport.Layer) error {
	var seen transport.LayerSet
	for _, l := range order {
		if !l.Valid() {
			return fmt.Errorf("layer %s is not a transport", l)
		}
		if seen.Has(l) {
			return fmt.Errorf("layer %s listed twice", l)
		}
		seen = seen.With(l)
	}
	return nil
}

// Select returns the first layer of the applicable priority order that both
// sides support, or (LayerNone, false) when they share none. Shared memory
// is never selected across hosts, even when the remote order lists it.
func (s *Selector) Select(pub, sub transport.LayerSet, sameHost bool) (transport.Layer, bool) {
	order := s.remote
	if sameHost {
		order = s.local
	}
	common := pub & sub
	for _, l := range order {
		if l == transport.LayerSHM && !sameHost {
			continue
		}
		if common.Has(l) {
			return l, true
		}
	}
	return transport.LayerNone, false
}

// LocalPriority returns a copy of the same-host order
func (s *Selector) LocalPriority() []transport.Layer {
	return append([]transport.Layer(nil), s.local...)
}

// RemotePriority returns a copy of the cross-host order
func (s *Selector) RemotePriority() []transport.Layer {
	return append([]transport.Layer(nil), s.remote...)
}
