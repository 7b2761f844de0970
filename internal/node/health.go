package node

import "time"

// HealthStatus describes the state of a node
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`

	HostName string        `json:"host_name"`
	Network  string        `json:"network"`
	Uptime   time.Duration `json:"uptime"`

	LocalPublishers  int `json:"local_publishers"`
	LocalSubscribers int `json:"local_subscribers"`
	KnownPublishers  int `json:"known_publishers"`
	KnownSubscribers int `json:"known_subscribers"`
}

// Health reports the node state. A node is healthy while it is started.
func (n *Node) Health() HealthStatus {
	n.mu.RLock()
	started, closed, since := n.started, n.closed, n.startedAt
	n.mu.RUnlock()

	h := HealthStatus{
		Healthy:  started && !closed,
		Started:  started,
		HostName: n.cfg.HostName,
		Network:  n.cfg.Registration.Network,
	}
	switch {
	case closed:
		h.Message = "node closed"
	case !started:
		h.Message = "node not started"
	default:
		h.Uptime = time.Since(since)
	}
	h.LocalPublishers, h.LocalSubscribers = n.gate.Counts()
	h.KnownPublishers, h.KnownSubscribers = n.catalog.Size()
	return h
}
