package node

import (
	"github.com/rmacdonaldsmith/ecal-go/internal/publisher"
	"github.com/rmacdonaldsmith/ecal-go/internal/subscriber"
)

// Publisher is a publisher owned by a node
type Publisher struct {
	*publisher.Engine
	node *Node
}

// Close withdraws the publisher and detaches it from the node
func (p *Publisher) Close() error {
	p.node.forgetPublisher(p)
	return p.Engine.Close()
}

// Subscriber is a subscriber owned by a node
type Subscriber struct {
	*subscriber.Subscriber
	node *Node
}

// Close withdraws the subscriber and detaches it from the node
func (s *Subscriber) Close() error {
	s.node.forgetSubscriber(s)
	return s.Subscriber.Close()
}
