package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/node"
	"github.com/rmacdonaldsmith/ecal-go/internal/registration"
)

var (
	// localBus is shared by every node this process opens on the local network
	localBus     *registration.LocalBus
	localBusOnce sync.Once
)

// openNode starts a node from --config. The node only logs warnings.
func openNode(ctx context.Context) (*node.Node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	opts := node.Options{Logger: logrus.NewEntry(logger)}
	if cfg.Registration.Network == config.NetworkLocal {
		localBusOnce.Do(func() {
			if localBus == nil {
				localBus = registration.NewLocalBus()
			}
		})
		opts.Bus = localBus
	}

	n, err := node.New(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	if err := n.Start(ctx); err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to start node: %w", err)
	}
	return n, nil
}
