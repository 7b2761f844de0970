// Command ecal-mon joins the registration network, keeps a catalog of every
// publisher and subscriber it sees and serves it over the monitor API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/ecal-go/internal/config"
	"github.com/rmacdonaldsmith/ecal-go/internal/httpapi"
	"github.com/rmacdonaldsmith/ecal-go/internal/node"
	"github.com/rmacdonaldsmith/ecal-go/internal/registration"
)

const (
	appName    = "ecal-mon"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command line flags
type options struct {
	configPath  string
	httpPort    string
	noAuth      bool
	logLevel    string
	showVersion bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&opts.httpPort, "http-port", "", "Monitor API port (overrides the config file)")
	fs.BoolVar(&opts.noAuth, "no-auth", false, "Serve read endpoints without authentication (development only)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (overrides the config file)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	err := fs.Parse(args)
	return opts, err
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(out, "%s v%s\n", appName, appVersion)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.httpPort != "" {
		cfg.Monitor.Port = opts.httpPort
	}
	if opts.noAuth {
		cfg.Monitor.NoAuth = true
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	log, err := newLogger(cfg.LogLevel, out)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"version": appVersion,
		"host":    cfg.HostName,
		"network": cfg.Registration.Network,
	}).Infof("Starting %s", appName)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	nodeOpts := node.Options{Registerer: registry, Logger: log}
	if cfg.Registration.Network == config.NetworkLocal {
		// nothing else shares this bus, the catalog only sees this process
		nodeOpts.Bus = registration.NewLocalBus()
	}
	n, err := node.New(cfg, nodeOpts)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.WithError(err).Warn("Error closing node")
		}
	}()
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	server := httpapi.NewServer(n, httpapi.Config{
		Port:      cfg.Monitor.Port,
		SecretKey: cfg.Monitor.SecretKey,
		NoAuth:    cfg.Monitor.NoAuth,
		Gatherer:  registry,
		Logger:    log,
	})
	if cfg.Monitor.NoAuth {
		log.Warn("Authentication disabled on read endpoints")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infof("%s stopped", appName)
	return nil
}

func newLogger(level string, out io.Writer) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(logger).WithField("app", appName), nil
}
