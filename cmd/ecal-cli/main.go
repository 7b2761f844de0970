package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ecal-go/pkg/httpclient"
)

var (
	// Global flags
	serverURL  string
	clientID   string
	token      string
	timeout    time.Duration
	noAuth     bool
	configPath string

	// Global client instance
	client *httpclient.Client
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ecal-cli",
		Short: "ecal command line interface",
		Long: `ecal-cli publishes and subscribes on ecal topics and inspects the
network through the monitor API of an ecal-mon instance.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081", "Monitor API URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ECAL_TOKEN"), "JWT token (if already authenticated)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for monitors started with --no-auth)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Node configuration file used by pub and sub")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newTopicsCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newPubCommand())
	rootCmd.AddCommand(newSubCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	effectiveClientID := clientID
	if effectiveClientID == "" {
		effectiveClientID = "ecal-cli"
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// the server ignores it, the client only needs a token to be set
		client.SetToken("no-auth-mode")
	}
	return nil
}

// requireAuthentication checks if the client is authenticated
func requireAuthentication() error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if !client.IsAuthenticated() {
		return fmt.Errorf("not authenticated - run 'ecal-cli auth' first or provide --token")
	}
	return nil
}
