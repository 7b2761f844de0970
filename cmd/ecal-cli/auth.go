package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the monitor",
		Long: `Authenticate with the monitor API using your client ID.
This prints a JWT token that can be used for subsequent requests.`,
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	if clientID == "" {
		return fmt.Errorf("--client-id is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticating with %s as client %s...\n", serverURL, clientID)

	if err := client.Authenticate(ctx); err != nil {
		return err
	}

	token := client.GetToken()
	fmt.Fprintf(out, "Authentication successful\n")
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "\nSave it for later commands:\n")
	fmt.Fprintf(out, "  export ECAL_TOKEN=\"%s\"\n", token)
	fmt.Fprintf(out, "  ecal-cli topics list\n")
	return nil
}
