// Package cmd provides the operator CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"sentinel/bootstrap"

	"github.com/spf13/cobra"
)

// NewTestChannelCmd builds the test-channel command. It sends one test
// message through a configured channel using the normal dispatcher path,
// so an operator can verify credentials and connectivity before wiring
// the channel into rules.
func NewTestChannelCmd() *cobra.Command {
	var (
		tenantID string
		userID   string
		message  string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "test-channel <channel-id>",
		Short: "Send a test message through a notification channel",
		Long: `Sends a single test message through the given channel using the same
dispatcher path as real deliveries. The message is addressed to the given
user; channels that target a webhook ignore the recipient identity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID := args[0]

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			app, err := bootstrap.NewApp(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer app.Shutdown()

			if err := app.Service.TestChannel(ctx, userID, tenantID, channelID, message); err != nil {
				return fmt.Errorf("test delivery failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Test message sent through channel %s\n", channelID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID owning the channel")
	cmd.Flags().StringVar(&userID, "user", "", "user ID to deliver the test message to")
	cmd.Flags().StringVar(&message, "message", "", "test message body (default is generated)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
