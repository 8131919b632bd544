package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpms-portal/messaging/internal/conversation"
)

func init() {
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages <contact-id>",
	Short: "Show the thread with a contact and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := cliSession.api.ListMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTimeline(cmd.OutOrStdout(), msgs, cliSession.self, time.Now())
		return nil
	},
}

// openThread starts a conversation manager with contactID selected.
// The caller closes it.
func openThread(ctx context.Context, contactID string, opts ...conversation.Option) (*conversation.Manager, error) {
	opts = append([]conversation.Option{
		conversation.WithMessageInterval(cliSession.cfg.PollInterval),
		conversation.WithContactInterval(cliSession.cfg.ContactRefresh),
		conversation.WithUnreadInterval(cliSession.cfg.ContactRefresh),
		conversation.WithLogger(cliSession.log.Named("conversation")),
	}, opts...)
	mgr := conversation.New(cliSession.api, opts...)
	if err := mgr.Select(ctx, contactID); err != nil {
		mgr.Close()
		return nil, err
	}
	return mgr, nil
}
