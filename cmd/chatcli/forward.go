package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpms-portal/messaging/internal/composer"
)

var (
	forwardFrom    string
	forwardTargets []string
)

func init() {
	rootCmd.AddCommand(forwardCmd)

	forwardCmd.Flags().StringVar(&forwardFrom, "from", "", "contact whose thread holds the message (required)")
	forwardCmd.Flags().StringSliceVar(&forwardTargets, "to", nil, "contacts to forward to, comma separated (required)")
	forwardCmd.MarkFlagRequired("from")
	forwardCmd.MarkFlagRequired("to")
}

var forwardCmd = &cobra.Command{
	Use:   "forward <message-id>",
	Short: "Forward a message to one or more contacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := openThread(ctx, forwardFrom)
		if err != nil {
			return err
		}
		defer mgr.Close()

		msg, ok := mgr.Message(args[0])
		if !ok {
			return fmt.Errorf("message %s is not in the thread with %s", args[0], forwardFrom)
		}

		c := composer.New(cliSession.api, mgr, cliSession.self, cliSession.log)
		report, err := c.Forward(ctx, msg, forwardTargets)
		if report != nil {
			printForwardReport(cmd.OutOrStdout(), report)
		}
		if err != nil && report != nil && len(report.Failed()) > 0 {
			return fmt.Errorf("forward failed for %d contact(s)", len(report.Failed()))
		}
		return err
	},
}
