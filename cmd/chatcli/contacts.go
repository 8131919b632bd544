package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpms-portal/messaging/internal/model"
)

var contactFilter string

func init() {
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(unreadCmd)

	contactsCmd.Flags().StringVarP(&contactFilter, "filter", "f", "", "only show contacts whose name or role contains this text")
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List the people you can message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		contacts, err := cliSession.api.ListContacts(cmd.Context())
		if err != nil {
			return err
		}
		filtered := contacts[:0]
		for _, c := range contacts {
			if c.Matches(contactFilter) {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No contacts found.")
			return nil
		}
		printContacts(cmd.OutOrStdout(), filtered, cliSession.self, time.Now())
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show how many messages are waiting for you",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := cliSession.api.UnreadCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), unreadLine(n))
		return nil
	},
}

func unreadLine(n int) string {
	switch n {
	case 0:
		return "No unread messages."
	case 1:
		return "1 unread message."
	default:
		return fmt.Sprintf("%d unread messages.", n)
	}
}

// contactName resolves id to a display name, falling back to the ID.
func contactName(contacts []model.Contact, id string) string {
	for _, c := range contacts {
		if c.ID == id {
			return c.Name
		}
	}
	return id
}
