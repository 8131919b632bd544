package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rpms-portal/messaging/internal/chat"
	"github.com/rpms-portal/messaging/internal/composer"
	"github.com/rpms-portal/messaging/internal/conversation"
)

var (
	attachPath string
	replyToID  string
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(uploadCmd)

	sendCmd.Flags().StringVarP(&attachPath, "attach", "a", "", "file to upload and attach (max 10MB)")
	sendCmd.Flags().StringVarP(&replyToID, "reply-to", "r", "", "ID of a message in this thread to reply to")
}

var sendCmd = &cobra.Command{
	Use:   "send <contact-id> [text...]",
	Short: "Send a message, optionally with an attachment or as a reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := openThread(ctx, args[0])
		if err != nil {
			return err
		}
		defer mgr.Close()

		c := composer.New(cliSession.api, mgr, cliSession.self, cliSession.log)
		c.SetText(strings.Join(args[1:], " "))
		if attachPath != "" {
			if err := attachFile(ctx, c, attachPath); err != nil {
				return err
			}
		}
		if replyToID != "" {
			if err := setReply(c, mgr, replyToID); err != nil {
				return err
			}
			printReplyPreview(cmd.ErrOrStderr(), c)
		}

		msg, err := c.Send(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s ✓\n", msg.ID)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file and print its attachment metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		up, f, err := chat.OpenFile(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		att, err := cliSession.api.UploadAttachment(cmd.Context(), up)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "name: %s\ntype: %s\nsize: %s\nurl:  %s\n",
			att.Name, att.Type, humanize.IBytes(uint64(att.Size)), att.URL)
		return nil
	},
}

func attachFile(ctx context.Context, c *composer.Composer, path string) error {
	up, f, err := chat.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Attach(ctx, up)
}

func setReply(c *composer.Composer, mgr *conversation.Manager, id string) error {
	msg, ok := mgr.Message(id)
	if !ok {
		return fmt.Errorf("message %s is not in this thread", id)
	}
	c.ReplyTo(msg)
	return nil
}

func printReplyPreview(w io.Writer, c *composer.Composer) {
	if p, ok := c.ReplyPreview(); ok {
		fmt.Fprintf(w, "Replying to %s: %s\n", p.Label, p.Text)
	}
}
