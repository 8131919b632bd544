package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rpms-portal/messaging/internal/composer"
	"github.com/rpms-portal/messaging/internal/conversation"
	"github.com/rpms-portal/messaging/internal/model"
)

// printContacts writes one row per contact.
func printContacts(w io.Writer, contacts []model.Contact, self string, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tUNREAD\tLAST MESSAGE")
	for _, c := range contacts {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
		}
		last := ""
		if c.LastMessage != nil {
			last = fmt.Sprintf("%s (%s)", lastLine(*c.LastMessage, self), humanize.RelTime(c.LastMessage.CreatedAt, now, "ago", "from now"))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Role, unread, last)
	}
	tw.Flush()
}

func lastLine(msg model.Message, self string) string {
	text := composer.PreviewOf(msg, self).Text
	if msg.SenderID == self {
		return "You: " + text
	}
	return text
}

// printTimeline writes a thread with day separators, reply quotes and read
// receipts on the user's own messages.
func printTimeline(w io.Writer, msgs []model.Message, self string, now time.Time) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	for _, e := range conversation.Timeline(msgs, now.Location()) {
		if e.IsSeparator() {
			fmt.Fprintf(w, "── %s ──\n", conversation.DayLabel(e.Day, now))
			continue
		}
		printMessage(w, e, self, now.Location())
	}
}

func printMessage(w io.Writer, e conversation.Entry, self string, loc *time.Location) {
	msg := e.Message
	if e.ReplyTo != nil {
		p := composer.PreviewOf(*e.ReplyTo, self)
		fmt.Fprintf(w, "    ↪ %s: %s\n", p.Label, p.Text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", msg.CreatedAt.In(loc).Format("15:04"), senderLabel(*msg, self))
	if msg.IsForwarded {
		b.WriteString(" (forwarded)")
	}
	b.WriteString(":")
	if msg.Content != "" {
		b.WriteString(" " + msg.Content)
	}
	if msg.SenderID == self {
		b.WriteString(" " + receipt(*msg))
	}
	fmt.Fprintln(w, b.String())

	if msg.Attachment != nil {
		fmt.Fprintf(w, "    %s\n", attachmentLine(msg.Attachment))
	}
	fmt.Fprintf(w, "    id %s\n", msg.ID)
}

func senderLabel(msg model.Message, self string) string {
	switch {
	case msg.SenderID == self:
		return "You"
	case msg.SenderName != "":
		return msg.SenderName
	default:
		return msg.SenderID
	}
}

// receipt is one check when delivered and two once the receiver has read it.
func receipt(msg model.Message) string {
	if msg.IsRead {
		return "✓✓"
	}
	return "✓"
}

func attachmentLine(att *model.Attachment) string {
	icon := "📎"
	switch att.Kind() {
	case model.AttachmentImage:
		icon = "🖼"
	case model.AttachmentPDF:
		icon = "📄"
	}
	line := fmt.Sprintf("%s %s", icon, att.Name)
	if size := att.HumanSize(); size != "" {
		line += " (" + size + ")"
	}
	return line + " " + att.URL
}

// printForwardReport lists the outcome per target.
func printForwardReport(w io.Writer, report *composer.ForwardReport) {
	for _, res := range report.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "✗ %s: %s\n", res.ContactID, describe(res.Err))
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", res.ContactID)
	}
	fmt.Fprintf(w, "Forwarded to %d of %d contacts.\n", len(report.Succeeded()), len(report.Results))
}
