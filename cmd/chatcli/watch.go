package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpms-portal/messaging/internal/composer"
	"github.com/rpms-portal/messaging/internal/conversation"
	"github.com/rpms-portal/messaging/internal/model"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <contact-id>",
	Short: "Follow a thread live and send lines typed on stdin",
	Long: `watch prints the thread with a contact and keeps polling for new messages.
Each line typed is sent to the contact. Lines starting with a slash are commands:

  /reply <message-id>   reply to a message in the thread
  /attach <path>        upload a file and attach it to the next message
  /cancel               drop the reply target and staged attachment
  /unread               show the total unread count`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// threadPrinter writes messages not yet shown. Observer callbacks arrive on
// polling goroutines.
type threadPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	self    string
	shown   map[string]bool
	lastDay time.Time
}

func (p *threadPrinter) print(msgs []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, e := range conversation.Timeline(msgs, now.Location()) {
		if e.IsSeparator() {
			continue
		}
		if p.shown[e.Message.ID] {
			continue
		}
		p.shown[e.Message.ID] = true
		day := e.Message.CreatedAt.In(now.Location())
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		if !day.Equal(p.lastDay) {
			fmt.Fprintf(p.w, "── %s ──\n", conversation.DayLabel(day, now))
			p.lastDay = day
		}
		printMessage(p.w, e, p.self, now.Location())
	}
}

func runWatch(ctx context.Context, contactID string, in io.Reader, out io.Writer) error {
	printer := &threadPrinter{w: out, self: cliSession.self, shown: make(map[string]bool)}
	log := cliSession.log

	// Select emits before openThread returns; the initial thread is printed below.
	var current atomic.Pointer[conversation.Manager]
	observer := func(ev conversation.Event) {
		mgr := current.Load()
		if mgr == nil {
			return
		}
		switch ev.Type {
		case conversation.EventThread:
			if ev.ContactID == contactID {
				printer.print(mgr.Snapshot().Messages)
			}
		case conversation.EventError:
			log.Warn("refresh failed", zap.String("contact_id", ev.ContactID), zap.Error(ev.Err))
		}
	}

	mgr, err := openThread(ctx, contactID, conversation.WithObserver(observer))
	if err != nil {
		return err
	}
	defer mgr.Close()
	current.Store(mgr)
	if err := mgr.Start(ctx); err != nil {
		log.Warn("failed to load contacts", zap.Error(err))
	}

	fmt.Fprintf(out, "Chatting with %s. Ctrl-C to quit.\n", contactName(mgr.Snapshot().Contacts, contactID))
	printer.print(mgr.Snapshot().Messages)

	c := composer.New(cliSession.api, mgr, cliSession.self, log)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if err := handleLine(ctx, c, mgr, line, out); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
			}
		}
	}
}

func handleLine(ctx context.Context, c *composer.Composer, mgr *conversation.Manager, line string, out io.Writer) error {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		if !c.CanSend() {
			return nil
		}
	case "/reply":
		if err := setReply(c, mgr, arg); err != nil {
			return err
		}
		printReplyPreview(out, c)
		return nil
	case "/attach":
		if err := attachFile(ctx, c, arg); err != nil {
			return err
		}
		if att := c.Attachment(); att != nil {
			fmt.Fprintf(out, "Attached %s\n", attachmentLine(att))
		}
		return nil
	case "/cancel":
		c.ClearReply()
		c.RemoveAttachment()
		return nil
	case "/unread":
		fmt.Fprintln(out, unreadLine(mgr.Snapshot().Unread))
		return nil
	default:
		if strings.HasPrefix(cmd, "/") {
			return fmt.Errorf("unknown command %s", cmd)
		}
		c.SetText(line)
	}

	_, err := c.Send(ctx)
	return err
}
