// Package composer holds the message draft for the active thread and turns it
// into send requests.
package composer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/rpms-portal/messaging/internal/chat"
	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/pkg/logger"
)

// PreviewLength is the number of runes of quoted content shown in a reply preview.
const PreviewLength = 80

var (
	ErrNothingToSend    = model.ErrEmptyMessage
	ErrNoContact        = errors.New("no contact selected")
	ErrBusy             = errors.New("composer is busy")
	ErrAttachmentStaged = errors.New("an attachment is already staged; remove it first")
	ErrNoTargets        = errors.New("no forward targets selected")
	ErrFileTooLarge     = model.ErrAttachmentTooLarge
)

// Phase is what the composer is currently waiting on.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseUploading
	PhaseSending
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseUploading:
		return "uploading"
	case PhaseSending:
		return "sending"
	default:
		return "unknown"
	}
}

// Thread is the part of the conversation manager the composer writes to.
type Thread interface {
	ActiveContact() (string, bool)
	AppendSent(msg model.Message)
	RefreshMessages(ctx context.Context) error
}

// ReplyPreview is what the composer shows above the input while replying.
type ReplyPreview struct {
	MessageID string
	Label     string
	Text      string
}

// Composer is the draft for the active thread.
type Composer struct {
	api    chat.API
	thread Thread
	self   string
	logger *logger.Logger

	mu         sync.Mutex
	text       string
	attachment *model.Attachment
	pending    string
	reply      *model.Message
	phase      Phase
	lastErr    error
}

// New creates a composer sending as the user self.
func New(api chat.API, thread Thread, self string, log *logger.Logger) *Composer {
	if log == nil {
		log = logger.Nop()
	}
	return &Composer{
		api:    api,
		thread: thread,
		self:   self,
		logger: log.Named("composer"),
	}
}

// SetText replaces the draft text.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

// Text returns the draft text.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Phase returns the current phase.
func (c *Composer) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Attachment returns the staged attachment, if any.
func (c *Composer) Attachment() *model.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachment == nil {
		return nil
	}
	att := *c.attachment
	return &att
}

// Pending returns the name of the file being uploaded, or "".
func (c *Composer) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// LastError returns the most recent failure, or nil after a success.
func (c *Composer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attach uploads a file and stages it. Oversized files are refused without
// touching the draft or the network.
func (c *Composer) Attach(ctx context.Context, up chat.Upload) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.attachment != nil {
		c.mu.Unlock()
		return ErrAttachmentStaged
	}
	if up.Size > model.MaxAttachmentSize {
		c.lastErr = ErrFileTooLarge
		c.mu.Unlock()
		return ErrFileTooLarge
	}
	c.phase = PhaseUploading
	c.pending = up.Name
	c.mu.Unlock()

	att, err := c.api.UploadAttachment(ctx, up)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseIdle
	c.pending = ""
	if err != nil {
		c.lastErr = err
		c.logger.Warn("upload failed", zap.String("file", up.Name), zap.Error(err))
		return err
	}
	c.attachment = att
	c.lastErr = nil
	c.logger.Debug("attachment staged", zap.String("file", att.Name), zap.Int64("size", att.Size))
	return nil
}

// RemoveAttachment drops the staged attachment.
func (c *Composer) RemoveAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = nil
}

// ReplyTo sets msg as the reply target.
func (c *Composer) ReplyTo(msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = &msg
}

// ClearReply drops the reply target.
func (c *Composer) ClearReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = nil
}

// ReplyPreview describes the reply target, if any.
func (c *Composer) ReplyPreview() (ReplyPreview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reply == nil {
		return ReplyPreview{}, false
	}
	return PreviewOf(*c.reply, c.self), true
}

// PreviewOf builds the quoted preview of msg as seen by the user self.
func PreviewOf(msg model.Message, self string) ReplyPreview {
	label := "message"
	switch {
	case msg.SenderID == self:
		label = "You"
	case msg.SenderName != "":
		label = msg.SenderName
	}
	return ReplyPreview{
		MessageID: msg.ID,
		Label:     label,
		Text:      truncate(msg.Preview(), PreviewLength),
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

// CanSend reports whether Send would be attempted.
func (c *Composer) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.readyLocked()
	return err == nil
}

func (c *Composer) readyLocked() (string, error) {
	if c.phase != PhaseIdle {
		return "", ErrBusy
	}
	contactID, ok := c.thread.ActiveContact()
	if !ok || contactID == "" {
		return "", ErrNoContact
	}
	if strings.TrimSpace(c.text) == "" && !c.attachment.Complete() {
		return "", ErrNothingToSend
	}
	return contactID, nil
}

// Send posts the draft to the active contact. On success the sent parts of
// the draft are cleared and the message is appended to the thread; on
// failure the draft is kept.
func (c *Composer) Send(ctx context.Context) (*model.Message, error) {
	c.mu.Lock()
	contactID, err := c.readyLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	text, reply, att := c.text, c.reply, c.attachment
	replyTo := ""
	if reply != nil {
		replyTo = reply.ID
	}
	req := model.NewSendMessageRequest(contactID, strings.TrimSpace(text), att, replyTo, false)
	c.phase = PhaseSending
	c.mu.Unlock()

	msg, err := c.api.SendMessage(ctx, req)

	c.mu.Lock()
	c.phase = PhaseIdle
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("send failed", zap.String("receiver_id", contactID), zap.Error(err))
		return nil, err
	}
	// Edits made while the request was in flight belong to the next message.
	if c.text == text {
		c.text = ""
	}
	if c.attachment == att {
		c.attachment = nil
	}
	if c.reply == reply {
		c.reply = nil
	}
	c.lastErr = nil
	c.mu.Unlock()

	c.thread.AppendSent(*msg)
	return msg, nil
}
