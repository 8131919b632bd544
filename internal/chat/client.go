// Package chat provides typed access to the chat service endpoints.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/internal/transport"
	"github.com/rpms-portal/messaging/pkg/logger"
	"github.com/rpms-portal/messaging/pkg/metrics"
)

// Endpoint paths relative to the API base URL.
const (
	PathContacts    = "/chat/contacts"
	PathMessages    = "/chat/messages"
	PathSend        = "/chat/send"
	PathUpload      = "/chat/upload"
	PathUnreadCount = "/chat/unread-count"

	uploadField = "file"
)

// API is the chat data access surface used by the conversation and composer layers.
type API interface {
	ListContacts(ctx context.Context) ([]model.Contact, error)
	ListMessages(ctx context.Context, contactID string) ([]model.Message, error)
	SendMessage(ctx context.Context, req model.SendMessageRequest) (*model.Message, error)
	UploadAttachment(ctx context.Context, up Upload) (*model.Attachment, error)
	UnreadCount(ctx context.Context) (int, error)
}

// Upload is a file selected for attachment.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Validate checks the upload before any bytes are sent.
func (u Upload) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("file name is required")
	}
	if u.Size > model.MaxAttachmentSize {
		return model.ErrAttachmentTooLarge
	}
	if u.Size <= 0 {
		return model.ErrEmptyAttachment
	}
	if u.Body == nil {
		return fmt.Errorf("file %q has no content", u.Name)
	}
	return nil
}

// Client implements API over a transport client.
type Client struct {
	transport *transport.Client
	logger    *logger.Logger
}

var _ API = (*Client)(nil)

// NewClient creates a chat client.
func NewClient(tc *transport.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		transport: tc,
		logger:    log,
	}
}

// ListContacts fetches everyone the current user may message, with unread
// counts and last-message previews. A payload that is not an array yields an
// empty list rather than an error.
func (c *Client) ListContacts(ctx context.Context) (contacts []model.Contact, err error) {
	defer observe("list_contacts", time.Now(), &err)

	var raw json.RawMessage
	if err := c.transport.Do(ctx, http.MethodGet, PathContacts, nil, nil, &raw); err != nil {
		return nil, err
	}
	if !isArray(raw) {
		c.logger.Debug("contacts payload is not an array, using empty list")
		return []model.Contact{}, nil
	}
	if err := json.Unmarshal(raw, &contacts); err != nil {
		return nil, &transport.Error{Kind: transport.KindMalformed, Message: fmt.Sprintf("invalid contacts payload: %v", err), Err: err}
	}
	return contacts, nil
}

// ListMessages fetches the full exchange with one contact, oldest first.
func (c *Client) ListMessages(ctx context.Context, contactID string) (messages []model.Message, err error) {
	defer observe("list_messages", time.Now(), &err)

	if contactID == "" {
		return nil, transport.Validation(fmt.Errorf("contact_id is required"))
	}

	var raw json.RawMessage
	query := url.Values{"contact_id": {contactID}}
	if err := c.transport.Do(ctx, http.MethodGet, PathMessages, query, nil, &raw); err != nil {
		return nil, err
	}
	if !isArray(raw) {
		return []model.Message{}, nil
	}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, &transport.Error{Kind: transport.KindMalformed, Message: fmt.Sprintf("invalid messages payload: %v", err), Err: err}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// SendMessage posts a message. The request must carry content or a complete attachment.
func (c *Client) SendMessage(ctx context.Context, req model.SendMessageRequest) (msg *model.Message, err error) {
	defer observe("send_message", time.Now(), &err)

	if err := req.Validate(); err != nil {
		return nil, transport.Validation(err)
	}

	msg = &model.Message{}
	if err := c.transport.Do(ctx, http.MethodPost, PathSend, nil, req, msg); err != nil {
		c.logger.Debug("send failed", zap.String("receiver_id", req.ReceiverID), zap.Error(err))
		return nil, err
	}
	return msg, nil
}

// UploadAttachment uploads a file. Files over the size limit are rejected
// locally and never transferred.
func (c *Client) UploadAttachment(ctx context.Context, up Upload) (att *model.Attachment, err error) {
	defer observe("upload_attachment", time.Now(), &err)

	if err := up.Validate(); err != nil {
		return nil, transport.Validation(err)
	}

	// Guard against a reader that is longer than the declared size.
	body := io.LimitReader(up.Body, model.MaxAttachmentSize+1)
	var buf bytes.Buffer
	n, err := io.Copy(&buf, body)
	if err != nil {
		return nil, transport.Validation(fmt.Errorf("failed to read %q: %w", up.Name, err))
	}
	if n > model.MaxAttachmentSize {
		return nil, transport.Validation(model.ErrAttachmentTooLarge)
	}
	if n == 0 {
		return nil, transport.Validation(model.ErrEmptyAttachment)
	}

	att = &model.Attachment{}
	if err := c.transport.Upload(ctx, PathUpload, uploadField, up.Name, up.ContentType, &buf, att); err != nil {
		return nil, err
	}
	if !att.Complete() {
		return nil, &transport.Error{Kind: transport.KindMalformed, Message: "upload response is missing attachment fields"}
	}
	return att, nil
}

// UnreadCount fetches the total number of unread messages across contacts.
func (c *Client) UnreadCount(ctx context.Context) (count int, err error) {
	defer observe("unread_count", time.Now(), &err)

	var resp model.UnreadCountResponse
	if err := c.transport.Do(ctx, http.MethodGet, PathUnreadCount, nil, nil, &resp); err != nil {
		return 0, err
	}
	if resp.Count < 0 {
		return 0, nil
	}
	return resp.Count, nil
}

func observe(op string, start time.Time, err *error) {
	metrics.RecordClientCall(op, *err, time.Since(start).Seconds())
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
