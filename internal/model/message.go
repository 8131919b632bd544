package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// MaxAttachmentSize is the largest file accepted for upload (10 MiB).
const MaxAttachmentSize int64 = 10 << 20

var (
	// ErrEmptyMessage is returned when a message has neither content nor a complete attachment.
	ErrEmptyMessage = errors.New("message must have content or an attachment")
	// ErrIncompleteAttachment is returned when only part of the attachment tuple is set.
	ErrIncompleteAttachment = errors.New("attachment requires url, name, type and size")
	// ErrEmptyAttachment is returned for zero-byte files.
	ErrEmptyAttachment = errors.New("file is empty")
	// ErrAttachmentTooLarge is returned for files over MaxAttachmentSize.
	ErrAttachmentTooLarge = errors.New("file size must be less than 10MB")
	// ErrMissingReceiver is returned when a send has no receiver.
	ErrMissingReceiver = errors.New("receiver_id is required")
)

// AttachmentKind classifies an attachment for rendering.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentPDF   AttachmentKind = "pdf"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is an uploaded file referenced by a message.
// The upload endpoint returns it in this shape; on messages it is flattened.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Complete reports whether all four attachment fields are populated.
func (a *Attachment) Complete() bool {
	return a != nil && a.URL != "" && a.Name != "" && a.Type != "" && a.Size > 0
}

// Kind classifies the attachment by MIME type.
func (a *Attachment) Kind() AttachmentKind {
	switch {
	case strings.HasPrefix(a.Type, "image/"):
		return AttachmentImage
	case a.Type == "application/pdf":
		return AttachmentPDF
	default:
		return AttachmentFile
	}
}

// HumanSize formats the attachment size, e.g. "1.5 MiB".
func (a *Attachment) HumanSize() string {
	if a.Size <= 0 {
		return ""
	}
	return humanize.IBytes(uint64(a.Size))
}

// Message is one entry of a thread between two users.
type Message struct {
	ID               string
	SenderID         string
	ReceiverID       string
	Content          string
	Attachment       *Attachment
	ReplyToMessageID *string
	IsForwarded      bool
	IsRead           bool
	CreatedAt        time.Time

	// Optional fields filled by the server for display.
	SenderName   string
	ReceiverName string
}

// wireMessage is the JSON shape of a message; the attachment tuple is flattened.
type wireMessage struct {
	ID               string    `json:"id"`
	SenderID         string    `json:"sender_id"`
	ReceiverID       string    `json:"receiver_id"`
	Content          string    `json:"content"`
	AttachmentURL    *string   `json:"attachment_url,omitempty"`
	AttachmentName   *string   `json:"attachment_name,omitempty"`
	AttachmentType   *string   `json:"attachment_type,omitempty"`
	AttachmentSize   *int64    `json:"attachment_size,omitempty"`
	ReplyToMessageID *string   `json:"reply_to_message_id,omitempty"`
	IsForwarded      bool      `json:"is_forwarded"`
	IsRead           bool      `json:"is_read"`
	CreatedAt        time.Time `json:"created_at"`
	SenderName       string    `json:"sender_name,omitempty"`
	ReceiverName     string    `json:"receiver_name,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:               m.ID,
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		Content:          m.Content,
		ReplyToMessageID: m.ReplyToMessageID,
		IsForwarded:      m.IsForwarded,
		IsRead:           m.IsRead,
		CreatedAt:        m.CreatedAt,
		SenderName:       m.SenderName,
		ReceiverName:     m.ReceiverName,
	}
	if a := m.Attachment; a.Complete() {
		w.AttachmentURL = &a.URL
		w.AttachmentName = &a.Name
		w.AttachmentType = &a.Type
		w.AttachmentSize = &a.Size
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. A partial attachment tuple is dropped.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		ID:               w.ID,
		SenderID:         w.SenderID,
		ReceiverID:       w.ReceiverID,
		Content:          w.Content,
		ReplyToMessageID: w.ReplyToMessageID,
		IsForwarded:      w.IsForwarded,
		IsRead:           w.IsRead,
		CreatedAt:        w.CreatedAt,
		SenderName:       w.SenderName,
		ReceiverName:     w.ReceiverName,
	}
	att := attachmentFrom(w.AttachmentURL, w.AttachmentName, w.AttachmentType, w.AttachmentSize)
	if att.Complete() {
		m.Attachment = att
	}
	return nil
}

func attachmentFrom(url, name, typ *string, size *int64) *Attachment {
	a := &Attachment{}
	if url != nil {
		a.URL = *url
	}
	if name != nil {
		a.Name = *name
	}
	if typ != nil {
		a.Type = *typ
	}
	if size != nil {
		a.Size = *size
	}
	return a
}

// Validate enforces the content-or-attachment invariant.
func (m *Message) Validate() error {
	return validateBody(m.Content, m.Attachment)
}

// Preview returns the text shown in a contact list: the content, or an
// attachment marker when the message carries only a file.
func (m *Message) Preview() string {
	if strings.TrimSpace(m.Content) != "" {
		return m.Content
	}
	if m.Attachment != nil {
		return "[attachment] " + m.Attachment.Name
	}
	return ""
}

// IsReply reports whether the message references a parent message.
func (m *Message) IsReply() bool {
	return m.ReplyToMessageID != nil && *m.ReplyToMessageID != ""
}

func validateBody(content string, att *Attachment) error {
	if att != nil && !att.Complete() {
		return ErrIncompleteAttachment
	}
	if strings.TrimSpace(content) == "" && att == nil {
		return ErrEmptyMessage
	}
	return nil
}
