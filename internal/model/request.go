package model

import "strings"

// SendMessageRequest is the body of POST /chat/send.
type SendMessageRequest struct {
	ReceiverID       string  `json:"receiver_id"`
	Content          string  `json:"content"`
	AttachmentURL    *string `json:"attachment_url,omitempty"`
	AttachmentName   *string `json:"attachment_name,omitempty"`
	AttachmentType   *string `json:"attachment_type,omitempty"`
	AttachmentSize   *int64  `json:"attachment_size,omitempty"`
	ReplyToMessageID *string `json:"reply_to_message_id,omitempty"`
	IsForwarded      bool    `json:"is_forwarded,omitempty"`
}

// NewSendMessageRequest builds a request, flattening the attachment.
// An empty replyTo means no reply target.
func NewSendMessageRequest(receiverID, content string, att *Attachment, replyTo string, forwarded bool) SendMessageRequest {
	req := SendMessageRequest{
		ReceiverID:  receiverID,
		Content:     content,
		IsForwarded: forwarded,
	}
	if att != nil {
		a := *att
		req.AttachmentURL = &a.URL
		req.AttachmentName = &a.Name
		req.AttachmentType = &a.Type
		req.AttachmentSize = &a.Size
	}
	if replyTo != "" {
		req.ReplyToMessageID = &replyTo
	}
	return req
}

// Attachment returns the attachment tuple carried by the request, or nil if none was set.
func (r *SendMessageRequest) Attachment() *Attachment {
	if r.AttachmentURL == nil && r.AttachmentName == nil && r.AttachmentType == nil && r.AttachmentSize == nil {
		return nil
	}
	return attachmentFrom(r.AttachmentURL, r.AttachmentName, r.AttachmentType, r.AttachmentSize)
}

// ReplyTo returns the reply target id, or "".
func (r *SendMessageRequest) ReplyTo() string {
	if r.ReplyToMessageID == nil {
		return ""
	}
	return strings.TrimSpace(*r.ReplyToMessageID)
}

// Validate enforces the receiver and content-or-attachment rules.
func (r *SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.ReceiverID) == "" {
		return ErrMissingReceiver
	}
	return validateBody(r.Content, r.Attachment())
}

// UnreadCountResponse is the body of GET /chat/unread-count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// ErrorResponse is the JSON error body returned by the chat service.
type ErrorResponse struct {
	Error string `json:"error"`
}
