package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxContentLength bounds message content in bytes.
const MaxContentLength = 100000

// ValidateMessageContent validates message content. Empty content is allowed
// here because a message may carry only an attachment.
func ValidateMessageContent(content string) error {
	if len(content) > MaxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateUserID validates a user ID taken from a request.
func ValidateUserID(id string) error {
	if len(id) == 0 {
		return errors.New("contact_id is required")
	}
	if len(id) > 64 {
		return errors.New("user ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("user ID must be valid UTF-8")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}
