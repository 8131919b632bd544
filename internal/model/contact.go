package model

import "strings"

// Contact is a counterpart the current user may message.
type Contact struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	Avatar      string   `json:"avatar"`
	UnreadCount int      `json:"unread_count"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// Matches reports whether the contact's name or role contains term, ignoring case.
// An empty term matches everything.
func (c *Contact) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Name), term) ||
		strings.Contains(strings.ToLower(string(c.Role)), term)
}

// Initial returns the upper-cased first letter of the name, used when there is no avatar.
func (c *Contact) Initial() string {
	for _, r := range c.Name {
		return strings.ToUpper(string(r))
	}
	return "?"
}

// ContactFromUser builds a contact without unread or last-message data.
func ContactFromUser(u User) Contact {
	return Contact{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
		Avatar: u.Avatar,
	}
}
