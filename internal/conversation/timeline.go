package conversation

import (
	"time"

	"github.com/rpms-portal/messaging/internal/model"
)

// Entry is one row of a rendered thread: either a day separator or a message.
type Entry struct {
	// Day is set on separators, at local midnight.
	Day     time.Time
	Message *model.Message
	// ReplyTo is the quoted message when it is present in the same thread.
	ReplyTo *model.Message
}

// IsSeparator reports whether the entry starts a new calendar day.
func (e Entry) IsSeparator() bool {
	return e.Message == nil
}

// Timeline inserts a separator before the first message of each calendar
// day in loc and resolves reply references within msgs. A nil loc means
// time.Local.
func Timeline(msgs []model.Message, loc *time.Location) []Entry {
	if loc == nil {
		loc = time.Local
	}
	byID := make(map[string]*model.Message, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
	}

	entries := make([]Entry, 0, len(msgs)+1)
	var lastDay time.Time
	for i := range msgs {
		msg := &msgs[i]
		day := startOfDay(msg.CreatedAt.In(loc))
		if i == 0 || !day.Equal(lastDay) {
			entries = append(entries, Entry{Day: day})
			lastDay = day
		}
		entry := Entry{Message: msg}
		if msg.IsReply() {
			entry.ReplyTo = byID[*msg.ReplyToMessageID]
		}
		entries = append(entries, entry)
	}
	return entries
}

// DayLabel formats a separator relative to now: "Today", "Yesterday", or a date.
func DayLabel(day, now time.Time) string {
	today := startOfDay(now.In(day.Location()))
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case day.Year() == today.Year():
		return day.Format("Mon, Jan 2")
	default:
		return day.Format("Jan 2, 2006")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
