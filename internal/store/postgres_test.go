package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpms-portal/messaging/internal/model"
)

// openTestPostgres connects to DATABASE_URL, skipping when it is unset.
// Users created through the returned id func are removed after the test,
// along with their messages.
func openTestPostgres(t *testing.T) (*Postgres, func(string) string) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	if err := p.AutoMigrate(ctx); err != nil {
		p.Close()
		t.Fatalf("AutoMigrate: %v", err)
	}

	run := uuid.NewString()[:8]
	var created []string
	t.Cleanup(func() {
		for _, id := range created {
			p.db.ExecContext(context.Background(), "DELETE FROM users WHERE id = $1", id)
		}
		p.Close()
	})
	return p, func(name string) string {
		id := run + "-" + name
		created = append(created, id)
		return id
	}
}

func TestPostgres_ConversationReadState(t *testing.T) {
	p, id := openTestPostgres(t)
	ctx := context.Background()

	ann, eve, carl := id("ann"), id("eve"), id("carl")
	for _, u := range []model.User{
		{ID: ann, Name: "Ann", Role: model.RoleAuthor},
		{ID: eve, Name: "Eve", Role: model.RoleEditor},
		{ID: carl, Name: "Carl", Role: model.RoleCoordinator},
	} {
		if err := p.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser %s: %v", u.ID, err)
		}
	}

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	first := uuid.NewString()
	msgs := []model.Message{
		{ID: first, SenderID: ann, ReceiverID: eve, Content: "draft attached", CreatedAt: t0,
			Attachment: &model.Attachment{URL: "http://f/1.pdf", Name: "paper.pdf", Type: "application/pdf", Size: 2048}},
		{ID: uuid.NewString(), SenderID: eve, ReceiverID: ann, Content: "thanks", CreatedAt: t0.Add(time.Minute), ReplyToMessageID: &first},
		{ID: uuid.NewString(), SenderID: eve, ReceiverID: ann, Content: "one more", CreatedAt: t0.Add(2 * time.Minute), IsForwarded: true},
		{ID: uuid.NewString(), SenderID: carl, ReceiverID: ann, Content: "other thread", CreatedAt: t0},
	}
	for i := range msgs {
		if err := p.CreateMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("CreateMessage %d: %v", i, err)
		}
	}

	conv, err := p.Conversation(ctx, eve, ann)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(conv) != 3 || conv[0].ID != first || conv[2].ID != msgs[2].ID {
		t.Fatalf("conversation = %+v", conv)
	}
	if att := conv[0].Attachment; att == nil || att.Name != "paper.pdf" || att.Size != 2048 {
		t.Errorf("attachment = %+v", att)
	}
	if !conv[1].IsReply() || *conv[1].ReplyToMessageID != first || !conv[2].IsForwarded {
		t.Errorf("reply/forward flags lost: %+v", conv[1:])
	}
	if !conv[0].CreatedAt.Equal(t0) {
		t.Errorf("created_at = %v, want %v", conv[0].CreatedAt, t0)
	}

	if n, _ := p.UnreadCount(ctx, "", ann); n != 3 {
		t.Errorf("total unread = %d, want 3", n)
	}
	if n, _ := p.UnreadCount(ctx, eve, ann); n != 2 {
		t.Errorf("unread from eve = %d, want 2", n)
	}
	marked, err := p.MarkRead(ctx, eve, ann)
	if err != nil || marked != 2 {
		t.Fatalf("MarkRead = %d, %v; want 2", marked, err)
	}
	if again, _ := p.MarkRead(ctx, eve, ann); again != 0 {
		t.Errorf("second MarkRead = %d, want 0", again)
	}
	if n, _ := p.UnreadCount(ctx, eve, ann); n != 0 {
		t.Errorf("unread from eve after read = %d", n)
	}
	if n, _ := p.UnreadCount(ctx, "", ann); n != 1 {
		t.Errorf("total unread after read = %d, want 1", n)
	}
	if n, _ := p.UnreadCount(ctx, "", eve); n != 1 {
		t.Errorf("eve unread = %d, want 1 (reading is one-sided)", n)
	}

	last, err := p.LastMessage(ctx, ann, eve)
	if err != nil || last.ID != msgs[2].ID || !last.IsRead {
		t.Errorf("last = %+v, %v", last, err)
	}
	if _, err := p.LastMessage(ctx, ann, id("nobody")); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_Users(t *testing.T) {
	p, id := openTestPostgres(t)
	ctx := context.Background()

	ed := id("ed")
	if err := p.UpsertUser(ctx, model.User{ID: ed, Name: "Ed", Role: model.RoleAuthor}); err != nil {
		t.Fatal(err)
	}
	if err := p.UpsertUser(ctx, model.User{ID: ed, Name: "Ed Editor", Role: model.RoleEditor}); err != nil {
		t.Fatal(err)
	}
	u, err := p.GetUser(ctx, ed)
	if err != nil || u.Name != "Ed Editor" || u.Role != model.RoleEditor {
		t.Errorf("user = %+v, %v", u, err)
	}
	if _, err := p.GetUser(ctx, id("ghost")); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := p.GetMessage(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	users, err := p.ListUsersByRoles(ctx, []model.Role{model.RoleEditor}, "")
	if err != nil {
		t.Fatalf("ListUsersByRoles: %v", err)
	}
	found := false
	for _, u := range users {
		found = found || u.ID == ed
	}
	if !found {
		t.Errorf("editor %s missing from %+v", ed, users)
	}
	excluded, _ := p.ListUsersByRoles(ctx, []model.Role{model.RoleEditor}, ed)
	for _, u := range excluded {
		if u.ID == ed {
			t.Error("excluded user listed")
		}
	}
}
