package conversation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpms-portal/messaging/internal/chat/chattest"
	"github.com/rpms-portal/messaging/internal/model"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func msg(id, from, to string, offset time.Duration) model.Message {
	return model.Message{ID: id, SenderID: from, ReceiverID: to, Content: id, CreatedAt: t0.Add(offset)}
}

// quiet disables polling so tests drive refreshes explicitly.
func quiet() []Option {
	return []Option{WithMessageInterval(time.Hour), WithContactInterval(time.Hour), WithUnreadInterval(time.Hour)}
}

func ids(msgs []model.Message) string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return strings.Join(out, ",")
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSelect_LoadsThreadOldestFirst(t *testing.T) {
	api := chattest.New("me")
	api.SetThread("e1", msg("m2", "e1", "me", time.Minute), msg("m1", "me", "e1", 0))
	m := New(api, quiet()...)
	defer m.Close()

	if m.State() != StateIdle {
		t.Fatalf("initial state = %v", m.State())
	}
	if err := m.Select(context.Background(), "e1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateActive || snap.ContactID != "e1" {
		t.Errorf("snapshot = %v %q", snap.State, snap.ContactID)
	}
	if got := ids(snap.Messages); got != "m1,m2" {
		t.Errorf("messages = %s, want m1,m2", got)
	}
}

func TestSelect_FirstLoadFailureLeavesEmptyActiveThread(t *testing.T) {
	api := chattest.New("me")
	boom := errors.New("boom")
	api.ListMessagesFunc = func(ctx context.Context, contactID string) ([]model.Message, error) {
		return nil, boom
	}
	var sawError bool
	m := New(api, append(quiet(), WithObserver(func(ev Event) {
		if ev.Type == EventError {
			sawError = true
		}
	}))...)
	defer m.Close()

	if err := m.Select(context.Background(), "e1"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	snap := m.Snapshot()
	if snap.State != StateActive {
		t.Errorf("state = %v, want active", snap.State)
	}
	if snap.Messages == nil || len(snap.Messages) != 0 {
		t.Errorf("messages = %#v, want empty", snap.Messages)
	}
	if !errors.Is(m.LastError(), boom) || !sawError {
		t.Errorf("error not surfaced: last=%v observed=%v", m.LastError(), sawError)
	}
}

func TestSelect_ReselectRefetches(t *testing.T) {
	api := chattest.New("me")
	api.SetThread("a", msg("a1", "a", "me", 0))
	api.SetThread("b", msg("b1", "b", "me", 0))
	m := New(api, quiet()...)
	defer m.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "a"} {
		if err := m.Select(ctx, id); err != nil {
			t.Fatalf("Select(%s): %v", id, err)
		}
	}
	if n := api.Calls("ListMessages:a"); n != 2 {
		t.Errorf("ListMessages(a) calls = %d, want 2", n)
	}
	if got := ids(m.Snapshot().Messages); got != "a1" {
		t.Errorf("messages = %s, want a1", got)
	}
}

func TestSelect_SlowPreviousContactIsDiscarded(t *testing.T) {
	api := chattest.New("me")
	api.SetThread("b", msg("b1", "b", "me", 0))
	started := make(chan struct{})
	release := make(chan struct{})
	api.ListMessagesFunc = func(ctx context.Context, contactID string) ([]model.Message, error) {
		if contactID == "a" {
			close(started)
			<-release
			return []model.Message{msg("a1", "a", "me", 0)}, nil
		}
		return []model.Message{msg("b1", "b", "me", 0)}, nil
	}
	m := New(api, quiet()...)
	defer m.Close()

	done := make(chan error, 1)
	go func() { done <- m.Select(context.Background(), "a") }()
	<-started

	if err := m.Select(context.Background(), "b"); err != nil {
		t.Fatalf("Select(b): %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Select(a): %v", err)
	}

	snap := m.Snapshot()
	if snap.ContactID != "b" || ids(snap.Messages) != "b1" {
		t.Errorf("snapshot = %q %s, want b b1", snap.ContactID, ids(snap.Messages))
	}
}

func TestRefreshMessages_OlderResponseDoesNotOverwriteNewer(t *testing.T) {
	api := chattest.New("me")
	var calls int
	started := make(chan struct{})
	release := make(chan struct{})
	api.ListMessagesFunc = func(ctx context.Context, contactID string) ([]model.Message, error) {
		calls++
		switch calls {
		case 1:
			return []model.Message{msg("m1", "e1", "me", 0)}, nil
		case 2:
			close(started)
			<-release
			return []model.Message{msg("m1", "e1", "me", 0)}, nil
		default:
			return []model.Message{msg("m1", "e1", "me", 0), msg("m2", "e1", "me", time.Minute)}, nil
		}
	}
	m := New(api, quiet()...)
	defer m.Close()

	ctx := context.Background()
	if err := m.Select(ctx, "e1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.RefreshMessages(ctx) }()
	<-started
	if err := m.RefreshMessages(ctx); err != nil {
		t.Fatalf("RefreshMessages: %v", err)
	}
	close(release)
	<-done

	if got := ids(m.Snapshot().Messages); got != "m1,m2" {
		t.Errorf("messages = %s, want m1,m2", got)
	}
}

func TestRefreshUnread_OlderResponseDoesNotOverwriteNewer(t *testing.T) {
	api := chattest.New("me")
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	api.UnreadFunc = func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return 5, nil
		}
		return 2, nil
	}
	m := New(api, quiet()...)
	defer m.Close()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- m.RefreshUnread(ctx) }()
	<-started
	if err := m.RefreshUnread(ctx); err != nil {
		t.Fatalf("RefreshUnread: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("slow RefreshUnread: %v", err)
	}

	if got := m.Snapshot().Unread; got != 2 {
		t.Errorf("unread = %d, want 2 from the newer response", got)
	}
}

func TestAppendSent_SurvivesInFlightPoll(t *testing.T) {
	api := chattest.New("me")
	api.SetContacts(model.Contact{ID: "e1", Name: "Eve", Role: model.RoleEditor})
	var calls int
	started := make(chan struct{})
	release := make(chan struct{})
	sent := msg("s1", "me", "e1", time.Minute)
	api.ListMessagesFunc = func(ctx context.Context, contactID string) ([]model.Message, error) {
		calls++
		switch calls {
		case 1:
			return []model.Message{msg("m1", "e1", "me", 0)}, nil
		case 2:
			close(started)
			<-release
			return []model.Message{msg("m1", "e1", "me", 0)}, nil
		default:
			return []model.Message{msg("m1", "e1", "me", 0), sent}, nil
		}
	}
	m := New(api, quiet()...)
	defer m.Close()

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Select(ctx, "e1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.RefreshMessages(ctx) }()
	<-started
	m.AppendSent(sent)
	m.AppendSent(sent)
	close(release)
	<-done

	if got := ids(m.Snapshot().Messages); got != "m1,s1" {
		t.Fatalf("after in-flight poll = %s, want m1,s1", got)
	}
	if err := m.RefreshMessages(ctx); err != nil {
		t.Fatalf("RefreshMessages: %v", err)
	}
	if got := ids(m.Snapshot().Messages); got != "m1,s1" {
		t.Errorf("after fresh poll = %s, want m1,s1", got)
	}

	c, ok := m.Contact("e1")
	if !ok || c.LastMessage == nil || c.LastMessage.ID != "s1" {
		t.Errorf("contact last message = %+v", c.LastMessage)
	}
}

func TestAppendSent_OtherContactOnlyUpdatesPreview(t *testing.T) {
	api := chattest.New("me")
	api.SetContacts(model.Contact{ID: "e1"}, model.Contact{ID: "c1"})
	api.SetThread("e1", msg("m1", "e1", "me", 0))
	m := New(api, quiet()...)
	defer m.Close()

	ctx := context.Background()
	m.Start(ctx)
	m.Select(ctx, "e1")
	m.AppendSent(msg("f1", "me", "c1", time.Minute))

	if got := ids(m.Snapshot().Messages); got != "m1" {
		t.Errorf("active thread = %s, want m1", got)
	}
	c, _ := m.Contact("c1")
	if c.LastMessage == nil || c.LastMessage.ID != "f1" {
		t.Errorf("c1 last message = %+v", c.LastMessage)
	}
}

func TestPolling_PicksUpNewMessagesAndStopsOnClose(t *testing.T) {
	api := chattest.New("me")
	api.SetThread("e1", msg("m1", "e1", "me", 0))
	api.SetUnread(1)
	m := New(api,
		WithMessageInterval(10*time.Millisecond),
		WithContactInterval(10*time.Millisecond),
		WithUnreadInterval(10*time.Millisecond),
	)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Select(ctx, "e1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	api.SetThread("e1", msg("m1", "e1", "me", 0), msg("m2", "e1", "me", time.Minute))
	api.SetUnread(4)
	eventually(t, func() bool {
		snap := m.Snapshot()
		return ids(snap.Messages) == "m1,m2" && snap.Unread == 4
	})

	m.Close()
	before := api.Calls("ListMessages") + api.Calls("ListContacts") + api.Calls("UnreadCount")
	time.Sleep(50 * time.Millisecond)
	after := api.Calls("ListMessages") + api.Calls("ListContacts") + api.Calls("UnreadCount")
	if before != after {
		t.Errorf("pollers still running after Close: %d -> %d calls", before, after)
	}
	if err := m.Select(ctx, "e1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Select after Close = %v, want ErrClosed", err)
	}
}

func TestDeselect_StopsThreadPolling(t *testing.T) {
	api := chattest.New("me")
	m := New(api, WithMessageInterval(5*time.Millisecond), WithContactInterval(time.Hour), WithUnreadInterval(time.Hour))
	defer m.Close()

	if err := m.Select(context.Background(), "e1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	eventually(t, func() bool { return api.Calls("ListMessages:e1") >= 3 })

	m.Deselect()
	if _, ok := m.ActiveContact(); ok {
		t.Error("contact still active after Deselect")
	}
	// Allow a tick that was already in flight to finish.
	time.Sleep(20 * time.Millisecond)
	before := api.Calls("ListMessages:e1")
	time.Sleep(50 * time.Millisecond)
	if after := api.Calls("ListMessages:e1"); after != before {
		t.Errorf("thread poller still running: %d -> %d", before, after)
	}
	if snap := m.Snapshot(); snap.State != StateIdle || snap.Messages != nil {
		t.Errorf("snapshot after Deselect = %+v", snap)
	}
}

func TestContacts_Filter(t *testing.T) {
	api := chattest.New("me")
	api.SetContacts(
		model.Contact{ID: "e1", Name: "Eve Editor", Role: model.RoleEditor},
		model.Contact{ID: "c1", Name: "Carl", Role: model.RoleCoordinator},
	)
	m := New(api, quiet()...)
	defer m.Close()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tests := []struct {
		filter string
		want   int
	}{
		{"", 2},
		{"carl", 1},
		{"COORD", 1},
		{"edit", 1},
		{"zzz", 0},
	}
	for _, tt := range tests {
		if got := len(m.Contacts(tt.filter)); got != tt.want {
			t.Errorf("Contacts(%q) = %d, want %d", tt.filter, got, tt.want)
		}
	}
}
