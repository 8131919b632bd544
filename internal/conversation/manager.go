// Package conversation owns the contact list and the active thread, and keeps
// both current by polling the chat service.
package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpms-portal/messaging/internal/chat"
	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/pkg/logger"
	"github.com/rpms-portal/messaging/pkg/metrics"
)

const (
	DefaultMessageInterval = 3 * time.Second
	DefaultContactInterval = 10 * time.Second
	DefaultUnreadInterval  = 10 * time.Second
)

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("conversation manager is closed")

// State is the lifecycle of the active thread.
type State int

const (
	// StateIdle means no contact is selected.
	StateIdle State = iota
	// StateLoading means the first fetch for the selected contact is in flight.
	StateLoading
	// StateActive means the thread is populated and being polled.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// EventType identifies what changed.
type EventType string

const (
	EventState    EventType = "state"
	EventThread   EventType = "thread"
	EventContacts EventType = "contacts"
	EventUnread   EventType = "unread"
	EventError    EventType = "error"
)

// Event is delivered to the observer after a change is applied.
type Event struct {
	Type      EventType
	ContactID string
	Err       error
}

// Snapshot is a copy of the manager's state.
type Snapshot struct {
	State     State
	ContactID string
	Messages  []model.Message
	Contacts  []model.Contact
	Unread    int
}

// Option configures a Manager.
type Option func(*Manager)

// WithMessageInterval sets the active thread polling interval.
func WithMessageInterval(d time.Duration) Option {
	return func(m *Manager) { m.messageInterval = d }
}

// WithContactInterval sets the contact list polling interval.
func WithContactInterval(d time.Duration) Option {
	return func(m *Manager) { m.contactInterval = d }
}

// WithUnreadInterval sets the aggregate unread count polling interval.
func WithUnreadInterval(d time.Duration) Option {
	return func(m *Manager) { m.unreadInterval = d }
}

// WithObserver registers a callback invoked after every applied change.
// It runs on the goroutine that applied the change, without locks held.
func WithObserver(fn func(Event)) Option {
	return func(m *Manager) { m.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.logger = log }
}

// Manager holds the contact list and the message list of the active contact.
// It is the only writer of both.
type Manager struct {
	api             chat.API
	logger          *logger.Logger
	observer        func(Event)
	messageInterval time.Duration
	contactInterval time.Duration
	unreadInterval  time.Duration

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	state      State
	active     string
	messages   []model.Message
	local      []localMessage
	contacts   []model.Contact
	unread     int
	lastErr    error
	gen        uint64
	seq        uint64
	applied    uint64
	contactSeq uint64
	contactApp uint64
	unreadSeq  uint64
	unreadApp  uint64
	stopThread context.CancelFunc
	stopView   context.CancelFunc
}

// localMessage is a sent message appended before the server listed it.
// afterSeq is the fetch sequence current at append time; fetches issued
// later are authoritative for it.
type localMessage struct {
	msg      model.Message
	afterSeq uint64
}

// New creates a manager in the Idle state.
func New(api chat.API, opts ...Option) *Manager {
	root, cancel := context.WithCancel(context.Background())
	m := &Manager{
		api:             api,
		logger:          logger.Nop(),
		messageInterval: DefaultMessageInterval,
		contactInterval: DefaultContactInterval,
		unreadInterval:  DefaultUnreadInterval,
		root:            root,
		rootCancel:      cancel,
		contacts:        []model.Contact{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start loads contacts and the unread count, then keeps refreshing them
// until ctx is done or Close is called. The returned error is the first
// load failure; polling starts either way.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.stopView != nil {
		m.mu.Unlock()
		return nil
	}
	viewCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.root, cancel)
	m.stopView = func() {
		stop()
		cancel()
	}
	m.mu.Unlock()

	err := m.RefreshContacts(viewCtx)
	if uerr := m.RefreshUnread(viewCtx); err == nil {
		err = uerr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.every(viewCtx, m.contactInterval, func(ctx context.Context) { m.RefreshContacts(ctx) })
		m.every(viewCtx, m.unreadInterval, func(ctx context.Context) { m.RefreshUnread(ctx) })
	}
	return err
}

// Select makes contactID the active contact. The previous thread and its
// poller are discarded, the new thread is fetched, and polling starts.
// If the first fetch fails the thread is empty and the error is returned.
func (m *Manager) Select(ctx context.Context, contactID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.resetThreadLocked()
	m.active = contactID
	m.state = StateLoading
	gen := m.gen
	threadCtx, cancel := context.WithCancel(m.root)
	m.stopThread = cancel
	m.mu.Unlock()

	m.logger.Debug("contact selected", zap.String("contact_id", contactID))
	m.emit(Event{Type: EventState, ContactID: contactID})

	fetchCtx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(threadCtx, stop)
	defer unregister()

	err := m.fetchThread(fetchCtx, gen, contactID, true)

	m.mu.Lock()
	if !m.closed && m.gen == gen {
		m.every(threadCtx, m.messageInterval, func(ctx context.Context) {
			m.fetchThread(ctx, gen, contactID, false)
		})
	}
	m.mu.Unlock()
	return err
}

// Deselect returns to Idle and stops polling the previous contact.
func (m *Manager) Deselect() {
	m.mu.Lock()
	if m.state == StateIdle && m.active == "" {
		m.mu.Unlock()
		return
	}
	m.resetThreadLocked()
	m.mu.Unlock()
	m.emit(Event{Type: EventState})
}

// resetThreadLocked cancels the thread poller and clears the thread.
func (m *Manager) resetThreadLocked() {
	if m.stopThread != nil {
		m.stopThread()
		m.stopThread = nil
	}
	m.gen++
	m.applied = 0
	m.state = StateIdle
	m.active = ""
	m.messages = nil
	m.local = nil
}

// RefreshMessages fetches the active thread once. It is a no-op when Idle.
func (m *Manager) RefreshMessages(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	gen, contactID := m.gen, m.active
	m.mu.Unlock()
	return m.fetchThread(ctx, gen, contactID, false)
}

// fetchThread loads a thread and applies it if it is still the newest
// response for the current selection.
func (m *Manager) fetchThread(ctx context.Context, gen uint64, contactID string, first bool) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	msgs, err := m.api.ListMessages(ctx, contactID)

	m.mu.Lock()
	if m.gen != gen || seq <= m.applied {
		m.mu.Unlock()
		metrics.RecordPoll("thread", "stale")
		return nil
	}
	if err != nil {
		if first {
			m.messages = []model.Message{}
			m.state = StateActive
		}
		m.lastErr = err
		m.mu.Unlock()

		metrics.RecordPoll("thread", "error")
		m.logger.Warn("failed to fetch messages", zap.String("contact_id", contactID), zap.Error(err))
		if first {
			m.emit(Event{Type: EventState, ContactID: contactID})
		}
		m.emit(Event{Type: EventError, ContactID: contactID, Err: err})
		return err
	}
	m.messages = m.mergeLocalLocked(msgs, seq)
	m.applied = seq
	m.state = StateActive
	m.mu.Unlock()

	metrics.RecordPoll("thread", "applied")
	if first {
		m.emit(Event{Type: EventState, ContactID: contactID})
	}
	m.emit(Event{Type: EventThread, ContactID: contactID})
	return nil
}

// mergeLocalLocked keeps locally appended messages that the fetch with
// sequence seq could not have seen.
func (m *Manager) mergeLocalLocked(msgs []model.Message, seq uint64) []model.Message {
	if len(m.local) == 0 {
		return msgs
	}
	present := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		present[msg.ID] = struct{}{}
	}
	kept := m.local[:0]
	added := false
	for _, l := range m.local {
		if seq > l.afterSeq {
			continue
		}
		kept = append(kept, l)
		if _, ok := present[l.msg.ID]; !ok {
			msgs = append(msgs, l.msg)
			added = true
		}
	}
	m.local = kept
	if added {
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})
	}
	return msgs
}

// AppendSent records a message the current user just sent: it is appended
// to the active thread when it belongs there, and becomes the receiver's
// last-message preview.
func (m *Manager) AppendSent(msg model.Message) {
	m.mu.Lock()
	threadChanged := false
	if m.state != StateIdle && msg.ReceiverID == m.active && !containsMessage(m.messages, msg.ID) {
		m.messages = append(m.messages, msg)
		m.local = append(m.local, localMessage{msg: msg, afterSeq: m.seq})
		threadChanged = true
	}
	contactsChanged := false
	for i := range m.contacts {
		if m.contacts[i].ID == msg.ReceiverID {
			last := msg
			m.contacts[i].LastMessage = &last
			contactsChanged = true
			break
		}
	}
	m.mu.Unlock()

	if threadChanged {
		m.emit(Event{Type: EventThread, ContactID: msg.ReceiverID})
	}
	if contactsChanged {
		m.emit(Event{Type: EventContacts})
	}
}

// RefreshContacts reloads the contact list. On failure the previous list is kept.
func (m *Manager) RefreshContacts(ctx context.Context) error {
	m.mu.Lock()
	m.contactSeq++
	seq := m.contactSeq
	m.mu.Unlock()

	contacts, err := m.api.ListContacts(ctx)

	m.mu.Lock()
	if seq <= m.contactApp {
		m.mu.Unlock()
		metrics.RecordPoll("contacts", "stale")
		return nil
	}
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		metrics.RecordPoll("contacts", "error")
		m.logger.Warn("failed to fetch contacts", zap.Error(err))
		m.emit(Event{Type: EventError, Err: err})
		return err
	}
	m.contacts = contacts
	m.contactApp = seq
	m.mu.Unlock()

	metrics.RecordPoll("contacts", "applied")
	m.emit(Event{Type: EventContacts})
	return nil
}

// RefreshUnread reloads the aggregate unread count.
// Responses older than the last applied one are dropped.
func (m *Manager) RefreshUnread(ctx context.Context) error {
	m.mu.Lock()
	m.unreadSeq++
	seq := m.unreadSeq
	m.mu.Unlock()

	count, err := m.api.UnreadCount(ctx)

	m.mu.Lock()
	if seq <= m.unreadApp {
		m.mu.Unlock()
		metrics.RecordPoll("unread", "stale")
		return nil
	}
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		metrics.RecordPoll("unread", "error")
		m.logger.Warn("failed to fetch unread count", zap.Error(err))
		m.emit(Event{Type: EventError, Err: err})
		return err
	}
	changed := m.unread != count
	m.unread = count
	m.unreadApp = seq
	m.mu.Unlock()

	metrics.RecordPoll("unread", "applied")
	if changed {
		m.emit(Event{Type: EventUnread})
	}
	return nil
}

// Close stops every poller and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.stopThread != nil {
		m.stopThread()
	}
	if m.stopView != nil {
		m.stopView()
	}
	m.rootCancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// every runs fn on each tick until ctx is done. Callers hold m.mu.
func (m *Manager) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (m *Manager) emit(ev Event) {
	if m.observer != nil {
		m.observer(ev)
	}
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:     m.state,
		ContactID: m.active,
		Messages:  cloneMessages(m.messages),
		Contacts:  cloneContacts(m.contacts),
		Unread:    m.unread,
	}
}

// State returns the thread state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveContact returns the selected contact id, if any.
func (m *Manager) ActiveContact() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.state != StateIdle
}

// Contact looks up a contact in the current list.
func (m *Manager) Contact(id string) (model.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.ID == id {
			return c, true
		}
	}
	return model.Contact{}, false
}

// Message looks up a message in the loaded thread.
func (m *Manager) Message(id string) (model.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return model.Message{}, false
}

// Contacts returns the contacts whose name or role matches filter.
func (m *Manager) Contacts(filter string) []model.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		if c.Matches(filter) {
			out = append(out, c)
		}
	}
	return out
}

// LastError returns the most recent fetch failure, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func containsMessage(msgs []model.Message, id string) bool {
	for _, msg := range msgs {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func cloneMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	return append(make([]model.Message, 0, len(msgs)), msgs...)
}

func cloneContacts(contacts []model.Contact) []model.Contact {
	return append([]model.Contact{}, contacts...)
}
