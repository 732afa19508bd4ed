package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

const convID = "00000000-0000-0000-0000-000000000001"

// fakeSub is a hand-fed notification stream.
type fakeSub struct {
	events chan chat.Event
	err    error
	once   sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan chat.Event, 16)}
}

func (s *fakeSub) Events() <-chan chat.Event { return s.events }
func (s *fakeSub) Err() error                { return s.err }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

// fail closes the stream with a terminal error, as a dropped channel would.
func (s *fakeSub) fail(err error) {
	s.err = err
	s.once.Do(func() { close(s.events) })
}

// fakeBackend is an in-memory Persister plus Notifier. Rows mutate under a
// lock so tests can reshape the authoritative set between reconnects.
type fakeBackend struct {
	mu   sync.Mutex
	rows []*chat.Message
	subs []*fakeSub
}

func (b *fakeBackend) EnsureConversation(ctx context.Context, conversationID, createdBy string) error {
	return nil
}

func (b *fakeBackend) Insert(ctx context.Context, msg *chat.Message) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, msg.Clone())
	return msg.ID, nil
}

func (b *fakeBackend) Update(ctx context.Context, id string, fields backend.Partial) error {
	return nil
}

func (b *fakeBackend) Query(ctx context.Context, conversationID string, f backend.Filter) ([]*chat.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*chat.Message, 0, len(b.rows))
	for _, m := range b.rows {
		if m.Deleted() {
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (b *fakeBackend) Subscribe(ctx context.Context, conversationID string) (backend.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := newFakeSub()
	b.subs = append(b.subs, s)
	return s, nil
}

func (b *fakeBackend) setRows(rows []*chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = rows
}

func (b *fakeBackend) currentSub() *fakeSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return nil
	}
	return b.subs[len(b.subs)-1]
}

func (b *fakeBackend) subscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// startController runs a controller against the fake backend and blocks until
// the first full sync completes.
func startController(t *testing.T, be *fakeBackend, sink StatusSink) (*Controller, context.CancelFunc) {
	t.Helper()
	logger := log.Nop()
	c := New(convID, be, be, sink, logger)
	c.SetReconnectDelay(25 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	waitState(t, c, StateSynced)
	return c, cancel
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if c.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %s, want %s", c.State(), want)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// waitSnapshot polls until check accepts the rendered snapshot.
func waitSnapshot(t *testing.T, c *Controller, check func([]*chat.Message) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap, err := c.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if check(snap) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("snapshot never reached expected shape, last: %d messages", len(snap))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testMsg(id, content string, at time.Time) *chat.Message {
	return &chat.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "alice",
		Content:        content,
		Kind:           chat.KindText,
		CreatedAt:      at,
		Revision:       1,
	}
}

func created(m *chat.Message) chat.Event {
	return chat.Event{Kind: chat.EventCreated, Message: m}
}

func mutated(m *chat.Message) chat.Event {
	return chat.Event{Kind: chat.EventMutated, Message: m}
}
