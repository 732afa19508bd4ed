package sqlite

import (
	"context"
	"sync"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
)

// hub fans database change events out to subscribers in-process. Delivery is
// at-least-once in spirit: a slow consumer's events are dropped rather than
// blocking the writer, and the engine's resync path covers the gap.
type hub struct {
	mu     sync.Mutex
	subs   map[string][]*subscription // keyed by conversation id
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[string][]*subscription)}
}

func (h *hub) subscribe(conversationID string) *subscription {
	sub := &subscription{
		hub:            h,
		conversationID: conversationID,
		events:         make(chan chat.Event, 64),
	}
	h.mu.Lock()
	h.subs[conversationID] = append(h.subs[conversationID], sub)
	h.mu.Unlock()
	return sub
}

func (h *hub) publish(conversationID string, ev chat.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[conversationID] {
		select {
		case sub.events <- ev:
		default:
			// Drop if slow consumer.
		}
	}
}

// publishAll delivers status events to every subscriber regardless of
// conversation; presence is not conversation-scoped.
func (h *hub) publishAll(ev chat.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for _, sub := range subs {
			select {
			case sub.events <- ev:
			default:
			}
		}
	}
}

func (h *hub) drop(target *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[target.conversationID]
	for i, sub := range subs {
		if sub == target {
			h.subs[target.conversationID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subs {
		for _, sub := range subs {
			sub.closeOnce.Do(func() { close(sub.events) })
		}
	}
	h.subs = make(map[string][]*subscription)
}

type subscription struct {
	hub            *hub
	conversationID string
	events         chan chat.Event
	closeOnce      sync.Once
}

func (s *subscription) Events() <-chan chat.Event { return s.events }

// Err is always nil for the in-process stream: the channel only closes on an
// explicit Close or backend shutdown.
func (s *subscription) Err() error { return nil }

func (s *subscription) Close() error {
	s.hub.drop(s)
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

// Subscribe opens a stream of events for the conversation.
func (b *SQLiteBackend) Subscribe(ctx context.Context, conversationID string) (backend.Subscription, error) {
	return b.hub.subscribe(conversationID), nil
}

// Channel hands out a handle on the named ephemeral membership channel. Each
// handle retracts only its own membership; the underlying channel state is
// shared by every caller that asks for the same name.
func (b *SQLiteBackend) Channel(name string) backend.MembershipChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	core, ok := b.channels[name]
	if !ok {
		core = newMembershipCore()
		b.channels[name] = core
	}
	return &memberHandle{core: core}
}

// membershipCore is an in-process ephemeral membership broadcast. Nothing is
// persisted; membership vanishes with the process.
type membershipCore struct {
	mu       sync.Mutex
	members  map[string]struct{}
	watchers map[chan backend.MembershipEvent]struct{}
}

func newMembershipCore() *membershipCore {
	return &membershipCore{
		members:  make(map[string]struct{}),
		watchers: make(map[chan backend.MembershipEvent]struct{}),
	}
}

// memberHandle is one session's view of a shared channel. Untrack retracts
// only the user this handle tracked, mirroring a per-connection channel
// object on a hosted backend.
type memberHandle struct {
	core *membershipCore

	mu     sync.Mutex
	userID string
}

func (h *memberHandle) Track(ctx context.Context, userID string) error {
	h.mu.Lock()
	h.userID = userID
	h.mu.Unlock()
	h.core.join(userID)
	return nil
}

func (h *memberHandle) Untrack(ctx context.Context) error {
	h.mu.Lock()
	userID := h.userID
	h.userID = ""
	h.mu.Unlock()
	if userID != "" {
		h.core.leave(userID)
	}
	return nil
}

func (h *memberHandle) Watch(ctx context.Context) (<-chan backend.MembershipEvent, func(), error) {
	return h.core.watch(ctx)
}

func (c *membershipCore) join(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[userID]; ok {
		return
	}
	c.members[userID] = struct{}{}
	c.broadcast(backend.MembershipEvent{Kind: backend.MemberJoin, UserID: userID})
}

func (c *membershipCore) leave(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[userID]; !ok {
		return
	}
	delete(c.members, userID)
	c.broadcast(backend.MembershipEvent{Kind: backend.MemberLeave, UserID: userID})
}

func (c *membershipCore) watch(ctx context.Context) (<-chan backend.MembershipEvent, func(), error) {
	events := make(chan backend.MembershipEvent, 16)

	c.mu.Lock()
	c.watchers[events] = struct{}{}
	members := make([]string, 0, len(c.members))
	for u := range c.members {
		members = append(members, u)
	}
	c.mu.Unlock()

	// Initial sync so the watcher starts from full membership.
	events <- backend.MembershipEvent{Kind: backend.MemberSync, Members: members}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, events)
			c.mu.Unlock()
			close(events)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return events, cancel, nil
}

// broadcast runs with c.mu held.
func (c *membershipCore) broadcast(ev backend.MembershipEvent) {
	for w := range c.watchers {
		select {
		case w <- ev:
		default:
		}
	}
}
