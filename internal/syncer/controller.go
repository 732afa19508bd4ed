// Package syncer maintains a deduplicated, order-correct projection of one
// conversation's message set from an at-least-once, unordered notification
// stream. A single Run loop serializes every mutation source against the
// message store: backend events, outbox confirmations and rollbacks, and
// local read-receipt/reaction calls all funnel through it.
package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

// Reconnection pacing. Correctness does not depend on it; every reconnect
// forces a full resync before incremental mode resumes.
const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// StatusSink receives presence records forwarded off the shared notification
// channel, so the presence tracker does not need its own subscription.
type StatusSink func(chat.PresenceRecord)

// Controller owns the message store for a single conversation.
type Controller struct {
	conversationID string
	st             *store.Store
	persister      backend.Persister
	notifier       backend.Notifier
	statusSink     StatusSink
	log            *zerolog.Logger

	apply         chan func()
	state         atomic.Int32
	changed       chan struct{}
	reconnectBase time.Duration
}

// New constructs a controller for the given conversation. statusSink may be
// nil when nothing consumes presence updates.
func New(conversationID string, persister backend.Persister, notifier backend.Notifier, statusSink StatusSink, logger *zerolog.Logger) *Controller {
	c := &Controller{
		conversationID: conversationID,
		st:             store.New(),
		persister:      persister,
		notifier:       notifier,
		statusSink:     statusSink,
		log:            logger,
		apply:          make(chan func()),
		changed:        make(chan struct{}, 1),
		reconnectBase:  reconnectBaseDelay,
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// SetReconnectDelay overrides the base redial delay. Must be called before
// Run starts.
func (c *Controller) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		c.reconnectBase = d
	}
}

// MessageStore exposes the underlying store for collaborators whose
// mutations run inside Do. Touching it outside the apply loop races with
// event handling.
func (c *Controller) MessageStore() *store.Store {
	return c.st
}

// State returns the current connection state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Changed returns a coalesced signal that fires whenever the rendered
// snapshot may have changed.
func (c *Controller) Changed() <-chan struct{} {
	return c.changed
}

// Do runs fn inside the apply loop, serialized with event handling. It
// returns once fn has executed, or with the context error if the loop is
// gone. A discarded fn after teardown is harmless by design of the callers:
// every apply is idempotent against authoritative state.
func (c *Controller) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case c.apply <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the live, ordered message sequence for rendering.
func (c *Controller) Snapshot(ctx context.Context) ([]*chat.Message, error) {
	var out []*chat.Message
	if err := c.Do(ctx, func() { out = c.st.Snapshot() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Run drives the controller until ctx is cancelled. It subscribes, performs
// the initial full load, then consumes the unbounded notification stream,
// falling back to Degraded plus a wholesale resync whenever the channel
// drops.
func (c *Controller) Run(ctx context.Context) error {
	var (
		sub    backend.Subscription
		events <-chan chat.Event
	)
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
		c.setState(StateDisconnected)
	}()

	recon := newReconnector(c.reconnectBase, reconnectMaxDelay)
	redial := time.NewTimer(0) // connect immediately
	defer redial.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-c.apply:
			fn()
			c.notifyChanged()

		case <-redial.C:
			c.setState(StateConnecting)
			s, err := c.notifier.Subscribe(ctx, c.conversationID)
			if err != nil {
				c.log.Warn().Err(err).Str("conversation", c.conversationID).Msg("subscribe failed")
				c.setState(StateDegraded)
				redial.Reset(recon.nextDelay())
				continue
			}
			c.setState(StateResyncing)
			if err := c.resync(ctx); err != nil {
				c.log.Warn().Err(err).Msg("resync failed")
				_ = s.Close()
				c.setState(StateDegraded)
				redial.Reset(recon.nextDelay())
				continue
			}
			sub = s
			events = s.Events()
			recon.markConnected()
			c.setState(StateSynced)
			c.notifyChanged()

		case ev, ok := <-events:
			if !ok {
				err := sub.Err()
				c.log.Warn().Err(err).Msg("notification channel lost")
				sub, events = nil, nil
				c.setState(StateDegraded)
				redial.Reset(recon.nextDelay())
				continue
			}
			c.handleEvent(ev)
		}
	}
}

// resync discards incremental trust: the authoritative ordered snapshot is
// reloaded from the durable store and replaces the local store wholesale.
func (c *Controller) resync(ctx context.Context) error {
	msgs, err := c.persister.Query(ctx, c.conversationID, backend.Filter{})
	if err != nil {
		return err
	}
	c.st.ReplaceAll(msgs)
	return nil
}

func (c *Controller) handleEvent(ev chat.Event) {
	if err := ev.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed event")
		return
	}
	switch ev.Kind {
	case chat.EventCreated:
		c.onCreated(ev.Message)
	case chat.EventMutated:
		c.onMutated(ev.Message)
	case chat.EventStatus:
		if c.statusSink != nil {
			c.statusSink(*ev.Status)
		}
	}
}

// onCreated inserts unless the id is already known, live or tombstoned.
// Idempotent under duplicate delivery, and collapses the optimistic entry a
// local send already placed under the same id.
func (c *Controller) onCreated(m *chat.Message) {
	if c.st.Insert(m) {
		c.notifyChanged()
	} else {
		c.log.Debug().Str("id", m.ID).Msg("duplicate created delivery ignored")
	}
}

// onMutated applies an update. A set tombstone is solely a removal and
// short-circuits every other field; otherwise the staleness gate rejects
// deliveries strictly older than the held revision.
func (c *Controller) onMutated(m *chat.Message) {
	if m.Deleted() {
		c.st.Tombstone(m.ID)
		c.notifyChanged()
		return
	}
	if c.st.Tombstoned(m.ID) {
		return
	}
	held, live := c.st.Get(m.ID)
	if !live {
		// Update outran its create; the payload is the full authoritative
		// message, so insert it and let the late create dedup against it.
		if c.st.Insert(m) {
			c.notifyChanged()
		}
		return
	}
	incoming := m.Clone()
	// Read receipts are monotonic: keep local marks the remote copy has not
	// caught up with yet.
	if incoming.ReadBy == nil && held.ReadBy != nil {
		incoming.ReadBy = make(map[string]struct{}, len(held.ReadBy))
	}
	for u := range held.ReadBy {
		incoming.ReadBy[u] = struct{}{}
	}
	if c.st.Replace(incoming) {
		c.notifyChanged()
	} else {
		c.log.Debug().Str("id", m.ID).Msg("stale delivery ignored")
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.notifyChanged()
}

func (c *Controller) notifyChanged() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}
