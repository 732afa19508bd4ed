// Package presence tracks two independent signals: persisted online/last-seen
// status with an activity-based timeout, and ephemeral typing membership that
// lives only as long as the session.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
)

// Defaults for the activity timeout. The status loop samples every
// SampleInterval and flips the record offline once no activity has been seen
// for OfflineThreshold.
const (
	DefaultSampleInterval   = 30 * time.Second
	DefaultOfflineThreshold = 120 * time.Second
)

// Options tunes the tracker. Zero values fall back to the defaults above.
type Options struct {
	SampleInterval   time.Duration
	OfflineThreshold time.Duration
}

func (o *Options) defaults() {
	if o.SampleInterval == 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.OfflineThreshold == 0 {
		o.OfflineThreshold = DefaultOfflineThreshold
	}
}

// Tracker owns the local user's presence record and mirrors everyone else's.
type Tracker struct {
	userID  string
	typing  backend.MembershipChannel
	status  backend.StatusStore
	log     *zerolog.Logger
	opts    Options
	now     func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	online       bool
	typists      map[string]struct{}
	records      map[string]chat.PresenceRecord

	stopTyping func()
}

// New constructs a tracker for the session user. The typing channel is the
// conversation-scoped ephemeral channel; status is the key-value presence
// store.
func New(userID string, typing backend.MembershipChannel, status backend.StatusStore, opts Options, logger *zerolog.Logger) *Tracker {
	opts.defaults()
	return &Tracker{
		userID:  userID,
		typing:  typing,
		status:  status,
		log:     logger,
		opts:    opts,
		now:     time.Now,
		typists: make(map[string]struct{}),
		records: make(map[string]chat.PresenceRecord),
	}
}

// Start writes the initial online record, begins watching typing membership,
// and runs the inactivity sampler until ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	t.lastActivity = t.now()
	t.online = true
	t.mu.Unlock()

	if err := t.writeStatus(ctx, true); err != nil {
		return err
	}

	events, cancel, err := t.typing.Watch(ctx)
	if err != nil {
		return err
	}
	t.stopTyping = cancel

	go t.watchTyping(ctx, events)
	go t.sampleLoop(ctx)
	return nil
}

// Touch records user activity, reviving the online status if the inactivity
// sweep had flipped it off.
func (t *Tracker) Touch(ctx context.Context) {
	t.mu.Lock()
	t.lastActivity = t.now()
	wasOnline := t.online
	t.online = true
	t.mu.Unlock()

	if !wasOnline {
		if err := t.writeStatus(ctx, true); err != nil {
			t.log.Warn().Err(err).Msg("failed to write online status")
		}
	}
}

// StartTyping announces the local user on the typing channel.
func (t *Tracker) StartTyping(ctx context.Context) error {
	return t.typing.Track(ctx, t.userID)
}

// StopTyping retracts the local user from the typing channel.
func (t *Tracker) StopTyping(ctx context.Context) error {
	return t.typing.Untrack(ctx)
}

// TypingUsers returns the sorted current typists excluding the local user.
// A two-party view renders the single name; larger rosters collapse to a
// count via chat.TypingLabel.
func (t *Tracker) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.typists))
	for u := range t.typists {
		if u != t.userID {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// OnStatus ingests a presence record from the notification stream.
// Last-writer-wins: the record is written only by its owning client, so the
// newest write simply overwrites.
func (t *Tracker) OnStatus(rec chat.PresenceRecord) {
	t.mu.Lock()
	t.records[rec.UserID] = rec
	t.mu.Unlock()
}

// IsOnline reports the last known online flag for userID.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[userID].IsOnline
}

// LastSeen returns the last known last-seen timestamp for userID.
func (t *Tracker) LastSeen(userID string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[userID].LastSeen
}

// Record returns the full last known presence record for userID.
func (t *Tracker) Record(userID string) chat.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[userID]
	if !ok {
		return chat.PresenceRecord{UserID: userID}
	}
	return rec
}

// Close retracts typing membership and issues the best-effort final offline
// write. Called on logout or view teardown; no process restart involved.
func (t *Tracker) Close(ctx context.Context) error {
	if t.stopTyping != nil {
		t.stopTyping()
	}
	if err := t.typing.Untrack(ctx); err != nil {
		t.log.Debug().Err(err).Msg("typing untrack on close")
	}
	t.mu.Lock()
	t.online = false
	t.mu.Unlock()
	return t.writeStatus(ctx, false)
}

func (t *Tracker) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			idle := t.now().Sub(t.lastActivity)
			flip := t.online && idle >= t.opts.OfflineThreshold
			if flip {
				t.online = false
			}
			t.mu.Unlock()

			if flip {
				if err := t.writeStatus(ctx, false); err != nil {
					t.log.Warn().Err(err).Msg("failed to write offline status")
				}
			}
		}
	}
}

func (t *Tracker) watchTyping(ctx context.Context, events <-chan backend.MembershipEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.mu.Lock()
			switch ev.Kind {
			case backend.MemberSync:
				t.typists = make(map[string]struct{}, len(ev.Members))
				for _, u := range ev.Members {
					t.typists[u] = struct{}{}
				}
			case backend.MemberJoin:
				t.typists[ev.UserID] = struct{}{}
			case backend.MemberLeave:
				delete(t.typists, ev.UserID)
			}
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) writeStatus(ctx context.Context, online bool) error {
	rec := chat.PresenceRecord{
		UserID:   t.userID,
		IsOnline: online,
		LastSeen: t.now(),
	}
	if err := t.status.UpsertStatus(ctx, rec); err != nil {
		return err
	}
	// Mirror our own record locally so queries do not wait for the echo.
	t.OnStatus(rec)
	return nil
}
