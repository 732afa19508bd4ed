// Package backend defines the contract with the hosted persistence and
// pub/sub collaborator. The engine treats it as opaque: at-least-once,
// unordered notification delivery is assumed, and everything here can be
// satisfied by the bundled sqlite implementation or a remote service.
package backend

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/chat"
)

// Filter narrows a Query call.
type Filter struct {
	After time.Time // only messages created at or after this instant
	Limit int       // 0 means no limit
}

// Partial is the set of updatable message fields. Nil pointers and nil maps
// are left untouched; ReadBy is unioned server-side, Reactions replaces the
// stored map wholesale.
type Partial struct {
	Content   *string
	DeletedAt *time.Time
	DeletedBy *string
	ReadBy    map[string]struct{}
	Reactions map[string]map[string]struct{}
}

// Persister handles durable message storage.
type Persister interface {
	// EnsureConversation creates the conversation row if it does not exist.
	EnsureConversation(ctx context.Context, conversationID, createdBy string) error

	// Insert persists a message and returns its authoritative id. When the
	// message already carries a client-issued id the backend keeps it.
	Insert(ctx context.Context, msg *chat.Message) (string, error)

	// Update applies a partial mutation to the message and bumps its
	// revision counter.
	Update(ctx context.Context, id string, fields Partial) error

	// Query returns the conversation's messages ordered by created_at
	// ascending, excluding tombstoned rows.
	Query(ctx context.Context, conversationID string, f Filter) ([]*chat.Message, error)
}

// Subscription is a live notification stream for one conversation.
type Subscription interface {
	// Events yields created/mutated/status events for the lifetime of the
	// subscription. The channel is closed after Close or a fatal stream
	// error; Err distinguishes the two.
	Events() <-chan chat.Event

	// Err returns the terminal stream error, nil after a clean Close.
	Err() error

	// Close tears the subscription down. Safe to call twice.
	Close() error
}

// Notifier hands out notification subscriptions.
type Notifier interface {
	// Subscribe opens a stream of events filtered by conversationID.
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
}

// MembershipEventKind tags ephemeral membership events.
type MembershipEventKind int

const (
	// MemberSync carries the full current membership of the channel.
	MemberSync MembershipEventKind = iota
	// MemberJoin announces a single user joining.
	MemberJoin
	// MemberLeave announces a single user leaving.
	MemberLeave
)

// MembershipEvent describes a change on an ephemeral channel.
type MembershipEvent struct {
	Kind    MembershipEventKind
	UserID  string   // MemberJoin, MemberLeave
	Members []string // MemberSync
}

// MembershipChannel is an ephemeral, non-persisted membership broadcast
// scoped to a named channel. Membership is session-bound: a disconnect
// retracts the member without any stored row.
type MembershipChannel interface {
	// Track announces the user as a member of the channel.
	Track(ctx context.Context, userID string) error

	// Untrack retracts the user's membership.
	Untrack(ctx context.Context) error

	// Watch streams membership changes until cancel is called.
	Watch(ctx context.Context) (events <-chan MembershipEvent, cancel func(), err error)
}

// Ephemeral hands out named membership channels.
type Ephemeral interface {
	Channel(name string) MembershipChannel
}

// StatusStore is the key-value upsert surface for presence records.
type StatusStore interface {
	// UpsertStatus writes the record keyed by its UserID, last-writer-wins.
	UpsertStatus(ctx context.Context, rec chat.PresenceRecord) error

	// GetStatus reads the current record for userID.
	GetStatus(ctx context.Context, userID string) (chat.PresenceRecord, error)
}

// Backend aggregates every collaborator surface the engine consumes.
type Backend interface {
	Persister
	Notifier
	Ephemeral
	StatusStore

	// Close releases the underlying connection.
	Close() error
}
