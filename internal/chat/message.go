package chat

import "time"

// Kind classifies the payload of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindGif   Kind = "gif"
)

// Message is the domain model for a chat message.
//
// ID is server-unique within a conversation. CreatedAt is not guaranteed
// monotonic across senders; canonical ordering is (CreatedAt, ID) ascending.
// Revision is a per-message counter bumped by the backend on every update and
// is preferred over UpdatedAt when deciding whether a delivery is stale.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	AttachmentRef  string // opaque URI, empty for plain text
	Kind           Kind
	CreatedAt      time.Time
	UpdatedAt      time.Time // zero until first edit
	Revision       int64
	ReplyToID      string // may dangle once the target is tombstoned
	DeletedAt      time.Time
	DeletedBy      string
	ReadBy         map[string]struct{}
	Reactions      map[string]map[string]struct{} // emoji -> set of userID
}

// Deleted reports whether the message carries a tombstone.
func (m *Message) Deleted() bool {
	return !m.DeletedAt.IsZero()
}

// ReadByUser reports whether userID is in the read set.
func (m *Message) ReadByUser(userID string) bool {
	_, ok := m.ReadBy[userID]
	return ok
}

// HasReaction reports whether userID has reacted with emoji.
func (m *Message) HasReaction(userID, emoji string) bool {
	_, ok := m.Reactions[emoji][userID]
	return ok
}

// Before reports whether m sorts before other in canonical order,
// breaking CreatedAt ties by ID for determinism.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// StalerThan reports whether m is a strictly older revision than held.
// The revision counter wins when either side carries one; otherwise the
// comparison falls back to UpdatedAt wall clocks. Equal revisions are not
// stale, so a re-delivery of the current state is accepted as a no-op.
func (m *Message) StalerThan(held *Message) bool {
	if m.Revision != 0 || held.Revision != 0 {
		return m.Revision < held.Revision
	}
	return m.UpdatedAt.Before(held.UpdatedAt)
}

// Clone returns a deep copy so callers can hand messages across goroutines
// without sharing the set maps.
func (m *Message) Clone() *Message {
	cp := *m
	if m.ReadBy != nil {
		cp.ReadBy = make(map[string]struct{}, len(m.ReadBy))
		for u := range m.ReadBy {
			cp.ReadBy[u] = struct{}{}
		}
	}
	if m.Reactions != nil {
		cp.Reactions = make(map[string]map[string]struct{}, len(m.Reactions))
		for emoji, users := range m.Reactions {
			set := make(map[string]struct{}, len(users))
			for u := range users {
				set[u] = struct{}{}
			}
			cp.Reactions[emoji] = set
		}
	}
	return &cp
}
