package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/chat"
)

const (
	ProtocolVersion = 1

	// Client to server.
	OutboundTypeSubscribe = "subscribe"
	OutboundTypeTrack     = "track"
	OutboundTypeUntrack   = "untrack"
	OutboundTypePing      = "ping"

	// Server to client.
	InboundTypeEvent   = "event"
	InboundTypeMembers = "members"
	InboundTypePong    = "pong"
	InboundTypeError   = "error"

	EventCreated = "created"
	EventMutated = "mutated"
	EventStatus  = "status"
)

// Outbound is the envelope for commands sent to the server.
type Outbound struct {
	Type     string `json:"type"`
	Protocol int    `json:"protocol,omitempty"`
	Conv     string `json:"conversation,omitempty"`
	Channel  string `json:"channel,omitempty"`
	User     string `json:"user,omitempty"`
}

// Inbound is the envelope for frames coming from the server.
type Inbound struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error frame.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// WireMessage is the JSON shape of a message on the notification stream.
type WireMessage struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Content        string              `json:"content,omitempty"`
	AttachmentRef  string              `json:"attachment_ref,omitempty"`
	Kind           string              `json:"kind"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      *time.Time          `json:"updated_at,omitempty"`
	Revision       int64               `json:"revision,omitempty"`
	ReplyToID      string              `json:"reply_to_id,omitempty"`
	DeletedAt      *time.Time          `json:"deleted_at,omitempty"`
	DeletedBy      string              `json:"deleted_by,omitempty"`
	ReadBy         []string            `json:"read_by,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
}

// WireStatus is the JSON shape of a presence record on the stream.
type WireStatus struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// WireMembers carries the full membership of an ephemeral channel.
type WireMembers struct {
	Joined  string   `json:"joined,omitempty"`
	Left    string   `json:"left,omitempty"`
	Members []string `json:"members,omitempty"`
}

// ToWire converts a domain message into its wire shape.
func ToWire(m *chat.Message) *WireMessage {
	w := &WireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		AttachmentRef:  m.AttachmentRef,
		Kind:           string(m.Kind),
		CreatedAt:      m.CreatedAt,
		Revision:       m.Revision,
		ReplyToID:      m.ReplyToID,
		DeletedBy:      m.DeletedBy,
	}
	if !m.UpdatedAt.IsZero() {
		t := m.UpdatedAt
		w.UpdatedAt = &t
	}
	if !m.DeletedAt.IsZero() {
		t := m.DeletedAt
		w.DeletedAt = &t
	}
	for u := range m.ReadBy {
		w.ReadBy = append(w.ReadBy, u)
	}
	if len(m.Reactions) > 0 {
		w.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			for u := range users {
				w.Reactions[emoji] = append(w.Reactions[emoji], u)
			}
		}
	}
	return w
}

// ToDomain converts a wire message into the domain model.
func (w *WireMessage) ToDomain() *chat.Message {
	m := &chat.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Content:        w.Content,
		AttachmentRef:  w.AttachmentRef,
		Kind:           chat.Kind(w.Kind),
		CreatedAt:      w.CreatedAt,
		Revision:       w.Revision,
		ReplyToID:      w.ReplyToID,
		DeletedBy:      w.DeletedBy,
	}
	if w.UpdatedAt != nil {
		m.UpdatedAt = *w.UpdatedAt
	}
	if w.DeletedAt != nil {
		m.DeletedAt = *w.DeletedAt
	}
	if len(w.ReadBy) > 0 {
		m.ReadBy = make(map[string]struct{}, len(w.ReadBy))
		for _, u := range w.ReadBy {
			m.ReadBy[u] = struct{}{}
		}
	}
	if len(w.Reactions) > 0 {
		m.Reactions = make(map[string]map[string]struct{}, len(w.Reactions))
		for emoji, users := range w.Reactions {
			set := make(map[string]struct{}, len(users))
			for _, u := range users {
				set[u] = struct{}{}
			}
			m.Reactions[emoji] = set
		}
	}
	return m
}

// DecodeEvent turns an inbound event frame into the typed union consumed by
// the sync controller, validating the payload at the boundary.
func DecodeEvent(in *Inbound) (chat.Event, error) {
	var ev chat.Event
	switch in.Event {
	case EventCreated, EventMutated:
		var w WireMessage
		if err := json.Unmarshal(in.Data, &w); err != nil {
			return ev, fmt.Errorf("decode %s event: %w", in.Event, err)
		}
		ev.Kind = chat.EventCreated
		if in.Event == EventMutated {
			ev.Kind = chat.EventMutated
		}
		ev.Message = w.ToDomain()
	case EventStatus:
		var w WireStatus
		if err := json.Unmarshal(in.Data, &w); err != nil {
			return ev, fmt.Errorf("decode status event: %w", err)
		}
		ev.Kind = chat.EventStatus
		ev.Status = &chat.PresenceRecord{UserID: w.UserID, IsOnline: w.IsOnline, LastSeen: w.LastSeen}
	default:
		return ev, fmt.Errorf("unknown event kind %q", in.Event)
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}
