package chat

// EventKind is a notification kind delivered by the backend stream.
type EventKind int

const (
	// EventCreated announces a newly inserted message.
	EventCreated EventKind = iota
	// EventMutated announces an update to an existing message, including
	// soft deletion via the tombstone fields.
	EventMutated
	// EventStatus announces a presence record change for a user.
	EventStatus
)

// Event is the tagged union consumed by the sync controller. Exactly one of
// Message or Status is set, selected by Kind. Delivery is at-least-once and
// unordered across distinct ids.
type Event struct {
	Kind    EventKind
	Message *Message        // EventCreated, EventMutated
	Status  *PresenceRecord // EventStatus
}

// Validate checks that the payload matches the tag before the event enters
// the controller.
func (e *Event) Validate() error {
	switch e.Kind {
	case EventCreated, EventMutated:
		if e.Message == nil {
			return coreError(ErrCodeBadEvent, "message event without message payload")
		}
		if e.Message.ID == "" {
			return coreError(ErrCodeBadEvent, "message event without id")
		}
		return nil
	case EventStatus:
		if e.Status == nil || e.Status.UserID == "" {
			return coreError(ErrCodeBadEvent, "status event without user")
		}
		return nil
	default:
		return coreError(ErrCodeBadEvent, "unknown event kind")
	}
}
