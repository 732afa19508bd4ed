package chat

import "errors"

// Error codes for domain errors.
const (
	ErrCodeTransientIO  = "transient_io"
	ErrCodeConflict     = "conflict"
	ErrCodeStale        = "stale_delivery"
	ErrCodeDisconnected = "channel_disconnected"
	ErrCodeBadEvent     = "bad_event"
)

var (
	// ErrPersist marks a failed persist call; optimistic state has been
	// rolled back and retry is left to the caller.
	ErrPersist = errors.New("persist failed")
	// ErrConflict marks a mutation targeting an id no longer present.
	// The mutation is dropped; correction arrives via the next resync.
	ErrConflict = errors.New("message gone")
	// ErrStaleDelivery marks an incoming event older than the held
	// revision. Ignored, never surfaced to the user.
	ErrStaleDelivery = errors.New("stale delivery")
	// ErrDisconnected marks a dropped notification stream.
	ErrDisconnected = errors.New("notification channel disconnected")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// NewCoreError builds a CoreError for other packages in this module.
func NewCoreError(code, msg string) *CoreError {
	return coreError(code, msg)
}
