package syncer

// State is the conversation view's composite connection state. Only Synced
// trusts incremental notifications; Degraded and Resyncing force a full
// snapshot reload before incremental mode resumes.
type State int32

const (
	// StateDisconnected means no subscription is established.
	StateDisconnected State = iota
	// StateConnecting means the notification subscription is being opened.
	StateConnecting
	// StateSynced means incremental notifications are trusted.
	StateSynced
	// StateDegraded means the notification channel dropped and incremental
	// trust has been discarded.
	StateDegraded
	// StateResyncing means an authoritative snapshot reload is in flight.
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}
