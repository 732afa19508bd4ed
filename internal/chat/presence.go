package chat

import (
	"fmt"
	"time"
)

// PresenceRecord is the persisted online/last-seen status of a user.
// One record per user, last-writer-wins, written only by its owning client.
type PresenceRecord struct {
	UserID   string
	IsOnline bool
	LastSeen time.Time
}

// LastSeenLabel renders the record for display ("Online", "just now",
// "5m ago", "2h ago", "3d ago").
func (p PresenceRecord) LastSeenLabel(now time.Time) string {
	if p.IsOnline {
		return "Online"
	}
	if p.LastSeen.IsZero() {
		return "Offline"
	}
	d := now.Sub(p.LastSeen)
	switch {
	case d < time.Minute:
		return "Last seen just now"
	case d < time.Hour:
		return fmt.Sprintf("Last seen %dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("Last seen %dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("Last seen %dd ago", int(d.Hours()/24))
	}
}

// TypingLabel renders a typing indicator for the given members, already
// filtered to exclude the local user. One typist shows their name, more
// collapse to a count.
func TypingLabel(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		return fmt.Sprintf("%d people are typing...", len(names))
	}
}
