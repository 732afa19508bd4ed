// Package session carries the identity and conversation scope of one logged
// in client. The session is an explicit value passed into every component
// constructor; there is no process-wide current-user singleton.
package session

import (
	"fmt"

	"github.com/vovakirdan/wirechat-client/internal/auth"
)

// Session scopes the engine to one user in one conversation.
type Session struct {
	UserID         string
	Username       string
	ConversationID string
	Token          string

	// DisplayNames maps user ids to presentation names for the roster.
	DisplayNames map[string]string
}

// FromToken builds a session from a validated token.
func FromToken(cfg *auth.JWTConfig, token, conversationID string) (*Session, error) {
	claims, err := auth.ValidateToken(cfg, token)
	if err != nil {
		return nil, fmt.Errorf("session from token: %w", err)
	}
	return &Session{
		UserID:         claims.UserID,
		Username:       claims.Username,
		ConversationID: conversationID,
		Token:          token,
		DisplayNames:   map[string]string{claims.UserID: claims.Username},
	}, nil
}

// PeerName resolves a user id to its display name, falling back to the id.
func (s *Session) PeerName(userID string) string {
	if name, ok := s.DisplayNames[userID]; ok && name != "" {
		return name
	}
	return userID
}
