// Package app wires the engine together for one conversation view: session,
// backend, sync controller, outbox, and presence tracker, with an explicit
// teardown path instead of a process restart on logout.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/backend/sqlite"
	"github.com/vovakirdan/wirechat-client/internal/backend/ws"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/outbox"
	"github.com/vovakirdan/wirechat-client/internal/presence"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/syncer"
)

// App is the conversation view's composition root and the imperative surface
// exposed to the presentation layer.
type App struct {
	sess     *session.Session
	be       backend.Backend
	ctrl     *syncer.Controller
	out      *outbox.Outbox
	tracker  *presence.Tracker
	log      *zerolog.Logger
	shutdown time.Duration
}

// New constructs the application for the session's conversation. A
// configured backend URL selects the remote client; otherwise the local
// sqlite backend backs the engine.
func New(cfg *config.Config, sess *session.Session, logger *zerolog.Logger) (*App, error) {
	var (
		be  backend.Backend
		err error
	)
	if cfg.BackendURL != "" {
		be = ws.NewClient(cfg.BackendURL, sess.Token, logger)
		logger.Info().Str("backend_url", cfg.BackendURL).Msg("using remote backend")
	} else {
		be, err = sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init backend: %w", err)
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("using local backend")
	}

	typing := be.Channel("typing-" + sess.ConversationID)
	tracker := presence.New(sess.UserID, typing, be, presence.Options{
		SampleInterval:   cfg.SampleInterval,
		OfflineThreshold: cfg.OfflineThreshold,
	}, logger)

	ctrl := syncer.New(sess.ConversationID, be, be, tracker.OnStatus, logger)
	ctrl.SetReconnectDelay(cfg.ReconnectDelay)
	out := outbox.New(sess.ConversationID, sess.UserID, ctrl, be, logger)

	return &App{
		sess:     sess,
		be:       be,
		ctrl:     ctrl,
		out:      out,
		tracker:  tracker,
		log:      logger,
		shutdown: cfg.ShutdownTimeout,
	}, nil
}

// Run bootstraps the conversation and drives the sync loop until ctx is
// cancelled, then tears everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.be.EnsureConversation(ctx, a.sess.ConversationID, a.sess.UserID); err != nil {
		a.Close()
		return fmt.Errorf("bootstrap conversation: %w", err)
	}
	if err := a.tracker.Start(ctx); err != nil {
		a.Close()
		return fmt.Errorf("start presence: %w", err)
	}

	err := a.ctrl.Run(ctx)
	a.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close is the explicit logout path: retract typing, flush the offline
// presence write, and release the backend. In-flight outbox requests are not
// cancelled; their callbacks land on a stopped loop and are discarded.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdown)
	defer cancel()

	if err := a.tracker.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("final offline write failed")
	}
	if err := a.be.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close backend")
	} else {
		a.log.Info().Msg("backend closed")
	}
}

// Send posts a new message. The returned message is the provisional entry
// already visible in the snapshot.
func (a *App) Send(ctx context.Context, draft outbox.Draft) (*chat.Message, error) {
	a.tracker.Touch(ctx)
	return a.out.Send(ctx, draft)
}

// Edit replaces a message's content.
func (a *App) Edit(ctx context.Context, id, content string) error {
	a.tracker.Touch(ctx)
	return a.out.Edit(ctx, id, content)
}

// Remove soft-deletes a message.
func (a *App) Remove(ctx context.Context, id string) error {
	a.tracker.Touch(ctx)
	return a.out.Remove(ctx, id)
}

// React toggles the local user's reaction on a message.
func (a *App) React(ctx context.Context, id, emoji string) error {
	a.tracker.Touch(ctx)
	return a.out.React(ctx, id, emoji)
}

// MarkRead records the local user's read receipt.
func (a *App) MarkRead(ctx context.Context, id string) error {
	return a.out.MarkRead(ctx, id)
}

// Snapshot returns the live, ordered visible messages.
func (a *App) Snapshot(ctx context.Context) ([]*chat.Message, error) {
	return a.ctrl.Snapshot(ctx)
}

// Changed signals that the snapshot may have changed.
func (a *App) Changed() <-chan struct{} {
	return a.ctrl.Changed()
}

// State reports the sync state machine's current phase.
func (a *App) State() syncer.State {
	return a.ctrl.State()
}

// StartTyping announces the local user on the typing channel.
func (a *App) StartTyping(ctx context.Context) error {
	a.tracker.Touch(ctx)
	return a.tracker.StartTyping(ctx)
}

// StopTyping retracts the local user from the typing channel.
func (a *App) StopTyping(ctx context.Context) error {
	return a.tracker.StopTyping(ctx)
}

// TypingUsers lists current typists excluding the local user.
func (a *App) TypingUsers() []string {
	return a.tracker.TypingUsers()
}

// IsOnline reports the last known online flag for userID.
func (a *App) IsOnline(userID string) bool {
	return a.tracker.IsOnline(userID)
}

// LastSeen returns the last known last-seen timestamp for userID.
func (a *App) LastSeen(userID string) time.Time {
	return a.tracker.LastSeen(userID)
}

// PresenceLabel renders the peer's status line for display.
func (a *App) PresenceLabel(userID string) string {
	return a.tracker.Record(userID).LastSeenLabel(time.Now())
}
