// Package outbox issues optimistic local mutations and reconciles them with
// the authoritative backend. Every change is applied to the message store
// first, through the sync controller's apply loop, then persisted; a failed
// persist rolls the optimistic state back and surfaces the error. The
// authoritative copy arriving later on the notification stream is final
// truth.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/syncer"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// Draft is a message about to be sent.
type Draft struct {
	Content       string
	Kind          chat.Kind
	AttachmentRef string
	ReplyToID     string
}

// Outbox performs fire-and-confirm writes for one user in one conversation.
type Outbox struct {
	conversationID string
	userID         string
	ctrl           *syncer.Controller
	persister      backend.Persister
	log            *zerolog.Logger
	now            func() time.Time
}

// New constructs an outbox bound to the controller's conversation.
func New(conversationID, userID string, ctrl *syncer.Controller, persister backend.Persister, logger *zerolog.Logger) *Outbox {
	return &Outbox{
		conversationID: conversationID,
		userID:         userID,
		ctrl:           ctrl,
		persister:      persister,
		log:            logger,
		now:            time.Now,
	}
}

// Send creates a provisional message immediately visible in the store and
// persists it. The id is issued synchronously and shared with the persisted
// row, so the eventual created notification collapses into the provisional
// entry instead of duplicating it. On failure the provisional entry is
// removed and the draft is returned with the error so the caller can restore
// the input.
func (o *Outbox) Send(ctx context.Context, draft Draft) (*chat.Message, error) {
	kind := draft.Kind
	if kind == "" {
		kind = chat.KindText
	}
	msg := &chat.Message{
		ID:             utils.NewID(),
		ConversationID: o.conversationID,
		SenderID:       o.userID,
		Content:        draft.Content,
		AttachmentRef:  draft.AttachmentRef,
		Kind:           kind,
		CreatedAt:      o.now(),
		ReplyToID:      draft.ReplyToID,
	}

	if err := o.ctrl.Do(ctx, func() { o.ctrl.MessageStore().Insert(msg) }); err != nil {
		return nil, err
	}

	persistedID, err := o.persister.Insert(ctx, msg)
	if err != nil {
		o.rollback(ctx, func(st storeAPI) { st.Drop(msg.ID) })
		return nil, fmt.Errorf("send %q: %w: %v", msg.ID, chat.ErrPersist, err)
	}
	if persistedID != msg.ID {
		// Backend issued its own id: swap the provisional entry for the real
		// one so the created notification still collapses to one entry.
		real := msg.Clone()
		real.ID = persistedID
		o.rollback(ctx, func(st storeAPI) {
			st.Drop(msg.ID)
			st.Insert(real)
		})
		msg = real
	}
	return msg.Clone(), nil
}

// Edit replaces the message content optimistically and persists it,
// reverting to the prior content on failure. Editing a tombstoned or unknown
// id is a conflict: the mutation is dropped and correction arrives via the
// next resync.
func (o *Outbox) Edit(ctx context.Context, id, content string) error {
	var prior *chat.Message
	err := o.ctrl.Do(ctx, func() {
		st := o.ctrl.MessageStore()
		held, ok := st.Get(id)
		if !ok {
			return
		}
		prior = held
		edited := held.Clone()
		edited.Content = content
		edited.UpdatedAt = o.now()
		st.Replace(edited)
	})
	if err != nil {
		return err
	}
	if prior == nil {
		return fmt.Errorf("edit %q: %w", id, chat.ErrConflict)
	}

	if err := o.persister.Update(ctx, id, backend.Partial{Content: &content}); err != nil {
		o.rollback(ctx, func(st storeAPI) { st.Revert(prior) })
		return fmt.Errorf("edit %q: %w: %v", id, chat.ErrPersist, err)
	}
	return nil
}

// Remove soft-deletes the message, hiding it optimistically. On failure
// visibility is restored and the error surfaced.
func (o *Outbox) Remove(ctx context.Context, id string) error {
	deletedAt := o.now()
	var prior *chat.Message
	err := o.ctrl.Do(ctx, func() {
		prior = o.ctrl.MessageStore().SetDeleted(id, o.userID, deletedAt)
	})
	if err != nil {
		return err
	}
	if prior == nil {
		return fmt.Errorf("remove %q: %w", id, chat.ErrConflict)
	}

	by := o.userID
	if err := o.persister.Update(ctx, id, backend.Partial{DeletedAt: &deletedAt, DeletedBy: &by}); err != nil {
		o.rollback(ctx, func(st storeAPI) { st.Restore(prior) })
		return fmt.Errorf("remove %q: %w: %v", id, chat.ErrPersist, err)
	}
	return nil
}

// React toggles the user's reaction. The flip is recomputed against the
// current store state inside the apply loop, so rapid toggling cannot act on
// a stale snapshot; rollback is a second toggle.
func (o *Outbox) React(ctx context.Context, id, emoji string) error {
	var (
		found     bool
		reactions map[string]map[string]struct{}
	)
	err := o.ctrl.Do(ctx, func() {
		st := o.ctrl.MessageStore()
		if _, found = st.ToggleReaction(id, o.userID, emoji); !found {
			return
		}
		if held, ok := st.Get(id); ok {
			reactions = held.Reactions
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("react %q: %w", id, chat.ErrConflict)
	}

	if reactions == nil {
		reactions = map[string]map[string]struct{}{}
	}
	if err := o.persister.Update(ctx, id, backend.Partial{Reactions: reactions}); err != nil {
		o.rollback(ctx, func(st storeAPI) { st.ToggleReaction(id, o.userID, emoji) })
		return fmt.Errorf("react %q: %w: %v", id, chat.ErrPersist, err)
	}
	return nil
}

// MarkRead unions the user into the read set and persists the receipt.
// Receipts are monotonic and re-derived on resync, so a failed persist is
// logged but the local mark is kept.
func (o *Outbox) MarkRead(ctx context.Context, id string) error {
	var grew bool
	err := o.ctrl.Do(ctx, func() {
		grew = o.ctrl.MessageStore().MarkRead(id, o.userID)
	})
	if err != nil || !grew {
		return err
	}

	receipt := map[string]struct{}{o.userID: {}}
	if err := o.persister.Update(ctx, id, backend.Partial{ReadBy: receipt}); err != nil {
		o.log.Warn().Err(err).Str("id", id).Msg("read receipt persist failed, will re-derive on resync")
	}
	return nil
}

type storeAPI interface {
	Insert(*chat.Message) bool
	Revert(*chat.Message)
	Restore(*chat.Message)
	Drop(string)
	ToggleReaction(id, userID, emoji string) (bool, bool)
}

// rollback applies a compensating mutation. The surrounding operation's
// context may already be cancelled by teardown; the rollback is abandoned in
// that case, which is safe because resync rebuilds from authoritative state.
func (o *Outbox) rollback(ctx context.Context, fn func(storeAPI)) {
	if err := o.ctrl.Do(ctx, func() { fn(o.ctrl.MessageStore()) }); err != nil {
		o.log.Debug().Err(err).Msg("rollback skipped after teardown")
	}
}
