package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
)

const convID = "00000000-0000-0000-0000-000000000001"

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	if err := b.EnsureConversation(context.Background(), convID, "alice"); err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	return b
}

func insertMsg(t *testing.T, b *SQLiteBackend, id, content string, at time.Time) string {
	t.Helper()
	got, err := b.Insert(context.Background(), &chat.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "alice",
		Content:        content,
		Kind:           chat.KindText,
		CreatedAt:      at,
	})
	if err != nil {
		t.Fatalf("insert %q: %v", id, err)
	}
	return got
}

func mustEvent(t *testing.T, sub backend.Subscription) chat.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed while waiting for event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return chat.Event{}
	}
}

func mustMembership(t *testing.T, events <-chan backend.MembershipEvent) backend.MembershipEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("membership stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for membership event")
		return backend.MembershipEvent{}
	}
}

func TestInsertKeepsClientIssuedID(t *testing.T) {
	b := newTestBackend(t)

	if got := insertMsg(t, b, "client-id", "hello", base); got != "client-id" {
		t.Fatalf("insert returned %q, want client-id", got)
	}
	if got := insertMsg(t, b, "", "no id", base.Add(time.Second)); got == "" {
		t.Fatal("insert did not issue an id for an empty one")
	}
}

func TestQueryOrdersAndFilters(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	// Same timestamp for b/a to exercise the id tie-break; c is later.
	insertMsg(t, b, "b", "two", base)
	insertMsg(t, b, "c", "three", base.Add(time.Minute))
	insertMsg(t, b, "a", "one", base)

	msgs, err := b.Query(ctx, convID, backend.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != "a" || msgs[1].ID != "b" || msgs[2].ID != "c" {
		t.Fatalf("order wrong: %v", msgs)
	}

	after, err := b.Query(ctx, convID, backend.Filter{After: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if len(after) != 1 || after[0].ID != "c" {
		t.Fatalf("after filter returned %v", after)
	}

	limited, err := b.Query(ctx, convID, backend.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("query limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit returned %d rows", len(limited))
	}
}

func TestUpdateBumpsRevision(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	insertMsg(t, b, "m1", "v1", base)

	content := "v2"
	if err := b.Update(ctx, "m1", backend.Partial{Content: &content}); err != nil {
		t.Fatalf("update: %v", err)
	}

	msgs, _ := b.Query(ctx, convID, backend.Filter{})
	m := msgs[0]
	if m.Content != "v2" || m.Revision != 2 || m.UpdatedAt.IsZero() {
		t.Fatalf("updated row = %+v", m)
	}
}

func TestUpdateUnknownIDFails(t *testing.T) {
	b := newTestBackend(t)
	content := "x"
	err := b.Update(context.Background(), "missing", backend.Partial{Content: &content})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeletedRowsAreExcludedFromQuery(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	insertMsg(t, b, "m1", "bye", base)
	insertMsg(t, b, "m2", "stay", base.Add(time.Second))

	at := base.Add(time.Minute)
	by := "alice"
	if err := b.Update(ctx, "m1", backend.Partial{DeletedAt: &at, DeletedBy: &by}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	msgs, _ := b.Query(ctx, convID, backend.Filter{})
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Fatalf("tombstoned row leaked into query: %v", msgs)
	}
}

func TestUpdateUnionsReadByAndReplacesReactions(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	insertMsg(t, b, "m1", "hi", base)

	if err := b.Update(ctx, "m1", backend.Partial{ReadBy: map[string]struct{}{"alice": {}}}); err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	if err := b.Update(ctx, "m1", backend.Partial{ReadBy: map[string]struct{}{"bob": {}}}); err != nil {
		t.Fatalf("second receipt: %v", err)
	}

	reacts := map[string]map[string]struct{}{"👍": {"bob": {}}}
	if err := b.Update(ctx, "m1", backend.Partial{Reactions: reacts}); err != nil {
		t.Fatalf("react: %v", err)
	}

	msgs, _ := b.Query(ctx, convID, backend.Filter{})
	m := msgs[0]
	if !m.ReadByUser("alice") || !m.ReadByUser("bob") {
		t.Fatalf("readBy not unioned: %v", m.ReadBy)
	}
	if !m.HasReaction("bob", "👍") {
		t.Fatalf("reactions not stored: %v", m.Reactions)
	}

	// Wholesale replace: an empty map clears every reaction.
	if err := b.Update(ctx, "m1", backend.Partial{Reactions: map[string]map[string]struct{}{}}); err != nil {
		t.Fatalf("clear reactions: %v", err)
	}
	msgs, _ = b.Query(ctx, convID, backend.Filter{})
	if len(msgs[0].Reactions) != 0 {
		t.Fatalf("reactions not cleared: %v", msgs[0].Reactions)
	}
}

func TestSubscriptionDeliversWrites(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, convID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	insertMsg(t, b, "m1", "hello", base)
	ev := mustEvent(t, sub)
	if ev.Kind != chat.EventCreated || ev.Message.ID != "m1" {
		t.Fatalf("created event = %+v", ev)
	}

	content := "edited"
	if err := b.Update(ctx, "m1", backend.Partial{Content: &content}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev = mustEvent(t, sub)
	if ev.Kind != chat.EventMutated || ev.Message.Content != "edited" || ev.Message.Revision != 2 {
		t.Fatalf("mutated event = %+v", ev)
	}
}

func TestSubscriptionScopedToConversation(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	otherConv := "00000000-0000-0000-0000-000000000002"
	if err := b.EnsureConversation(ctx, otherConv, "bob"); err != nil {
		t.Fatalf("ensure other conversation: %v", err)
	}

	sub, _ := b.Subscribe(ctx, otherConv)
	defer sub.Close()

	insertMsg(t, b, "m1", "not for you", base)

	select {
	case ev := <-sub.Events():
		t.Fatalf("event leaked across conversations: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatusUpsertFansOutToAllSubscribers(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, convID)
	defer sub.Close()

	rec := chat.PresenceRecord{UserID: "bob", IsOnline: true, LastSeen: base}
	if err := b.UpsertStatus(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ev := mustEvent(t, sub)
	if ev.Kind != chat.EventStatus || ev.Status.UserID != "bob" || !ev.Status.IsOnline {
		t.Fatalf("status event = %+v", ev)
	}

	// Last writer wins on re-upsert.
	rec.IsOnline = false
	rec.LastSeen = base.Add(time.Minute)
	if err := b.UpsertStatus(ctx, rec); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err := b.GetStatus(ctx, "bob")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.IsOnline || !got.LastSeen.Equal(base.Add(time.Minute)) {
		t.Fatalf("status after overwrite = %+v", got)
	}
}

func TestGetStatusUnknownUser(t *testing.T) {
	b := newTestBackend(t)
	rec, err := b.GetStatus(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if rec.UserID != "stranger" || rec.IsOnline {
		t.Fatalf("unknown user record = %+v", rec)
	}
}

func TestMembershipHandlesRetractOnlyTheirOwnUser(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	alice := b.Channel("typing")
	bob := b.Channel("typing")

	events, cancel, err := alice.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if ev := mustMembership(t, events); ev.Kind != backend.MemberSync || len(ev.Members) != 0 {
		t.Fatalf("initial sync = %+v", ev)
	}

	if err := alice.Track(ctx, "alice"); err != nil {
		t.Fatalf("track alice: %v", err)
	}
	if err := bob.Track(ctx, "bob"); err != nil {
		t.Fatalf("track bob: %v", err)
	}
	mustMembership(t, events) // alice join
	if ev := mustMembership(t, events); ev.Kind != backend.MemberJoin || ev.UserID != "bob" {
		t.Fatalf("join event = %+v", ev)
	}

	// Bob's retraction must not touch alice's membership.
	if err := bob.Untrack(ctx); err != nil {
		t.Fatalf("untrack bob: %v", err)
	}
	if ev := mustMembership(t, events); ev.Kind != backend.MemberLeave || ev.UserID != "bob" {
		t.Fatalf("leave event = %+v", ev)
	}

	late, lateCancel, err := b.Channel("typing").Watch(ctx)
	if err != nil {
		t.Fatalf("late watch: %v", err)
	}
	defer lateCancel()
	if ev := mustMembership(t, late); ev.Kind != backend.MemberSync || len(ev.Members) != 1 || ev.Members[0] != "alice" {
		t.Fatalf("late sync = %+v", ev)
	}
}
