package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestInitialSyncLoadsAuthoritativeSnapshot(t *testing.T) {
	be := &fakeBackend{rows: []*chat.Message{
		testMsg("m2", "second", base.Add(time.Second)),
		testMsg("m1", "first", base),
	}}
	c, cancel := startController(t, be, nil)
	defer cancel()

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 2 || snap[0].ID != "m1" || snap[1].ID != "m2" {
		t.Fatalf("snapshot order wrong: %v", snap)
	}
}

func TestDuplicateCreatedDeliveryIsIgnored(t *testing.T) {
	be := &fakeBackend{}
	c, cancel := startController(t, be, nil)
	defer cancel()

	sub := be.currentSub()
	sub.events <- created(testMsg("m1", "hello", base))
	sub.events <- created(testMsg("m1", "hello again", base))

	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 1 })

	snap, _ := c.Snapshot(context.Background())
	if snap[0].Content != "hello" {
		t.Fatalf("duplicate delivery overwrote content: %q", snap[0].Content)
	}
}

func TestTombstoneIsFinal(t *testing.T) {
	be := &fakeBackend{}
	c, cancel := startController(t, be, nil)
	defer cancel()

	sub := be.currentSub()
	sub.events <- created(testMsg("m1", "hello", base))
	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 1 })

	del := testMsg("m1", "hello", base)
	del.DeletedAt = base.Add(time.Minute)
	del.DeletedBy = "alice"
	del.Revision = 2
	sub.events <- mutated(del)
	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 0 })

	// A redelivered create and a non-delete edit both arrive after the
	// tombstone; neither may bring the message back.
	sub.events <- created(testMsg("m1", "hello", base))
	edit := testMsg("m1", "edited", base)
	edit.Revision = 3
	sub.events <- mutated(edit)
	sub.events <- created(testMsg("m2", "alive", base.Add(2*time.Minute)))

	waitSnapshot(t, c, func(snap []*chat.Message) bool {
		return len(snap) == 1 && snap[0].ID == "m2"
	})
}

func TestStaleMutationIsRejected(t *testing.T) {
	be := &fakeBackend{}
	c, cancel := startController(t, be, nil)
	defer cancel()

	sub := be.currentSub()
	sub.events <- created(testMsg("m1", "v1", base))

	newer := testMsg("m1", "v3", base)
	newer.Revision = 3
	sub.events <- mutated(newer)
	waitSnapshot(t, c, func(snap []*chat.Message) bool {
		return len(snap) == 1 && snap[0].Content == "v3"
	})

	older := testMsg("m1", "v2", base)
	older.Revision = 2
	sub.events <- mutated(older)
	// Push a sentinel so we know the stale event has been consumed.
	sub.events <- created(testMsg("sentinel", "x", base.Add(time.Hour)))
	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 2 })

	snap, _ := c.Snapshot(context.Background())
	if snap[0].Content != "v3" {
		t.Fatalf("stale delivery won: %q", snap[0].Content)
	}
}

func TestMutationBeforeCreateInsertsPayload(t *testing.T) {
	be := &fakeBackend{}
	c, cancel := startController(t, be, nil)
	defer cancel()

	sub := be.currentSub()
	edit := testMsg("m1", "edited", base)
	edit.Revision = 2
	sub.events <- mutated(edit)
	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 1 })

	// The create finally lands and must dedup against the inserted update.
	sub.events <- created(testMsg("m1", "original", base))
	sub.events <- created(testMsg("sentinel", "x", base.Add(time.Hour)))
	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 2 })

	snap, _ := c.Snapshot(context.Background())
	if snap[0].Content != "edited" {
		t.Fatalf("late create rolled back the edit: %q", snap[0].Content)
	}
}

func TestRemoteMutationKeepsLocalReadMarks(t *testing.T) {
	be := &fakeBackend{}
	c, cancel := startController(t, be, nil)
	defer cancel()

	sub := be.currentSub()
	sub.events <- created(testMsg("m1", "hello", base))
	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 1 })

	if err := c.Do(context.Background(), func() {
		c.MessageStore().MarkRead("m1", "bob")
	}); err != nil {
		t.Fatalf("do: %v", err)
	}

	// Remote copy has not observed bob's receipt yet.
	edit := testMsg("m1", "edited", base)
	edit.Revision = 2
	sub.events <- mutated(edit)

	waitSnapshot(t, c, func(snap []*chat.Message) bool {
		return snap[0].Content == "edited" && snap[0].ReadByUser("bob")
	})
}

func TestStatusEventsAreForwarded(t *testing.T) {
	got := make(chan chat.PresenceRecord, 1)
	be := &fakeBackend{}
	_, cancel := startController(t, be, func(rec chat.PresenceRecord) { got <- rec })
	defer cancel()

	rec := chat.PresenceRecord{UserID: "bob", IsOnline: true, LastSeen: base}
	be.currentSub().events <- chat.Event{Kind: chat.EventStatus, Status: &rec}

	select {
	case r := <-got:
		if r.UserID != "bob" || !r.IsOnline {
			t.Fatalf("forwarded record = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status record never reached the sink")
	}
}

func TestChannelDropDegradesThenResyncs(t *testing.T) {
	be := &fakeBackend{rows: []*chat.Message{testMsg("m1", "hello", base)}}
	c, cancel := startController(t, be, nil)
	defer cancel()

	// Mutations land server-side while the channel is down; only the
	// wholesale reload can recover them.
	be.setRows([]*chat.Message{
		testMsg("m1", "hello", base),
		testMsg("m2", "missed while down", base.Add(time.Second)),
	})
	be.currentSub().fail(chat.ErrDisconnected)

	waitState(t, c, StateDegraded)
	waitState(t, c, StateSynced)

	if n := be.subscribeCount(); n < 2 {
		t.Fatalf("subscribe count = %d, want a re-subscription", n)
	}
	waitSnapshot(t, c, func(snap []*chat.Message) bool {
		return len(snap) == 2 && snap[1].ID == "m2"
	})
}

func TestResyncDoesNotResurrectTombstonedRows(t *testing.T) {
	be := &fakeBackend{rows: []*chat.Message{testMsg("m1", "hello", base)}}
	c, cancel := startController(t, be, nil)
	defer cancel()

	del := testMsg("m1", "hello", base)
	del.DeletedAt = base.Add(time.Minute)
	del.Revision = 2
	be.currentSub().events <- mutated(del)
	waitSnapshot(t, c, func(snap []*chat.Message) bool { return len(snap) == 0 })

	// The backend replica still carries the row live when the channel drops.
	be.currentSub().fail(chat.ErrDisconnected)
	waitState(t, c, StateDegraded)
	waitState(t, c, StateSynced)

	snap, _ := c.Snapshot(context.Background())
	if len(snap) != 0 {
		t.Fatalf("resync resurrected tombstoned row: %v", snap)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	be := &fakeBackend{}
	c := New(convID, be, be, nil, log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitState(t, c, StateSynced)

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state after stop = %s, want %s", c.State(), StateDisconnected)
	}
}
