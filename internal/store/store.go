// Package store holds the client-local ordered cache of a conversation's
// messages. The store is not internally synchronized: all mutation paths are
// expected to funnel through the sync controller's apply loop, which owns the
// store for its conversation.
package store

import (
	"sort"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/chat"
)

// Store keeps at most one live message per id plus a memory of every
// tombstoned id so late duplicate deliveries cannot resurrect deleted
// messages.
type Store struct {
	messages   map[string]*chat.Message
	order      []string // live ids in (CreatedAt, ID) order
	tombstoned map[string]struct{}
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		messages:   make(map[string]*chat.Message),
		tombstoned: make(map[string]struct{}),
	}
}

// Len returns the number of live messages.
func (s *Store) Len() int {
	return len(s.order)
}

// Known reports whether id is held live or remembered as tombstoned.
func (s *Store) Known(id string) bool {
	if _, ok := s.messages[id]; ok {
		return true
	}
	_, ok := s.tombstoned[id]
	return ok
}

// Tombstoned reports whether id has been soft-deleted.
func (s *Store) Tombstoned(id string) bool {
	_, ok := s.tombstoned[id]
	return ok
}

// Get returns a copy of the live message with the given id.
func (s *Store) Get(id string) (*chat.Message, bool) {
	m, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Insert adds a message if its id is not already known, live or tombstoned.
// Returns true if the message was added. A message arriving with its
// tombstone already set is recorded as tombstoned, never shown.
func (s *Store) Insert(m *chat.Message) bool {
	if s.Known(m.ID) {
		return false
	}
	if m.Deleted() {
		s.tombstoned[m.ID] = struct{}{}
		return false
	}
	s.messages[m.ID] = m.Clone()
	s.insertOrdered(m.ID)
	return true
}

// Replace overwrites the live message with the same id. Returns false if the
// id is not live or the incoming copy is strictly staler than the held one.
func (s *Store) Replace(m *chat.Message) bool {
	held, ok := s.messages[m.ID]
	if !ok {
		return false
	}
	if m.StalerThan(held) {
		return false
	}
	s.messages[m.ID] = m.Clone()
	// CreatedAt is immutable after insert, so the order slice stays valid.
	return true
}

// Revert overwrites the held copy unconditionally, bypassing the staleness
// gate. Only optimistic rollback paths use it.
func (s *Store) Revert(m *chat.Message) {
	if _, ok := s.messages[m.ID]; ok {
		s.messages[m.ID] = m.Clone()
	}
}

// Tombstone removes the message from the live set and remembers the id so
// no later created/mutated delivery can re-add it. Returns the removed
// message for rollback, or nil if the id was not live.
func (s *Store) Tombstone(id string) *chat.Message {
	s.tombstoned[id] = struct{}{}
	held, ok := s.messages[id]
	if !ok {
		return nil
	}
	delete(s.messages, id)
	s.removeOrdered(id)
	return held
}

// Restore undoes an optimistic tombstone after a failed delete, making the
// message live again.
func (s *Store) Restore(m *chat.Message) {
	delete(s.tombstoned, m.ID)
	s.messages[m.ID] = m.Clone()
	s.insertOrdered(m.ID)
}

// Drop removes a message without leaving a tombstone. Used to roll back an
// optimistic insert whose persist failed; the id was never authoritative so
// a real message may legitimately reuse it later.
func (s *Store) Drop(id string) {
	if _, ok := s.messages[id]; !ok {
		return
	}
	delete(s.messages, id)
	s.removeOrdered(id)
}

// ReplaceAll swaps in an authoritative snapshot wholesale, discarding
// incremental state. Tombstone memory is kept: the reload excludes deleted
// rows, and forgetting the ids would reopen the resurrection window.
func (s *Store) ReplaceAll(msgs []*chat.Message) {
	s.messages = make(map[string]*chat.Message, len(msgs))
	s.order = s.order[:0]
	for _, m := range msgs {
		if m.Deleted() {
			s.tombstoned[m.ID] = struct{}{}
			continue
		}
		if _, ok := s.tombstoned[m.ID]; ok {
			continue
		}
		if _, ok := s.messages[m.ID]; ok {
			continue
		}
		s.messages[m.ID] = m.Clone()
		s.order = append(s.order, m.ID)
	}
	sort.Slice(s.order, func(i, j int) bool {
		return s.messages[s.order[i]].Before(s.messages[s.order[j]])
	})
}

// Snapshot returns the live messages in canonical order as copies.
func (s *Store) Snapshot() []*chat.Message {
	out := make([]*chat.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messages[id].Clone())
	}
	return out
}

// MarkRead unions userID into the message's read set. Idempotent.
// Returns true if the set grew.
func (s *Store) MarkRead(id, userID string) bool {
	m, ok := s.messages[id]
	if !ok {
		return false
	}
	if _, seen := m.ReadBy[userID]; seen {
		return false
	}
	if m.ReadBy == nil {
		m.ReadBy = make(map[string]struct{})
	}
	m.ReadBy[userID] = struct{}{}
	return true
}

// MergeReadBy unions a remote read set into the held message.
func (s *Store) MergeReadBy(id string, readBy map[string]struct{}) {
	for u := range readBy {
		s.MarkRead(id, u)
	}
}

// ToggleReaction flips membership of userID in reactions[emoji]. An emptied
// emoji key is dropped to keep the map sparse. Returns the resulting
// membership and whether the message was found.
func (s *Store) ToggleReaction(id, userID, emoji string) (added, ok bool) {
	m, found := s.messages[id]
	if !found {
		return false, false
	}
	if _, has := m.Reactions[emoji][userID]; has {
		delete(m.Reactions[emoji], userID)
		if len(m.Reactions[emoji]) == 0 {
			delete(m.Reactions, emoji)
		}
		return false, true
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string]map[string]struct{})
	}
	if m.Reactions[emoji] == nil {
		m.Reactions[emoji] = make(map[string]struct{})
	}
	m.Reactions[emoji][userID] = struct{}{}
	return true, true
}

// SetDeleted marks the held copy of id as deleted and tombstones it, used
// when the local user soft-deletes optimistically. Returns the prior live
// copy for rollback, or nil if the id was not live.
func (s *Store) SetDeleted(id, by string, at time.Time) *chat.Message {
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	prior := m.Clone()
	m.DeletedAt = at
	m.DeletedBy = by
	s.Tombstone(id)
	return prior
}

func (s *Store) insertOrdered(id string) {
	m := s.messages[id]
	at := sort.Search(len(s.order), func(i int) bool {
		return m.Before(s.messages[s.order[i]])
	})
	s.order = append(s.order, "")
	copy(s.order[at+1:], s.order[at:])
	s.order[at] = id
}

func (s *Store) removeOrdered(id string) {
	for i, held := range s.order {
		if held == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
