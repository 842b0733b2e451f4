// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"sort"
	"sync"

	"github.com/yessusuper/alpha-source/internal/model"
)

// DefaultStaleAfter is how many merge cycles a provisional entry may sit
// unmatched before Snapshot callers should render it as degraded. It is
// never hidden; reload recovers it.
const DefaultStaleAfter = 10

// =============================================================================
// STORE
// =============================================================================

// Store is the ordered, append-only message log for one conversation.
//
// All mutations take the store lock, so a poller goroutine and a send
// goroutine may call into the same store freely. Entries are never
// re-sorted once visible: provisional entries keep local append order, and
// a reconciliation replaces its provisional in place.
type Store struct {
	mu sync.Mutex

	conversationID string
	entries        []*model.Message

	// known tracks authoritative ids already present, giving merge an
	// O(1) membership test instead of a log scan.
	known map[int64]struct{}

	// provByTemp maps a pending provisional id to its entry index.
	provByTemp map[string]int

	// generation counts MergeAuthoritative calls; provGen records the
	// generation at which each pending provisional was appended.
	generation int64
	provGen    map[string]int64
	staleAfter int64
}

// New creates an empty store for the given conversation.
func New(conversationID string) *Store {
	return &Store{
		conversationID: conversationID,
		known:          make(map[int64]struct{}),
		provByTemp:     make(map[string]int),
		provGen:        make(map[string]int64),
		staleAfter:     DefaultStaleAfter,
	}
}

// ConversationID returns the conversation this store belongs to.
func (s *Store) ConversationID() string {
	return s.conversationID
}

// SetStaleAfter overrides the merge-cycle budget for provisional entries.
func (s *Store) SetStaleAfter(cycles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleAfter = int64(cycles)
}

// Len returns the number of visible entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// =============================================================================
// APPEND
// =============================================================================

// AppendProvisional inserts the draft at the tail and returns its
// provisional identifier. The entry is immediately visible to Snapshot.
// A missing TempID is minted; status is forced to provisional.
func (s *Store) AppendProvisional(draft *model.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := draft.Clone()
	if entry.TempID == "" {
		entry.TempID = model.MintTempID()
	}
	entry.ID = 0
	entry.Status = model.StatusProvisional

	s.provByTemp[entry.TempID] = len(s.entries)
	s.provGen[entry.TempID] = s.generation
	s.entries = append(s.entries, entry)

	return entry.TempID
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile replaces the provisional entry with the confirmed record,
// preserving its position. It is idempotent and commutes with
// MergeAuthoritative:
//
//   - provisional present, id unseen: in-place replacement (common case);
//   - provisional present, id already merged: the merged duplicate is
//     dropped and the confirmed record keeps the provisional's slot;
//   - provisional gone, id unseen: the confirmed record is appended so the
//     message is not lost;
//   - provisional gone, id present: no-op.
func (s *Store) Reconcile(provisionalID string, confirmed *model.Message) {
	if confirmed == nil || confirmed.ID == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(provisionalID, confirmed)
}

func (s *Store) reconcileLocked(provisionalID string, confirmed *model.Message) {
	idx, pending := s.provByTemp[provisionalID]
	_, seen := s.known[confirmed.ID]

	if !pending {
		if !seen {
			s.appendConfirmedLocked(confirmed)
		}
		return
	}

	if seen {
		// A poll merge already appended this record; keep the
		// provisional's slot and drop the later duplicate.
		s.removeConfirmedLocked(confirmed.ID, idx)
		idx = s.provByTemp[provisionalID]
	}

	entry := confirmed.Clone()
	entry.Status = model.StatusConfirmed
	if entry.TempID == "" {
		entry.TempID = provisionalID
	}
	s.entries[idx] = entry
	s.known[confirmed.ID] = struct{}{}
	delete(s.provByTemp, provisionalID)
	delete(s.provGen, provisionalID)
}

// =============================================================================
// MERGE
// =============================================================================

// MergeAuthoritative folds a polled batch into the log and returns the
// number of entries it added or reconciled. Unseen records are applied in
// authoritative order (server id). A record naming a pending provisional
// (by echoed temp id, or failing that by author and body) reconciles that
// entry in place; anything else is appended. Records without a server id
// are skipped, so a partial batch can never corrupt the log. Observing the
// same batch any number of times is harmless.
func (s *Store) MergeAuthoritative(batch []model.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++

	ordered := make([]model.Message, len(batch))
	copy(ordered, batch)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ID != ordered[j].ID {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	applied := 0
	for i := range ordered {
		entry := &ordered[i]
		if entry.ID == 0 {
			continue
		}
		if _, seen := s.known[entry.ID]; seen {
			continue
		}

		if tempID, ok := s.matchProvisionalLocked(entry); ok {
			s.reconcileLocked(tempID, entry)
		} else {
			s.appendConfirmedLocked(entry)
		}
		applied++
	}

	return applied
}

// matchProvisionalLocked finds the pending provisional this authoritative
// record confirms, if any.
func (s *Store) matchProvisionalLocked(entry *model.Message) (string, bool) {
	if entry.TempID != "" {
		if _, ok := s.provByTemp[entry.TempID]; ok {
			return entry.TempID, true
		}
		return "", false
	}

	// The direct response (and its echoed temp id) was lost; fall back to
	// the earliest pending entry with the same author and body.
	best := ""
	bestIdx := -1
	for tempID, idx := range s.provByTemp {
		e := s.entries[idx]
		if e.Author != entry.Author || e.Body != entry.Body {
			continue
		}
		if bestIdx == -1 || idx < bestIdx {
			best, bestIdx = tempID, idx
		}
	}
	return best, bestIdx != -1
}

func (s *Store) appendConfirmedLocked(entry *model.Message) {
	cp := entry.Clone()
	cp.Status = model.StatusConfirmed
	s.entries = append(s.entries, cp)
	s.known[cp.ID] = struct{}{}
}

// removeConfirmedLocked drops the confirmed entry with the given id,
// skipping the index that holds the provisional being reconciled, and
// repairs the provisional index map.
func (s *Store) removeConfirmedLocked(id int64, keepIdx int) {
	for i, e := range s.entries {
		if i == keepIdx || e.ID != id {
			continue
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		for tempID, idx := range s.provByTemp {
			if idx > i {
				s.provByTemp[tempID] = idx - 1
			}
		}
		return
	}
}

// =============================================================================
// READ SIDE
// =============================================================================

// Snapshot returns an ordered copy of the log for rendering. Callers may
// re-snapshot at any time; the result never aliases store memory.
func (s *Store) Snapshot() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// StaleProvisionals returns provisional entries that have outlived the
// merge-cycle budget without being matched. They stay visible; the caller
// decides how to distinguish them.
func (s *Store) StaleProvisionals() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleAfter <= 0 {
		return nil
	}

	var out []*model.Message
	for tempID, idx := range s.provByTemp {
		if s.generation-s.provGen[tempID] >= s.staleAfter {
			out = append(out, s.entries[idx].Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TempID < out[j].TempID })
	return out
}
