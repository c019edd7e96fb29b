// Package interaction applies likes, views and comments optimistically and
// reverts them exactly when the backend refuses.
package interaction

import (
	"sync"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/google/uuid"
)

// Kind is the interaction counter a mutation changes.
type Kind string

const (
	KindLike    Kind = "like"
	KindView    Kind = "view"
	KindComment Kind = "comment"
)

// Phase is the lifecycle position of an interaction key.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePending    Phase = "pending"
	PhaseConfirmed  Phase = "confirmed"
	PhaseRolledBack Phase = "rolledBack"
)

// Key identifies one counter of one resource.
type Key struct {
	ID   content.ResourceID
	Kind Kind
}

// State is the optimistic view of one counter.
type State struct {
	CommittedCount int64
	LocallyLiked   bool
	PendingDelta   int64
	Phase          Phase
}

// Count is the value presentation code shows.
func (s State) Count() int64 {
	return s.CommittedCount + s.PendingDelta
}

// Mutation is one optimistic change awaiting confirmation.
type Mutation struct {
	ID          string
	Key         Key
	Delta       int64
	likedBefore bool
	likedAfter  bool
}

type ledgerEntry struct {
	state   State
	pending []Mutation
}

// Ledger holds interaction state for every key. All methods are synchronous.
type Ledger struct {
	mu          sync.Mutex
	allowUnlike bool
	entries     map[Key]*ledgerEntry
}

// NewLedger returns an empty ledger. allowUnlike selects toggle mode over one-shot likes.
func NewLedger(allowUnlike bool) *Ledger {
	return &Ledger{allowUnlike: allowUnlike, entries: make(map[Key]*ledgerEntry)}
}

// State returns the current state of key.
func (l *Ledger) State(key Key) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryFor(key).state
}

// Seed installs the server's count and like flag for key.
// Keys with pending mutations are left untouched and Seed reports false.
func (l *Ledger) Seed(key Key, count int64, liked bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entryFor(key)
	if len(entry.pending) > 0 {
		return false
	}
	entry.state.CommittedCount = count
	entry.state.LocallyLiked = liked
	entry.state.PendingDelta = 0
	entry.state.Phase = PhaseIdle
	return true
}

// ApplyOptimistic changes the counter of (id, kind) by delta before any network call.
// For likes a positive delta likes and a negative delta unlikes; repeated likes and
// disallowed unlikes are no-ops and report false.
func (l *Ledger) ApplyOptimistic(id content.ResourceID, kind Kind, delta int64) (Mutation, bool) {
	if delta == 0 {
		return Mutation{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := Key{ID: id, Kind: kind}
	entry := l.entryFor(key)

	mutation := Mutation{
		ID:          uuid.NewString(),
		Key:         key,
		Delta:       delta,
		likedBefore: entry.state.LocallyLiked,
		likedAfter:  entry.state.LocallyLiked,
	}
	if kind == KindLike {
		switch {
		case delta > 0 && entry.state.LocallyLiked:
			return Mutation{}, false
		case delta < 0 && (!l.allowUnlike || !entry.state.LocallyLiked):
			return Mutation{}, false
		}
		mutation.Delta = 1
		if delta < 0 {
			mutation.Delta = -1
		}
		mutation.likedAfter = delta > 0
	}

	entry.state.PendingDelta += mutation.Delta
	entry.state.LocallyLiked = mutation.likedAfter
	entry.state.Phase = PhasePending
	entry.pending = append(entry.pending, mutation)
	return mutation, true
}

// Confirm settles mutation. A server count replaces the committed count and the
// deltas of mutations still pending stay on top of it.
func (l *Ledger) Confirm(mutation Mutation, serverCount *int64) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entryFor(mutation.Key)
	if !entry.remove(mutation.ID) {
		return entry.state, false
	}
	entry.state.PendingDelta -= mutation.Delta
	if serverCount != nil {
		entry.state.CommittedCount = *serverCount
	} else {
		entry.state.CommittedCount += mutation.Delta
	}
	if len(entry.pending) == 0 {
		entry.state.Phase = PhaseConfirmed
	}
	return entry.state, true
}

// Rollback reverses exactly the delta of mutation. Rolling back a mutation that is
// no longer pending is a no-op and reports false.
func (l *Ledger) Rollback(mutation Mutation) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entryFor(mutation.Key)
	if !entry.remove(mutation.ID) {
		return entry.state, false
	}
	entry.state.PendingDelta -= mutation.Delta
	if mutation.Key.Kind == KindLike {
		entry.state.LocallyLiked = mutation.likedBefore
	}
	if len(entry.pending) == 0 {
		entry.state.Phase = PhaseRolledBack
	}
	return entry.state, true
}

func (l *Ledger) entryFor(key Key) *ledgerEntry {
	entry, ok := l.entries[key]
	if !ok {
		entry = &ledgerEntry{state: State{Phase: PhaseIdle}}
		l.entries[key] = entry
	}
	return entry
}

func (e *ledgerEntry) remove(mutationID string) bool {
	for index, pending := range e.pending {
		if pending.ID == mutationID {
			e.pending = append(e.pending[:index], e.pending[index+1:]...)
			return true
		}
	}
	return false
}
