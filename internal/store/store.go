// Package store holds the process-wide session state shared by every
// concurrent call: per-session conversation turns and last-access times,
// plus the reaper that finalizes idle sessions.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Turn is one (role, content) exchange entry in a session's history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type session struct {
	turns      []Turn
	lastAccess time.Time
	finalized  bool
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// Store is a sharded session map. Locking is per shard rather than global so
// unrelated sessions never contend; all mutations to one session serialize on
// its shard lock.
type Store struct {
	shards [shardCount]*shard
	clock  func() time.Time
}

func New() *Store {
	s := &Store{clock: func() time.Time { return time.Now().UTC() }}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*session)}
	}
	return s
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%shardCount]
}

// getLocked returns the session for id, inserting an empty one if absent.
// Caller must hold the shard write lock.
func (sh *shard) getLocked(id string, now time.Time) *session {
	sess, ok := sh.sessions[id]
	if !ok {
		sess = &session{lastAccess: now}
		sh.sessions[id] = sess
	}
	return sess
}

// Append adds a turn to the session's history, creating the session when it
// does not exist yet. The turn sequence is append-only.
func (s *Store) Append(id string, turn Turn) {
	now := s.clock()
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess := sh.getLocked(id, now)
	sess.turns = append(sess.turns, turn)
	if now.After(sess.lastAccess) {
		sess.lastAccess = now
	}
}

// History returns a copy of the session's turns in append order, creating the
// session when absent.
func (s *Store) History(id string) []Turn {
	now := s.clock()
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess := sh.getLocked(id, now)
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Touch bumps the session's last-access timestamp, creating the session when
// absent. The timestamp never moves backwards.
func (s *Store) Touch(id string) {
	now := s.clock()
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess := sh.getLocked(id, now)
	if now.After(sess.lastAccess) {
		sess.lastAccess = now
	}
}

// Remove deletes the session. Removing an absent id is a no-op.
func (s *Store) Remove(id string) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, id)
}

// Len reports the total session count across all shards.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// LastAccess reports the session's last-access time. The second return is
// false when the session does not exist; this accessor never auto-creates.
func (s *Store) LastAccess(id string) (time.Time, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sess, ok := sh.sessions[id]
	if !ok {
		return time.Time{}, false
	}
	return sess.lastAccess, true
}

// IdleLongerThan returns ids of sessions whose last access is older than
// timeout, excluding sessions already claimed for finalization.
func (s *Store) IdleLongerThan(timeout time.Duration) []string {
	now := s.clock()
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, sess := range sh.sessions {
			if !sess.finalized && now.Sub(sess.lastAccess) > timeout {
				out = append(out, id)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// OverflowVictims returns the ids to evict so the store shrinks to max
// sessions, ordered oldest last-access first. Empty when within bounds.
func (s *Store) OverflowVictims(max int) []string {
	type entry struct {
		id         string
		lastAccess time.Time
	}
	var all []entry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, sess := range sh.sessions {
			if !sess.finalized {
				all = append(all, entry{id: id, lastAccess: sess.lastAccess})
			}
		}
		sh.mu.RUnlock()
	}
	if len(all) <= max {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastAccess.Before(all[j].lastAccess) })
	overflow := len(all) - max
	out := make([]string, 0, overflow)
	for _, e := range all[:overflow] {
		out = append(out, e.id)
	}
	return out
}

// Claim marks the session as finalized so concurrent reaper passes do not
// pick it twice. Returns false when the session is absent or already claimed.
func (s *Store) Claim(id string) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok || sess.finalized {
		return false
	}
	sess.finalized = true
	return true
}
