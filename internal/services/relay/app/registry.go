package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/polyglot.chat/internal/platform/id"
	"github.com/louisbranch/polyglot.chat/internal/services/relay/lang"
)

var errSessionNotFound = errors.New("session not found")

// session is the registry record for one live connection. Snapshots hand
// out value copies, so mutation happens only inside the registry lock.
type session struct {
	ConnID        string
	UserID        string
	Nickname      string
	LanguageCode  string
	ConnectedAt   time.Time
	LastHeartbeat time.Time

	peer *peer
	seq  uint64
}

// visible reports whether the session participates in presence and
// messaging. The transition is one-way: nicknames are validated non-empty
// before they reach the registry.
func (s session) visible() bool {
	return s.Nickname != ""
}

type heartbeatRecord struct {
	ConnID        string
	LastHeartbeat time.Time
}

// registry is the authoritative in-memory table of connected sessions,
// keyed by connection id. All access is serialized by one mutex so the
// event path and the heartbeat sweep never observe torn state.
type registry struct {
	mu       sync.Mutex
	nextSeq  uint64
	sessions map[string]*session
	clock    func() time.Time
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*session),
		clock:    time.Now,
	}
}

// create registers a new, not-yet-visible session and returns its user id.
func (r *registry) create(connID string, p *peer) (string, error) {
	userID, err := id.NewID()
	if err != nil {
		return "", err
	}

	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	r.sessions[connID] = &session{
		ConnID:        connID,
		UserID:        userID,
		LanguageCode:  lang.FromLabel(lang.DefaultLabel).Code,
		ConnectedAt:   now,
		LastHeartbeat: now,
		peer:          p,
		seq:           r.nextSeq,
	}
	return userID, nil
}

// setIdentity promotes the session to visible and refreshes its liveness.
// Re-identification of an already-visible session is allowed and simply
// updates nickname and language.
func (r *registry) setIdentity(connID string, nickname string, languageCode string) (session, error) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.sessions[connID]
	if !ok {
		return session{}, errSessionNotFound
	}
	record.Nickname = nickname
	record.LanguageCode = languageCode
	record.LastHeartbeat = now
	return *record, nil
}

// touchHeartbeat refreshes the liveness timestamp. Sending activity counts
// as liveness, so the fan-out path calls this too.
func (r *registry) touchHeartbeat(connID string) error {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.sessions[connID]
	if !ok {
		return errSessionNotFound
	}
	record.LastHeartbeat = now
	return nil
}

// get returns a copy of the session if it exists.
func (r *registry) get(connID string) (session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.sessions[connID]
	if !ok {
		return session{}, false
	}
	return *record, true
}

// remove deletes the session and returns the removed copy. Removing an
// absent connection is a no-op, which makes transport disconnects and
// sweep evictions idempotent against each other.
func (r *registry) remove(connID string) (session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.sessions[connID]
	if !ok {
		return session{}, false
	}
	delete(r.sessions, connID)
	return *record, true
}

// snapshotVisible returns copies of all visible sessions in registration
// order. Callers iterate the copy, never the live map.
func (r *registry) snapshotVisible() []session {
	return r.snapshot(func(s *session) bool { return s.visible() })
}

// snapshotAll returns copies of every registered session in registration
// order, identified or not.
func (r *registry) snapshotAll() []session {
	return r.snapshot(func(*session) bool { return true })
}

func (r *registry) snapshot(keep func(*session) bool) []session {
	r.mu.Lock()
	out := make([]session, 0, len(r.sessions))
	for _, record := range r.sessions {
		if keep(record) {
			out = append(out, *record)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// heartbeats returns the liveness timestamps for the sweep.
func (r *registry) heartbeats() []heartbeatRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]heartbeatRecord, 0, len(r.sessions))
	for _, record := range r.sessions {
		out = append(out, heartbeatRecord{ConnID: record.ConnID, LastHeartbeat: record.LastHeartbeat})
	}
	return out
}
