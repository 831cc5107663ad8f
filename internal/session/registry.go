package session

import (
	"sort"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/channel"
)

// Session is the engine-owned record for one peer session.
type Session struct {
	id      ID
	state   State
	opened  time.Time
	conn    SignalingConn
	peer    Peer
	handler channel.Handler
	// facade is handed to the factory once the transport opens.
	facade *facade
	timer  *time.Timer
}

func (s *Session) ID() ID       { return s.id }
func (s *Session) State() State { return s.state }

// Registry maps session ids to sessions.
//
// It is not safe for concurrent use; only the engine goroutine touches it.
type Registry struct {
	sessions map[ID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[ID]*Session)}
}

// Insert adds s, replacing nothing. It reports false if the id is taken.
func (r *Registry) Insert(s *Session) bool {
	if _, ok := r.sessions[s.id]; ok {
		return false
	}
	r.sessions[s.id] = s
	return true
}

func (r *Registry) Get(id ID) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes and returns the session for id, if any.
func (r *Registry) Remove(id ID) (*Session, bool) {
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *Registry) Len() int { return len(r.sessions) }

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
