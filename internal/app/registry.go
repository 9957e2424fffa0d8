package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

var (
	ErrDuplicateConnection = errors.New("connection id already registered")
	ErrUnknownConnection   = errors.New("unknown connection id")
)

// Conn is one live signaling connection's registry state. Room is empty until
// the connection joins a meeting; a connection belongs to at most one room.
type Conn struct {
	ID          domain.ConnID
	UserID      domain.UserID
	DisplayName string
	Room        domain.RoomID
	Signal      core.SignalConnection
}

// Registry tracks every live signaling connection and its room membership.
// One mutex guards the whole map; every accessor returns copies so call sites
// cannot bypass the exclusion discipline.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*Conn)}
}

func (r *Registry) Register(c Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return ErrDuplicateConnection
	}
	stored := c
	r.conns[c.ID] = &stored
	log.Info().Str("module", "app.registry").Str("conn", string(c.ID)).Str("user", string(c.UserID)).Msg("connection registered")
	return nil
}

// SetRoom sets or overwrites the connection's room id. Idempotent.
func (r *Registry) SetRoom(id domain.ConnID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.Room = room
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(room)).Msg("room set")
	return nil
}

// Remove deletes the connection and returns its last-known state so callers
// can emit a departure notification for the room it was in.
func (r *Registry) Remove(id domain.ConnID) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Conn{}, false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("connection removed")
	return *c, true
}

func (r *Registry) Get(id domain.ConnID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Conn{}, false
	}
	return *c, true
}

// ListRoomMembers snapshots the connections currently in the room, optionally
// skipping one connection id. The snapshot reflects membership at call time;
// races with concurrent join/leave self-correct through later announcements.
func (r *Registry) ListRoomMembers(room domain.RoomID, excluding domain.ConnID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if c.Room != room || id == excluding {
			continue
		}
		out = append(out, *c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCounts reports live member counts per room for the listing endpoint.
func (r *Registry) RoomCounts() map[domain.RoomID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.RoomID]int)
	for _, c := range r.conns {
		if c.Room != "" {
			out[c.Room]++
		}
	}
	return out
}
