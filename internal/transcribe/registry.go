package transcribe

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/domain"
	"github.com/broadcomms/meeting-ledger/internal/metrics"
)

// Registry is the concurrency-safe map of live sessions, enforcing at most
// one active session per (meeting, speaker) key. A start for a key that is
// already live stops and finalizes the old session before the new one runs:
// last writer wins, no orphaned workers, no lost partial transcript.
type Registry struct {
	mu       sync.Mutex
	sessions map[domain.SessionKey]*Session
	// failed parks sessions whose transcript write failed so a client can
	// retry the persistence without losing the accumulated text.
	failed map[domain.SessionKey]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionKey]*Session),
		failed:   make(map[domain.SessionKey]*Session),
	}
}

// Start replaces-then-starts under the shared lock. The synchronous stop of a
// stale session is the documented tie-break for "start called twice for the
// same key"; its persistence write happens before the new session exists.
// replaced reports whether a stale session was stopped first.
func (r *Registry) Start(ctx context.Context, key domain.SessionKey, factory func() (*Session, error)) (s *Session, replaced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[key]; ok {
		log.Info().Str("module", "transcribe.registry").Str("key", key.String()).Msg("duplicate start, stopping stale session")
		delete(r.sessions, key)
		if _, serr := old.Stop(ctx, ""); serr != nil {
			r.failed[key] = old
			log.Error().Err(serr).Str("module", "transcribe.registry").Str("key", key.String()).Msg("stale session finalize failed, parked for retry")
		}
		replaced = true
	}

	s, err = factory()
	if err != nil {
		return nil, replaced, err
	}
	s.onDone = func() { r.removeIfCurrent(key, s) }
	if err = s.Start(ctx); err != nil {
		return nil, replaced, err
	}
	r.sessions[key] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return s, replaced, nil
}

// Get returns the live session for key, if any.
func (r *Registry) Get(key domain.SessionKey) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Stop removes and stops the session if one is live. stopped=false means
// there was nothing to stop, which callers report back informally, not as an
// error. A persistence failure parks the session for retry-finalize.
func (r *Registry) Stop(ctx context.Context, key domain.SessionKey, origin domain.ConnID) (stopped bool, err error) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	if _, err = s.Stop(ctx, origin); err != nil {
		r.mu.Lock()
		r.failed[key] = s
		r.mu.Unlock()
		return true, err
	}
	return true, nil
}

// StopOwnedBy stops every session started by the given connection. Used on
// disconnect so a speaker's pipeline never outlives its socket.
func (r *Registry) StopOwnedBy(ctx context.Context, owner domain.ConnID) int {
	r.mu.Lock()
	var keys []domain.SessionKey
	for key, s := range r.sessions {
		if s.Owner == owner {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()

	for _, key := range keys {
		if _, err := r.Stop(ctx, key, ""); err != nil {
			log.Error().Err(err).Str("module", "transcribe.registry").Str("key", key.String()).Msg("stop on disconnect failed")
		}
	}
	return len(keys)
}

// RetryFinalize re-attempts the transcript write of a parked session.
func (r *Registry) RetryFinalize(ctx context.Context, key domain.SessionKey, origin domain.ConnID) (domain.TranscriptID, bool, error) {
	r.mu.Lock()
	s, ok := r.failed[key]
	r.mu.Unlock()
	if !ok {
		return "", false, nil
	}

	id, err := s.Finalize(ctx, origin)
	if err != nil {
		return "", true, err
	}
	r.mu.Lock()
	delete(r.failed, key)
	r.mu.Unlock()
	return id, true, nil
}

// StopAll stops every live session, tolerating individual failures. Used on
// process shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	snapshot := make(map[domain.SessionKey]*Session, len(r.sessions))
	for key, s := range r.sessions {
		snapshot[key] = s
	}
	r.sessions = make(map[domain.SessionKey]*Session)
	metrics.ActiveSessions.Set(0)
	r.mu.Unlock()

	for key, s := range snapshot {
		if _, err := s.Stop(ctx, ""); err != nil {
			log.Error().Err(err).Str("module", "transcribe.registry").Str("key", key.String()).Msg("stop during shutdown failed")
		}
	}
}

// Active reports the number of live sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// removeIfCurrent drops key only if it still maps to s; a replacement that
// raced the worker's own shutdown stays untouched.
func (r *Registry) removeIfCurrent(key domain.SessionKey, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[key]; ok && cur == s {
		delete(r.sessions, key)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
}
