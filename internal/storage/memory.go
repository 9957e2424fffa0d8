// Package storage holds the in-process implementation of the persistence
// collaborator. The real application persists transcripts elsewhere; this
// keeps the realtime core runnable and testable on its own.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

type Memory struct {
	mu          sync.RWMutex
	transcripts map[domain.TranscriptID]domain.Transcript
	users       map[domain.UserID]domain.UserDisplay
}

func NewMemory() *Memory {
	return &Memory{
		transcripts: make(map[domain.TranscriptID]domain.Transcript),
		users:       make(map[domain.UserID]domain.UserDisplay),
	}
}

var _ core.Storage = (*Memory)(nil)

func (m *Memory) SaveTranscript(_ context.Context, t domain.Transcript) (domain.TranscriptID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = domain.TranscriptID(uuid.NewString())
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.transcripts[t.ID] = t
	return t.ID, nil
}

// FetchUserDisplay falls back to a guest identity for unknown users, so
// attribution never blocks the pipeline.
func (m *Memory) FetchUserDisplay(_ context.Context, id domain.UserID) (domain.UserDisplay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.users[id]; ok {
		return d, nil
	}
	return domain.UserDisplay{DisplayName: "guest"}, nil
}

// PutUserDisplay validates and stores a user's display identity.
func (m *Memory) PutUserDisplay(id domain.UserID, name, avatar string) (domain.UserDisplay, error) {
	d, err := domain.NewUserDisplay(name, avatar)
	if err != nil {
		return domain.UserDisplay{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = d
	return d, nil
}

func (m *Memory) Transcripts(meeting domain.MeetingID) []domain.Transcript {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Transcript, 0)
	for _, t := range m.transcripts {
		if t.MeetingID == meeting {
			out = append(out, t)
		}
	}
	return out
}
