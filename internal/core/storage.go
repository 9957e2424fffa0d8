package core

import (
	"context"

	"github.com/broadcomms/meeting-ledger/internal/domain"
)

// Storage is the persistence collaborator of the surrounding application.
// The realtime core calls it exactly once per finished session and to
// attribute events to a human-readable identity; everything else about
// persistence lives outside this module.
type Storage interface {
	SaveTranscript(ctx context.Context, t domain.Transcript) (domain.TranscriptID, error)
	FetchUserDisplay(ctx context.Context, id domain.UserID) (domain.UserDisplay, error)
}
