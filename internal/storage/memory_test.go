package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broadcomms/meeting-ledger/internal/domain"
)

func TestSaveTranscriptAssignsID(t *testing.T) {
	m := NewMemory()

	id1, err := m.SaveTranscript(context.Background(), domain.Transcript{
		MeetingID: "42", SpeakerID: "alice", Text: "hello world",
	})
	require.NoError(t, err)
	id2, err := m.SaveTranscript(context.Background(), domain.Transcript{
		MeetingID: "42", SpeakerID: "bob", Text: "good morning",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	saved := m.Transcripts("42")
	require.Len(t, saved, 2)
	for _, tr := range saved {
		assert.False(t, tr.CreatedAt.IsZero())
	}
	assert.Empty(t, m.Transcripts("other"))
}

func TestFetchUserDisplayFallsBackToGuest(t *testing.T) {
	m := NewMemory()
	_, err := m.PutUserDisplay("alice", "Alice", "a.png")
	require.NoError(t, err)

	d, err := m.FetchUserDisplay(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", d.DisplayName)
	assert.Equal(t, "a.png", d.AvatarRef)

	d, err = m.FetchUserDisplay(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Equal(t, "guest", d.DisplayName)
}

func TestPutUserDisplayValidates(t *testing.T) {
	m := NewMemory()

	_, err := m.PutUserDisplay("u1", "", "")
	assert.ErrorIs(t, err, domain.ErrDisplayNameEmpty)

	_, err = m.PutUserDisplay("u1", strings.Repeat("x", domain.MaxDisplayNameLen+1), "")
	assert.ErrorIs(t, err, domain.ErrDisplayNameTooLong)

	// Nothing invalid sticks: lookup still falls back to guest.
	d, err := m.FetchUserDisplay(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "guest", d.DisplayName)
}
