package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

func testKey() domain.SessionKey {
	return domain.SessionKey{MeetingID: "42", SpeakerID: "S"}
}

func newTestSession(rec core.Recognizer, sink core.EventSink, store core.Storage) *Session {
	return NewSession(SessionConfig{
		Key:         testKey(),
		Owner:       "conn-1",
		Display:     domain.UserDisplay{DisplayName: "Sam"},
		Recognizer:  rec,
		Storage:     store,
		Sink:        sink,
		PullTimeout: 5 * time.Millisecond,
	})
}

// Speaker S streams three chunks for meeting 42; the transport emits one
// final "hello world"; on stop exactly one transcript is saved and
// session-finalized reaches room meeting_42.
func TestSessionHelloWorld(t *testing.T) {
	rec := &fakeRecognizer{
		atEnd: []domain.TranscriptEvent{{Text: "hello world", Final: true}},
	}
	sink := &fakeSink{}
	store := &fakeStore{}
	s := newTestSession(rec, sink, store)

	require.NoError(t, s.Start(context.Background()))
	for _, c := range []string{"he", "llo wor", "ld"} {
		require.NoError(t, s.AddChunk([]byte(c)))
	}

	id, err := s.Stop(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got := rec.received()
	require.Len(t, got, 3, "transport must see every chunk")
	assert.Equal(t, "he", string(got[0]))
	assert.Equal(t, "llo wor", string(got[1]))
	assert.Equal(t, "ld", string(got[2]))

	saves := store.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, domain.MeetingID("42"), saves[0].MeetingID)
	assert.Equal(t, domain.UserID("S"), saves[0].SpeakerID)
	assert.Equal(t, "hello world", saves[0].Text)

	fin := sink.byEvent(core.EventSessionFinalized)
	require.Len(t, fin, 1)
	assert.Equal(t, domain.RoomForMeeting("42"), fin[0].Room)
	payload := fin[0].Payload.(finalizedPayload)
	assert.Equal(t, id, payload.TranscriptID)
	assert.False(t, payload.Error)
}

func TestSessionAccumulatesOnlyFinals(t *testing.T) {
	rec := &fakeRecognizer{
		perChunk: func(chunk []byte) *domain.TranscriptEvent {
			return &domain.TranscriptEvent{Text: string(chunk), Final: string(chunk) != "um"}
		},
	}
	sink := &fakeSink{}
	store := &fakeStore{}
	s := newTestSession(rec, sink, store)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.AddChunk([]byte("good")))
	require.NoError(t, s.AddChunk([]byte("um")))
	require.NoError(t, s.AddChunk([]byte("morning")))

	_, err := s.Stop(context.Background(), "")
	require.NoError(t, err)

	saves := store.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, "good morning", saves[0].Text, "interim text must not be persisted")

	assert.Len(t, sink.byEvent(core.EventTranscriptUpdate), 2)
	assert.Len(t, sink.byEvent(core.EventTranscriptInterim), 1)
}

func TestSessionTranscriptEventsCarryAttribution(t *testing.T) {
	rec := &fakeRecognizer{
		perChunk: func(chunk []byte) *domain.TranscriptEvent {
			return &domain.TranscriptEvent{Text: string(chunk), Final: true}
		},
	}
	sink := &fakeSink{}
	s := newTestSession(rec, sink, &fakeStore{})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.AddChunk([]byte("hi")))
	_, err := s.Stop(context.Background(), "")
	require.NoError(t, err)

	ups := sink.byEvent(core.EventTranscriptUpdate)
	require.Len(t, ups, 1)
	payload := ups[0].Payload.(transcriptPayload)
	assert.Equal(t, "Sam", payload.SpeakerName)
	assert.Equal(t, domain.UserID("S"), payload.SpeakerID)
	assert.Equal(t, "hi", payload.Transcript)
}

// A transport failure mid-stream is an implicit stop: the session still
// persists what was accumulated and flags the finalize as abnormal.
func TestSessionTransportFailureStillPersists(t *testing.T) {
	rec := &fakeRecognizer{
		perChunk: func(chunk []byte) *domain.TranscriptEvent {
			return &domain.TranscriptEvent{Text: string(chunk), Final: true}
		},
		failAfter: 2,
	}
	sink := &fakeSink{}
	store := &fakeStore{}
	s := newTestSession(rec, sink, store)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.AddChunk([]byte("partial")))
	require.NoError(t, s.AddChunk([]byte("text")))

	require.Eventually(t, func() bool {
		return len(sink.byEvent(core.EventSessionFinalized)) == 1
	}, 2*time.Second, 10*time.Millisecond, "session must finalize itself on transport failure")

	saves := store.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, "partial text", saves[0].Text)

	fin := sink.byEvent(core.EventSessionFinalized)
	payload := fin[0].Payload.(finalizedPayload)
	assert.True(t, payload.Error, "clients must see that recognition ended abnormally")
	assert.Equal(t, StateStopped, s.State())
}

// The recognition transport reports failures through the error callback
// before its stream call returns, and the return value itself may be nil
// after a close handshake. Neither shape is an explicit stop: the session
// must still finalize, persist, and flag the abnormal end.
func TestSessionOnErrorBeforeStreamReturnFinalizes(t *testing.T) {
	sink := &fakeSink{}
	store := &fakeStore{}
	rec := recognizerFunc(func(_ context.Context, pull core.PullChunk, onEvent func(domain.TranscriptEvent), onError func(error)) error {
		chunk, ok := pull()
		if ok {
			onEvent(domain.TranscriptEvent{Text: string(chunk), Final: true})
		}
		onError(errors.New("socket reset"))
		return nil
	})
	s := NewSession(SessionConfig{
		Key:         testKey(),
		Recognizer:  rec,
		Storage:     store,
		Sink:        sink,
		PullTimeout: 5 * time.Millisecond,
	})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.AddChunk([]byte("cut short")))

	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, 2*time.Second, 10*time.Millisecond, "session must finalize itself without an explicit stop")

	saves := store.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, "cut short", saves[0].Text)

	fin := sink.byEvent(core.EventSessionFinalized)
	require.Len(t, fin, 1)
	assert.True(t, fin[0].Payload.(finalizedPayload).Error)
}

func TestSessionFinalizeFailureKeepsTextForRetry(t *testing.T) {
	rec := &fakeRecognizer{
		atEnd: []domain.TranscriptEvent{{Text: "keep me", Final: true}},
	}
	sink := &fakeSink{}
	store := &fakeStore{fail: true}
	s := newTestSession(rec, sink, store)

	require.NoError(t, s.Start(context.Background()))
	_, err := s.Stop(context.Background(), "origin-conn")
	require.Error(t, err)

	// Failure notice went to the stopping connection only.
	failed := sink.byEvent(core.EventFinalizeFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.ConnID("origin-conn"), failed[0].Target)
	assert.Empty(t, sink.byEvent(core.EventSessionFinalized))

	// Retry succeeds and writes exactly once.
	store.setFail(false)
	id, err := s.Finalize(context.Background(), "origin-conn")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	saves := store.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, "keep me", saves[0].Text)

	// A second finalize is a no-op returning the same id.
	again, err := s.Finalize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, store.saved(), 1)
}

func TestSessionStartTwiceRejected(t *testing.T) {
	s := newTestSession(&fakeRecognizer{}, &fakeSink{}, &fakeStore{})
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	_, err := s.Stop(context.Background(), "")
	require.NoError(t, err)
}

func TestSessionAddChunkAfterStop(t *testing.T) {
	s := newTestSession(&fakeRecognizer{}, &fakeSink{}, &fakeStore{})
	require.NoError(t, s.Start(context.Background()))
	_, err := s.Stop(context.Background(), "")
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddChunk([]byte("late")), ErrNotRunning)
}
