package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

// recognizerFunc adapts a bare function to the recognizer contract for tests
// that need one-off transport behavior.
type recognizerFunc func(ctx context.Context, pull core.PullChunk, onEvent func(domain.TranscriptEvent), onError func(error)) error

func (f recognizerFunc) StreamRecognize(ctx context.Context, pull core.PullChunk, onEvent func(domain.TranscriptEvent), onError func(error)) error {
	return f(ctx, pull, onEvent, onError)
}

// fakeRecognizer consumes the pull side like a real transport: it records
// every chunk in arrival order and can be scripted to emit events per chunk,
// emit a closing event at end-of-stream, or fail after a number of chunks.
type fakeRecognizer struct {
	mu        sync.Mutex
	chunks    [][]byte
	perChunk  func(chunk []byte) *domain.TranscriptEvent
	atEnd     []domain.TranscriptEvent
	failAfter int // fail once this many chunks arrived; 0 = never
	failWith  error
}

func (f *fakeRecognizer) StreamRecognize(ctx context.Context, pull core.PullChunk, onEvent func(domain.TranscriptEvent), onError func(error)) error {
	for {
		chunk, ok := pull()
		if !ok {
			break
		}
		f.mu.Lock()
		f.chunks = append(f.chunks, chunk)
		n := len(f.chunks)
		f.mu.Unlock()

		if f.perChunk != nil {
			if ev := f.perChunk(chunk); ev != nil {
				onEvent(*ev)
			}
		}
		if f.failAfter > 0 && n >= f.failAfter {
			err := f.failWith
			if err == nil {
				err = errors.New("transport dropped")
			}
			onError(err)
			return err
		}
	}
	for _, ev := range f.atEnd {
		onEvent(ev)
	}
	return nil
}

func (f *fakeRecognizer) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.chunks))
	copy(out, f.chunks)
	return out
}

type sinkCall struct {
	Room    domain.RoomID
	Target  domain.ConnID
	Event   string
	Payload any
}

// fakeSink records fanout without any transport underneath.
type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) Broadcast(room domain.RoomID, event string, payload any, _ domain.ConnID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{Room: room, Event: event, Payload: payload})
	return 1
}

func (s *fakeSink) SendTo(id domain.ConnID, event string, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{Target: id, Event: event, Payload: payload})
	return true
}

func (s *fakeSink) byEvent(event string) []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkCall
	for _, c := range s.calls {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

// fakeStore counts writes and can be told to fail until further notice.
type fakeStore struct {
	mu    sync.Mutex
	saves []domain.Transcript
	fail  bool
}

func (s *fakeStore) SaveTranscript(_ context.Context, t domain.Transcript) (domain.TranscriptID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("storage unavailable")
	}
	t.ID = domain.TranscriptID(fmt.Sprintf("tr-%d", len(s.saves)+1))
	s.saves = append(s.saves, t)
	return t.ID, nil
}

func (s *fakeStore) FetchUserDisplay(_ context.Context, id domain.UserID) (domain.UserDisplay, error) {
	return domain.UserDisplay{DisplayName: "speaker-" + string(id)}, nil
}

func (s *fakeStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *fakeStore) saved() []domain.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transcript, len(s.saves))
	copy(out, s.saves)
	return out
}
