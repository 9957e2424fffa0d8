package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
	"github.com/broadcomms/meeting-ledger/internal/metrics"
)

type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

var (
	ErrNotRunning     = errors.New("session is not running")
	ErrAlreadyStarted = errors.New("session already started")
)

// DefaultPullTimeout bounds how long the worker waits for the next chunk
// before re-checking its stop condition.
const DefaultPullTimeout = 100 * time.Millisecond

// Session is one live audio-to-text pipeline for a single speaker within a
// single meeting. It owns its ingest queue and exactly one worker goroutine
// that streams queued audio to the recognition transport, fans the resulting
// transcript events out to the meeting room, and accumulates final text.
// Stopping is cooperative: the worker observes the state flag through its
// pull loop, never a forced kill.
type Session struct {
	Key   domain.SessionKey
	Owner domain.ConnID

	room    domain.RoomID
	display domain.UserDisplay

	queue *Queue
	rec   core.Recognizer
	store core.Storage
	sink  core.EventSink

	pullTimeout time.Duration
	stopGrace   time.Duration

	mu            sync.Mutex
	state         State
	stopRequested bool
	finals        []string
	transportErr  bool
	startedAt     time.Time
	cancel        context.CancelFunc

	// finalizeMu serializes persistence so concurrent explicit stop and
	// transport-initiated stop write at most one transcript record.
	finalizeMu  sync.Mutex
	persistedID domain.TranscriptID

	done   chan struct{}
	onDone func()
}

// SessionConfig carries the collaborators a session streams through.
type SessionConfig struct {
	Key         domain.SessionKey
	Owner       domain.ConnID
	Display     domain.UserDisplay
	Recognizer  core.Recognizer
	Storage     core.Storage
	Sink        core.EventSink
	PullTimeout time.Duration
	StopGrace   time.Duration
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Session{
		Key:         cfg.Key,
		Owner:       cfg.Owner,
		room:        domain.RoomForMeeting(cfg.Key.MeetingID),
		display:     cfg.Display,
		queue:       NewQueue(),
		rec:         cfg.Recognizer,
		store:       cfg.Storage,
		sink:        cfg.Sink,
		pullTimeout: cfg.PullTimeout,
		stopGrace:   cfg.StopGrace,
		done:        make(chan struct{}),
	}
}

// Start spawns the worker. Valid only once, from StateCreated.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.startedAt = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
	log.Info().Str("module", "transcribe.session").Str("key", s.Key.String()).Msg("session started")
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddChunk enqueues decoded audio bytes for the worker. Chunks arriving for
// a session that is not running are rejected so callers can account for them.
func (s *Session) AddChunk(chunk []byte) error {
	s.mu.Lock()
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	s.queue.Push(chunk)
	return nil
}

// run is the worker body: it hands the queue's pull side to the recognition
// transport and blocks until the stream ends. Any end that no Stop call asked
// for is an implicit stop (the transport failed or hung up, possibly after
// reporting through onError first): the session finalizes itself with the
// error flag set so clients know recognition ended abnormally.
func (s *Session) run(ctx context.Context) {
	err := s.rec.StreamRecognize(ctx, s.pullNext, s.onEvent, s.onError)

	s.mu.Lock()
	implicit := !s.stopRequested
	if implicit {
		if s.state == StateRunning {
			s.state = StateStopping
		}
		if err != nil {
			s.transportErr = true
		}
	}
	s.mu.Unlock()
	close(s.done)

	if err != nil {
		log.Error().Err(err).Str("module", "transcribe.session").Str("key", s.Key.String()).Msg("recognition stream ended with error")
	}
	if implicit {
		s.queue.Close()
		if _, ferr := s.Finalize(context.Background(), ""); ferr != nil {
			log.Error().Err(ferr).Str("module", "transcribe.session").Str("key", s.Key.String()).Msg("implicit finalize failed")
		}
		if s.onDone != nil {
			s.onDone()
		}
	}
}

// pullNext adapts the queue to the transport's pull contract. It returns
// ok=false only once the session is leaving StateRunning, which ends the
// stream; timeouts inside the wait just loop back after a stop-check.
func (s *Session) pullNext() ([]byte, bool) {
	for {
		s.mu.Lock()
		running := s.state == StateRunning
		s.mu.Unlock()
		if !running {
			// Drain what was already queued so no pushed chunk is lost.
			if chunk, ok := s.queue.Pull(0); ok {
				return chunk, true
			}
			return nil, false
		}
		if chunk, ok := s.queue.Pull(s.pullTimeout); ok {
			return chunk, true
		}
	}
}

type transcriptPayload struct {
	MeetingID   domain.MeetingID `json:"meeting_id"`
	SpeakerID   domain.UserID    `json:"speaker_id"`
	SpeakerName string           `json:"speaker_username"`
	AvatarRef   string           `json:"avatar_ref,omitempty"`
	Transcript  string           `json:"transcript"`
	CreatedAt   string           `json:"created_timestamp"`
	Final       bool             `json:"final"`
}

func (s *Session) onEvent(ev domain.TranscriptEvent) {
	metrics.RecordTranscriptEvent(ev.Final)

	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payload := transcriptPayload{
		MeetingID:   s.Key.MeetingID,
		SpeakerID:   s.Key.SpeakerID,
		SpeakerName: s.display.DisplayName,
		AvatarRef:   s.display.AvatarRef,
		Transcript:  ev.Text,
		CreatedAt:   at.Format(time.RFC3339),
		Final:       ev.Final,
	}
	event := core.EventTranscriptInterim
	if ev.Final {
		event = core.EventTranscriptUpdate
	}
	s.sink.Broadcast(s.room, event, payload, "")

	if ev.Final && strings.TrimSpace(ev.Text) != "" {
		s.mu.Lock()
		s.finals = append(s.finals, strings.TrimSpace(ev.Text))
		s.mu.Unlock()
	}
}

func (s *Session) onError(err error) {
	log.Error().Err(err).Str("module", "transcribe.session").Str("key", s.Key.String()).Msg("recognition transport error")
	s.mu.Lock()
	s.transportErr = true
	if s.state == StateRunning {
		s.state = StateStopping
	}
	s.mu.Unlock()
}

// Stop transitions the session out of StateRunning, joins the worker, then
// persists and announces the transcript. Idempotent at the registry level;
// calling Stop on a session whose worker already exited just finalizes.
// origin, when non-empty, receives the finalize-failed notice if persistence
// fails.
func (s *Session) Stop(ctx context.Context, origin domain.ConnID) (domain.TranscriptID, error) {
	s.mu.Lock()
	s.stopRequested = true
	if s.state == StateRunning {
		s.state = StateStopping
	}
	cancel := s.cancel
	s.mu.Unlock()
	s.queue.Close()

	// Cooperative join: the worker notices the state change through its pull
	// loop. The context is canceled only if the transport fails to wind down
	// within the grace window.
	select {
	case <-s.done:
	case <-time.After(s.stopGrace):
		log.Warn().Str("module", "transcribe.session").Str("key", s.Key.String()).Msg("worker did not stop in grace window, canceling")
		if cancel != nil {
			cancel()
		}
		<-s.done
	}

	return s.Finalize(ctx, origin)
}

type finalizedPayload struct {
	TranscriptID domain.TranscriptID `json:"transcript_id"`
	MeetingID    domain.MeetingID    `json:"meeting_id"`
	SpeakerID    domain.UserID       `json:"speaker_id"`
	Error        bool                `json:"error,omitempty"`
}

// Finalize persists the accumulated final text as one transcript record and
// broadcasts session-finalized. Persistence failure keeps the text in memory
// and notifies origin so a client-triggered retry can call Finalize again;
// success after any number of attempts still writes exactly one record.
func (s *Session) Finalize(ctx context.Context, origin domain.ConnID) (domain.TranscriptID, error) {
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()
	if s.persistedID != "" {
		return s.persistedID, nil
	}

	s.mu.Lock()
	text := strings.Join(s.finals, " ")
	hadErr := s.transportErr
	started := s.startedAt
	s.mu.Unlock()

	id, err := s.store.SaveTranscript(ctx, domain.Transcript{
		MeetingID: s.Key.MeetingID,
		SpeakerID: s.Key.SpeakerID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "transcribe.session").Str("key", s.Key.String()).Msg("transcript save failed")
		if origin != "" {
			s.sink.SendTo(origin, core.EventFinalizeFailed, map[string]any{
				"meeting_id": s.Key.MeetingID,
				"speaker_id": s.Key.SpeakerID,
				"error":      "transcript could not be saved",
			})
		}
		return "", fmt.Errorf("save transcript: %w", err)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.persistedID = id

	if !started.IsZero() {
		metrics.SessionDuration.Observe(time.Since(started).Seconds())
	}
	s.sink.Broadcast(s.room, core.EventSessionFinalized, finalizedPayload{
		TranscriptID: id,
		MeetingID:    s.Key.MeetingID,
		SpeakerID:    s.Key.SpeakerID,
		Error:        hadErr,
	}, "")
	log.Info().Str("module", "transcribe.session").Str("key", s.Key.String()).Str("transcript", string(id)).Msg("session finalized")
	return id, nil
}
