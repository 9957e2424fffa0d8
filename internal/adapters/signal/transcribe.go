package signal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
	"github.com/broadcomms/meeting-ledger/internal/metrics"
	"github.com/broadcomms/meeting-ledger/internal/transcribe"
)

type sttCommand struct {
	Type      string `json:"type"`
	MeetingID string `json:"meeting_id"`
	SpeakerID string `json:"speaker_id,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
}

// sessionKeyOf resolves the command's session key. The speaker defaults to
// the connection's own user, so clients only spell it out when starting a
// stream on someone's behalf.
func (ctl *Controller) sessionKeyOf(id domain.ConnID, cmd sttCommand) (domain.SessionKey, bool) {
	if cmd.MeetingID == "" {
		return domain.SessionKey{}, false
	}
	speaker := domain.UserID(cmd.SpeakerID)
	if speaker == "" {
		self, ok := ctl.Conns.Get(id)
		if !ok {
			return domain.SessionKey{}, false
		}
		speaker = self.UserID
	}
	return domain.SessionKey{MeetingID: domain.MeetingID(cmd.MeetingID), SpeakerID: speaker}, true
}

func (ctl *Controller) handleStartTranscription(id domain.ConnID, c core.SignalConnection, data []byte) {
	var cmd sttCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	key, ok := ctl.sessionKeyOf(id, cmd)
	if !ok {
		ctl.sendError(c, "missing meeting_id or speaker_id")
		return
	}

	display, err := ctl.Store.FetchUserDisplay(context.Background(), key.SpeakerID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("speaker", string(key.SpeakerID)).Msg("speaker display lookup failed")
		display = domain.UserDisplay{DisplayName: "guest"}
	}

	_, replaced, err := ctl.Sessions.Start(context.Background(), key, func() (*transcribe.Session, error) {
		return transcribe.NewSession(transcribe.SessionConfig{
			Key:         key,
			Owner:       id,
			Display:     display,
			Recognizer:  ctl.Recognizer,
			Storage:     ctl.Store,
			Sink:        ctl.Events,
			PullTimeout: ctl.PullTimeout,
		}), nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("key", key.String()).Msg("start transcription")
		ctl.sendError(c, "transcription could not be started")
		return
	}
	if replaced {
		log.Info().Str("module", "signal").Str("key", key.String()).Msg("stale session replaced")
	}

	room := domain.RoomForMeeting(key.MeetingID)
	ctl.Events.Broadcast(room, core.EventTranscribeStarted, map[string]any{
		"meeting_id": key.MeetingID,
		"speaker_id": key.SpeakerID,
		"message":    "Transcription started.",
	}, "")
}

// handleAudioChunk strips an optional data-URI prefix, base64-decodes the
// chunk, and enqueues it. Chunks for an unknown key are dropped silently,
// matching the race where audio is still in flight after a stop.
func (ctl *Controller) handleAudioChunk(id domain.ConnID, c core.SignalConnection, data []byte) {
	var cmd sttCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		metrics.RecordChunk("bad_payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	key, ok := ctl.sessionKeyOf(id, cmd)
	if !ok || cmd.Chunk == "" {
		metrics.RecordChunk("bad_payload")
		ctl.sendError(c, "bad_payload")
		return
	}

	sess, ok := ctl.Sessions.Get(key)
	if !ok {
		metrics.RecordChunk("dropped")
		return
	}

	raw := cmd.Chunk
	if i := strings.IndexByte(raw, ','); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+1:]
	}
	chunk, err := decodeBase64(raw)
	if err != nil {
		metrics.RecordChunk("bad_payload")
		ctl.sendError(c, "bad audio chunk encoding")
		return
	}

	if err := sess.AddChunk(chunk); err != nil {
		metrics.RecordChunk("dropped")
		return
	}
	metrics.RecordChunk("accepted")
}

func (ctl *Controller) handleStopTranscription(id domain.ConnID, c core.SignalConnection, data []byte) {
	var cmd sttCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	key, ok := ctl.sessionKeyOf(id, cmd)
	if !ok {
		ctl.sendError(c, "missing meeting_id or speaker_id")
		return
	}

	stopped, err := ctl.Sessions.Stop(context.Background(), key, id)
	if err != nil {
		// Finalize failure already went to the origin; the stop itself stands.
		log.Error().Err(err).Str("module", "signal").Str("key", key.String()).Msg("stop transcription finalize failed")
	}

	msg := "Transcription stopped."
	if !stopped {
		msg = "No active transcription found."
	}
	room := domain.RoomForMeeting(key.MeetingID)
	ctl.Events.Broadcast(room, core.EventTranscribeStopped, map[string]any{
		"meeting_id": key.MeetingID,
		"speaker_id": key.SpeakerID,
		"message":    msg,
	}, "")
}

func (ctl *Controller) handleRetryFinalize(id domain.ConnID, c core.SignalConnection, data []byte) {
	var cmd sttCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	key, ok := ctl.sessionKeyOf(id, cmd)
	if !ok {
		ctl.sendError(c, "missing meeting_id or speaker_id")
		return
	}

	_, found, err := ctl.Sessions.RetryFinalize(context.Background(), key, id)
	if !found {
		ctl.sendError(c, "no failed finalize for that session")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("key", key.String()).Msg("retry finalize failed")
	}
}
