package domain

import "time"

// SessionKey identifies at most one live transcription session. Sessions are
// keyed per speaker, not per meeting, so concurrent speakers in the same
// meeting never block each other.
type SessionKey struct {
	MeetingID MeetingID
	SpeakerID UserID
}

func (k SessionKey) String() string {
	return string(k.MeetingID) + "_" + string(k.SpeakerID)
}

// TranscriptEvent is one result emitted by the recognition transport. Interim
// events are provisional and may be revised; only final events contribute to
// the stored transcript.
type TranscriptEvent struct {
	SpeakerID UserID
	Text      string
	Final     bool
	At        time.Time
}

// Transcript is the persisted record of one finished session: the
// concatenation of every final event's text.
type Transcript struct {
	ID        TranscriptID `json:"transcript_id"`
	MeetingID MeetingID    `json:"meeting_id"`
	SpeakerID UserID       `json:"speaker_id"`
	Text      string       `json:"text"`
	CreatedAt time.Time    `json:"created_at"`
}
