// Package domain contains entities without logic, just meta-data.
package domain

import "fmt"

type (
	// ConnID identifies one live signaling socket.
	ConnID string
	// MeetingID identifies a meeting as known to the surrounding application.
	MeetingID string
	// RoomID is the derived grouping key for a meeting's live connections.
	RoomID string
	// UserID identifies a user as known to the surrounding application.
	UserID string
	// TranscriptID identifies a persisted transcript record.
	TranscriptID string
)

// RoomForMeeting derives the room key a meeting's connections are grouped by.
func RoomForMeeting(m MeetingID) RoomID {
	return RoomID(fmt.Sprintf("meeting_%s", m))
}
