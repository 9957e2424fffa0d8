package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// UserDisplay is the human-readable identity attached to transcript and
// presence events. Resolved through the storage collaborator, never kept
// beyond the lifetime of a connection or session.
type UserDisplay struct {
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// NewUserDisplay avoids raw struct literals in adapters and keeps validation obvious.
func NewUserDisplay(name, avatar string) (UserDisplay, error) {
	if len(name) == 0 {
		return UserDisplay{}, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return UserDisplay{}, ErrDisplayNameTooLong
	}
	return UserDisplay{DisplayName: name, AvatarRef: avatar}, nil
}
