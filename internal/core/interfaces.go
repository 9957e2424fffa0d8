package core

import "github.com/broadcomms/meeting-ledger/internal/domain"

// Frame is a raw outbound payload (already marshaled JSON).
type Frame []byte

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// EventSink is what session and router code fan events out through. The
// room is a derived grouping: membership is whatever connections currently
// carry that room id, computed at send time.
type EventSink interface {
	// Broadcast delivers the event to every connection in the room except
	// excluding (pass "" to exclude nobody). Delivery is best-effort per
	// member; it returns the number of successful sends.
	Broadcast(room domain.RoomID, event string, payload any, excluding domain.ConnID) int
	// SendTo delivers the event to a single connection. A missing target is
	// reported as false, not an error: disconnect races are expected.
	SendTo(id domain.ConnID, event string, payload any) bool
}
