package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
	"github.com/broadcomms/meeting-ledger/internal/metrics"
)

// Broadcaster fans events out to room members using registry snapshots.
// Rooms have no lifecycle of their own: a room is the set of connections
// whose room id matches at the moment of the snapshot.
type Broadcaster struct {
	reg *Registry
}

func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg}
}

var _ core.EventSink = (*Broadcaster)(nil)

// envelope merges the event name into the payload's JSON object as "type",
// keeping the wire format flat the way clients expect.
func envelope(event string, payload any) (core.Frame, error) {
	m := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	m["type"] = event
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// Broadcast delivers the event to every current member of the room, skipping
// excluding if non-empty. A send failure to one dead connection never aborts
// delivery to the others.
func (b *Broadcaster) Broadcast(room domain.RoomID, event string, payload any, excluding domain.ConnID) int {
	frame, err := envelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcast").Str("event", event).Msg("marshal payload")
		return 0
	}
	sent := 0
	for _, m := range b.reg.ListRoomMembers(room, excluding) {
		if err := m.Signal.TrySend(frame); err != nil {
			metrics.BroadcastDeliveries.WithLabelValues("dropped").Inc()
			log.Warn().Err(err).Str("module", "app.broadcast").Str("conn", string(m.ID)).Str("event", event).Msg("member send failed")
			continue
		}
		metrics.BroadcastDeliveries.WithLabelValues("sent").Inc()
		sent++
	}
	log.Debug().Str("module", "app.broadcast").Str("room", string(room)).Str("event", event).Int("sent", sent).Msg("broadcast")
	return sent
}

// SendTo delivers the event to one connection. A vanished target is logged
// and dropped, not raised: disconnect races with in-flight signaling are
// expected.
func (b *Broadcaster) SendTo(id domain.ConnID, event string, payload any) bool {
	frame, err := envelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcast").Str("event", event).Msg("marshal payload")
		return false
	}
	c, ok := b.reg.Get(id)
	if !ok {
		log.Warn().Str("module", "app.broadcast").Str("conn", string(id)).Str("event", event).Msg("target connection gone")
		return false
	}
	if err := c.Signal.TrySend(frame); err != nil {
		metrics.BroadcastDeliveries.WithLabelValues("dropped").Inc()
		log.Warn().Err(err).Str("module", "app.broadcast").Str("conn", string(id)).Str("event", event).Msg("target send failed")
		return false
	}
	metrics.BroadcastDeliveries.WithLabelValues("sent").Inc()
	return true
}
