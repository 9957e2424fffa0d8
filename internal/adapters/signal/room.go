package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/app"
	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

type peerInfo struct {
	PeerID   domain.ConnID `json:"peer_id"`
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
}

func peerOf(c app.Conn) peerInfo {
	return peerInfo{PeerID: c.ID, UserID: c.UserID, Username: c.DisplayName}
}

// handleJoin puts the connection into the meeting's room, answers it with the
// current peer snapshot, and announces it to the others. The snapshot may
// race a concurrent join/leave; later peer-joined/peer-left events
// self-correct each client's view.
func (ctl *Controller) handleJoin(id domain.ConnID, c core.SignalConnection, data []byte) {
	var p struct {
		Type      string `json:"type"`
		MeetingID string `json:"meeting_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.MeetingID == "" {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}

	self, ok := ctl.Conns.Get(id)
	if !ok {
		ctl.sendError(c, "not_registered")
		return
	}
	if !ctl.joins.Allow(self.UserID) {
		log.Warn().Str("module", "signal").Str("user", string(self.UserID)).Msg("join rate limited")
		ctl.sendError(c, "too_many_joins")
		return
	}

	room := domain.RoomForMeeting(domain.MeetingID(p.MeetingID))
	if err := ctl.Conns.SetRoom(id, room); err != nil {
		ctl.sendError(c, "not_registered")
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", string(room)).Msg("join")

	members := ctl.Conns.ListRoomMembers(room, id)
	peers := make([]peerInfo, 0, len(members))
	for _, m := range members {
		peers = append(peers, peerOf(m))
	}
	ctl.Events.SendTo(id, core.EventRoomState, map[string]any{
		"meeting_id": p.MeetingID,
		"room":       room,
		"peers":      peers,
		"count":      len(peers),
	})

	ctl.Events.Broadcast(room, core.EventPeerJoined, peerOf(self), id)
}

// handleDisconnect runs exactly once per socket from the readPump teardown:
// it removes the connection, announces the departure to its last-known room,
// and stops any transcription sessions it owned so no worker outlives its
// socket.
func (ctl *Controller) handleDisconnect(id domain.ConnID) {
	removed, ok := ctl.Conns.Remove(id)
	if ok && removed.Room != "" {
		ctl.Events.Broadcast(removed.Room, core.EventPeerLeft, peerOf(removed), "")
	}
	if n := ctl.Sessions.StopOwnedBy(context.Background(), id); n > 0 {
		log.Info().Str("module", "signal").Str("conn", string(id)).Int("sessions", n).Msg("stopped sessions on disconnect")
	}
}
