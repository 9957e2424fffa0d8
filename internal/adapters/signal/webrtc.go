package signal

import (
	"encoding/json"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

// Offers, answers and candidates are relayed to one explicit target rather
// than broadcast: signaling is point-to-point, and targeting keeps each
// exchange O(1) instead of making every peer filter irrelevant payloads.
// The server validates payload shape but never inspects media content.

type sdpRelay struct {
	Sender   domain.ConnID `json:"sender"`
	Username string        `json:"username"`
	SDP      string        `json:"sdp"`
}

func (ctl *Controller) relaySDP(id domain.ConnID, c core.SignalConnection, data []byte, sdpType webrtc.SDPType, event string) {
	var p struct {
		Type   string        `json:"type"`
		Target domain.ConnID `json:"target"`
		SDP    string        `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" || p.SDP == "" {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("event", event).Msg("bad sdp payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	// Reject descriptions that don't parse before relaying; a garbage SDP
	// would otherwise surface as an opaque failure on the receiving peer.
	desc := webrtc.SessionDescription{Type: sdpType, SDP: p.SDP}
	if _, perr := desc.Unmarshal(); perr != nil {
		log.Warn().Err(perr).Str("module", "signal").Str("conn", string(id)).Str("event", event).Msg("unparseable sdp")
		ctl.sendError(c, "bad_payload")
		return
	}

	sender, _ := ctl.Conns.Get(id)
	if delivered := ctl.Events.SendTo(p.Target, event, sdpRelay{
		Sender:   id,
		Username: sender.DisplayName,
		SDP:      desc.SDP,
	}); !delivered {
		// Disconnect races with in-flight signaling are expected, not fatal.
		log.Warn().Str("module", "signal").Str("target", string(p.Target)).Str("event", event).Msg("relay target gone")
	}
}

func (ctl *Controller) handleOffer(id domain.ConnID, c core.SignalConnection, data []byte) {
	ctl.relaySDP(id, c, data, webrtc.SDPTypeOffer, core.EventOffer)
}

func (ctl *Controller) handleAnswer(id domain.ConnID, c core.SignalConnection, data []byte) {
	ctl.relaySDP(id, c, data, webrtc.SDPTypeAnswer, core.EventAnswer)
}

func (ctl *Controller) handleCandidate(id domain.ConnID, c core.SignalConnection, data []byte) {
	var p struct {
		Type          string        `json:"type"`
		Target        domain.ConnID `json:"target"`
		Candidate     string        `json:"candidate"`
		SDPMid        string        `json:"sdpMid,omitempty"`
		SDPMLineIndex *uint16       `json:"sdpMLineIndex,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" || p.Candidate == "" {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("bad candidate payload")
		ctl.sendError(c, "bad_payload")
		return
	}

	if _, perr := ice.UnmarshalCandidate(strings.TrimPrefix(p.Candidate, "candidate:")); perr != nil {
		log.Warn().Err(perr).Str("module", "signal").Str("conn", string(id)).Msg("unparseable candidate")
		ctl.sendError(c, "bad_payload")
		return
	}

	ci := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		ci.SDPMid = &p.SDPMid
	}
	ci.SDPMLineIndex = p.SDPMLineIndex

	sender, _ := ctl.Conns.Get(id)
	resp := struct {
		Sender        domain.ConnID `json:"sender"`
		Username      string        `json:"username"`
		Candidate     string        `json:"candidate"`
		SDPMid        string        `json:"sdpMid,omitempty"`
		SDPMLineIndex *uint16       `json:"sdpMLineIndex,omitempty"`
	}{
		Sender:        id,
		Username:      sender.DisplayName,
		Candidate:     ci.Candidate,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if delivered := ctl.Events.SendTo(p.Target, core.EventICECandidate, resp); !delivered {
		log.Warn().Str("module", "signal").Str("target", string(p.Target)).Msg("candidate target gone")
	}
}

// handleMediaUpdate rebroadcasts mute/camera state to the room, excluding the
// sender. Nothing is persisted; the payload passes through untouched apart
// from sender attribution.
func (ctl *Controller) handleMediaUpdate(id domain.ConnID, c core.SignalConnection, data []byte) {
	var p map[string]any
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	meetingID, _ := p["meeting_id"].(string)
	if meetingID == "" {
		ctl.sendError(c, "bad_payload")
		return
	}

	sender, _ := ctl.Conns.Get(id)
	delete(p, "type")
	p["sender"] = id
	p["username"] = sender.DisplayName

	room := domain.RoomForMeeting(domain.MeetingID(meetingID))
	ctl.Events.Broadcast(room, core.EventMediaUpdate, p, id)
}
