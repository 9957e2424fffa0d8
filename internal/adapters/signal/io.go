package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	period := ctl.PingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	ping := time.NewTicker(period)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id domain.ConnID, c *wsConn) {
	defer func() {
		ctl.handleDisconnect(id)
		c.Close()
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			ctl.Dispatch(id, c, data)
		}
	}
}

// Dispatch routes one inbound command by its envelope type. Malformed input
// is answered to the origin connection only; registry and session state stay
// untouched.
func (ctl *Controller) Dispatch(id domain.ConnID, c core.SignalConnection, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json envelope")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case core.CmdJoin:
		ctl.handleJoin(id, c, data)
	case core.CmdOffer:
		ctl.handleOffer(id, c, data)
	case core.CmdAnswer:
		ctl.handleAnswer(id, c, data)
	case core.CmdICE:
		ctl.handleCandidate(id, c, data)
	case core.CmdMediaUpdate:
		ctl.handleMediaUpdate(id, c, data)
	case core.CmdStartStt:
		ctl.handleStartTranscription(id, c, data)
	case core.CmdAudioChunk:
		ctl.handleAudioChunk(id, c, data)
	case core.CmdStopStt:
		ctl.handleStopTranscription(id, c, data)
	case core.CmdRetrySave:
		ctl.handleRetryFinalize(id, c, data)
	case core.CmdPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown command")
		ctl.sendError(c, "unknown_command")
	}
}

func (ctl *Controller) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, map[string]any{
		"type":  core.EventError,
		"error": msg,
	})
}
