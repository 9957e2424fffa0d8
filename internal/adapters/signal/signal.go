// Package signal is the websocket signaling adapter: it upgrades connections,
// registers them, and routes join/offer/answer/ICE/media and transcription
// commands between peers in the same meeting room.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/app"
	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
	"github.com/broadcomms/meeting-ledger/internal/transcribe"
)

var ErrBackpressure = errors.New("backpressure")

// Controller wires one websocket endpoint to the registries. Connection
// handlers never block on the recognition transport; only session workers do.
type Controller struct {
	Conns      *app.Registry
	Events     core.EventSink
	Sessions   *transcribe.Registry
	Recognizer core.Recognizer
	Store      core.Storage

	SendBuffer  int
	ReadLimit   int64
	PingPeriod  time.Duration
	PullTimeout time.Duration

	joins *JoinRateLimiter

	openMu sync.Mutex
	open   map[*wsConn]struct{}
}

func NewController(conns *app.Registry, events core.EventSink, sessions *transcribe.Registry, rec core.Recognizer, store core.Storage) *Controller {
	return &Controller{
		Conns:      conns,
		Events:     events,
		Sessions:   sessions,
		Recognizer: rec,
		Store:      store,
		SendBuffer: 32,
		PingPeriod: 54 * time.Second,
		joins:      NewJoinRateLimiter(10, time.Minute),
		open:       make(map[*wsConn]struct{}),
	}
}

func (ctl *Controller) track(c *wsConn) {
	ctl.openMu.Lock()
	ctl.open[c] = struct{}{}
	ctl.openMu.Unlock()
}

func (ctl *Controller) untrack(c *wsConn) {
	ctl.openMu.Lock()
	delete(ctl.open, c)
	ctl.openMu.Unlock()
}

// CloseAll force-closes every live socket. http.Server.Shutdown never touches
// hijacked connections, so graceful shutdown calls this after draining the
// transcription sessions.
func (ctl *Controller) CloseAll() {
	ctl.openMu.Lock()
	conns := make([]*wsConn, 0, len(ctl.open))
	for c := range ctl.open {
		conns = append(conns, c)
	}
	ctl.openMu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and registers the new connection. The
// connection id is unique per live socket; the user identity comes from the
// surrounding app (client token cookie, overridable by user_id query param)
// and is resolved to a display name through the storage collaborator.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	userID := domain.UserID(c.Query("user_id"))
	if userID == "" {
		userID = domain.UserID(c.GetString("client_token"))
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	connID := domain.ConnID(uuid.NewString())
	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}

	display, derr := ctl.Store.FetchUserDisplay(c.Request.Context(), userID)
	if derr != nil {
		log.Warn().Err(derr).Str("module", "signal").Str("user", string(userID)).Msg("display lookup failed, using fallback")
		display = domain.UserDisplay{DisplayName: "guest"}
	}

	if err := ctl.Conns.Register(app.Conn{
		ID:          connID,
		UserID:      userID,
		DisplayName: display.DisplayName,
		Signal:      conn,
	}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("register connection")
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("user", string(userID)).Msg("new WS connection")
	ctl.track(conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		defer ctl.untrack(conn)
		ctl.readPump(ctx, connID, conn)
	}()
}
