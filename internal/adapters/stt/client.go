// Package stt adapts a Watson-style speech-to-text websocket service to the
// core.Recognizer contract: one socket per session, a start envelope, raw
// binary audio frames, JSON result events back, and a stop envelope when the
// audio stream ends.
package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/broadcomms/meeting-ledger/internal/core"
	"github.com/broadcomms/meeting-ledger/internal/domain"
)

type Config struct {
	URL         string
	APIKey      string
	Model       string
	ContentType string
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "en-US_BroadbandModel"
	}
	if c.ContentType == "" {
		c.ContentType = "audio/l16; rate=16000"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Client implements core.Recognizer. Each StreamRecognize call owns one
// websocket for the lifetime of one transcription session.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

var _ core.Recognizer = (*Client)(nil)

type startEnvelope struct {
	Action            string `json:"action"`
	ContentType       string `json:"content-type"`
	InterimResults    bool   `json:"interim_results"`
	InactivityTimeout int    `json:"inactivity_timeout"`
}

type stopEnvelope struct {
	Action string `json:"action"`
}

// resultFrame mirrors the service's recognize response shape.
type resultFrame struct {
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
	Results []struct {
		Final        bool `json:"final"`
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results,omitempty"`
}

// StreamRecognize dials the service, feeds it every chunk pull yields in
// order, and decodes result frames into transcript events until the service
// closes the stream. It returns nil on a clean end (pull reported
// end-of-stream and the service drained), otherwise the transport error.
func (c *Client) StreamRecognize(ctx context.Context, pull core.PullChunk, onEvent func(domain.TranscriptEvent), onError func(error)) error {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	url := fmt.Sprintf("%s?model=%s", c.cfg.URL, c.cfg.Model)

	ws, _, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		onError(err)
		return fmt.Errorf("dial stt: %w", err)
	}
	defer ws.Close()

	start := startEnvelope{
		Action:            "start",
		ContentType:       c.cfg.ContentType,
		InterimResults:    true,
		InactivityTimeout: -1,
	}
	if err := ws.WriteJSON(start); err != nil {
		onError(err)
		return fmt.Errorf("write start: %w", err)
	}

	// Reader goroutine: decode result frames until the socket closes.
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readResults(ws, onEvent, onError)
	}()

	// Feed loop: the only blocking consumer of the session's queue.
	var feedErr error
	for {
		if err := ctx.Err(); err != nil {
			feedErr = err
			break
		}
		chunk, ok := pull()
		if !ok {
			// End of audio: tell the service to flush remaining results.
			if err := ws.WriteJSON(stopEnvelope{Action: "stop"}); err != nil {
				feedErr = fmt.Errorf("write stop: %w", err)
			}
			break
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			feedErr = fmt.Errorf("write audio: %w", err)
			break
		}
	}

	if feedErr != nil {
		onError(feedErr)
		_ = ws.Close()
		<-readErr
		return feedErr
	}

	// Clean shutdown: give the service a window to flush results after the
	// stop envelope, then close the socket ourselves if it hasn't.
	flush := time.NewTimer(5 * time.Second)
	defer flush.Stop()
	select {
	case err := <-readErr:
		if err != nil {
			onError(err)
			return err
		}
		return nil
	case <-flush.C:
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
		<-readErr
		return nil
	case <-ctx.Done():
		_ = ws.Close()
		<-readErr
		return ctx.Err()
	}
}

func (c *Client) readResults(ws *websocket.Conn, onEvent func(domain.TranscriptEvent), onError func(error)) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read result: %w", err)
		}

		var frame resultFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Str("module", "stt").Msg("unparseable result frame")
			continue
		}
		if frame.Error != "" {
			onError(errors.New(frame.Error))
			continue
		}
		if frame.State != "" {
			log.Debug().Str("module", "stt").Str("state", frame.State).Msg("service state")
			continue
		}
		for _, res := range frame.Results {
			if len(res.Alternatives) == 0 {
				continue
			}
			onEvent(domain.TranscriptEvent{
				Text:  res.Alternatives[0].Transcript,
				Final: res.Final,
				At:    time.Now().UTC(),
			})
		}
	}
}
