package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/progress"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// handleEvents streams server-sent events: retained history first, then
// live events until the terminal status or the client leaves.
func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("id")
	if !s.knownTask(c, id) {
		return
	}
	history, live, cancel := s.opts.Events.Subscribe(id)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(s.opts.KeepAlive)
	defer keepAlive.Stop()
	ctx := c.Request.Context()

	c.Stream(func(io.Writer) bool {
		if len(history) > 0 {
			evt := history[0]
			history = history[1:]
			c.SSEvent(string(evt.Kind), evt)
			return !progress.Terminal(evt)
		}
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-live:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Kind), evt)
			return !progress.Terminal(evt)
		case now := <-keepAlive.C:
			c.SSEvent("keepalive", gin.H{"timestamp": now.UTC()})
			return true
		}
	})
}

func (s *Server) upgrader() *websocket.Upgrader {
	origin := s.opts.CORSOrigin
	up := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	switch origin {
	case "":
	case "*":
		up.CheckOrigin = func(*http.Request) bool { return true }
	default:
		up.CheckOrigin = func(r *http.Request) bool {
			header := r.Header.Get("Origin")
			return header == "" || header == origin
		}
	}
	return up
}

// handleWebsocket sends the same stream as handleEvents as JSON text frames.
// Client messages are ignored; a read error ends the stream.
func (s *Server) handleWebsocket(c *gin.Context) {
	id := c.Param("id")
	if !s.knownTask(c, id) {
		return
	}
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	history, live, cancel := s.opts.Events.Subscribe(id)
	defer cancel()

	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(evt progress.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(evt); err != nil {
			return false
		}
		return !progress.Terminal(evt)
	}
	closeNormally := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	}

	for _, evt := range history {
		if !send(evt) {
			closeNormally()
			return
		}
	}

	ping := time.NewTicker(s.opts.KeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, ok := <-live:
			if !ok || !send(evt) {
				closeNormally()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
