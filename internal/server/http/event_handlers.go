package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"strix/internal/events"
	"strix/internal/logging"
)

const (
	eventBufferSize  = 64
	defaultHeartbeat = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

type eventHandler struct {
	broadcaster *events.Broadcaster
	heartbeat   time.Duration
	upgrader    websocket.Upgrader
	logger      logging.Logger
}

func newEventHandler(broadcaster *events.Broadcaster) *eventHandler {
	return &eventHandler{
		broadcaster: broadcaster,
		heartbeat:   defaultHeartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger("event-api"),
	}
}

// serveSSE streams a session's events as server-sent events, replaying the
// stored history first.
func (h *eventHandler) serveSSE(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	ch := make(chan events.Event, eventBufferSize)
	replay := h.broadcaster.Subscribe(sessionID, ch)
	defer h.broadcaster.Unsubscribe(sessionID, ch)

	for _, event := range replay {
		if err := writeSSEFrame(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEFrame(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

// serveWS streams the same frames over a websocket.
func (h *eventHandler) serveWS(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, eventBufferSize)
	replay := h.broadcaster.Subscribe(sessionID, ch)
	defer h.broadcaster.Unsubscribe(sessionID, ch)

	// Drain client frames so close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, event := range replay {
		if err := writeWSFrame(conn, event); err != nil {
			return
		}
	}

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			if err := writeWSFrame(conn, event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeWSFrame(conn *websocket.Conn, event events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(event)
}
