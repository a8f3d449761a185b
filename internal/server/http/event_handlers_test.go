package http

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strix/internal/events"
)

func TestSSERequiresSessionID(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/agent/events", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEReplaysAndStreams(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	// History recorded before the subscriber connects is replayed first.
	f.broadcaster.Publish(events.PlanReady("s1", []string{"recall", "think-and-act", "answer"}))
	f.broadcaster.Publish(events.Thinking("s1", 1, "Hi"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/agent/events?session_id=s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	go func() {
		// A live frame after the replayed history.
		time.Sleep(50 * time.Millisecond)
		f.broadcaster.Publish(events.FinalAnswer("s1", "done"))
	}()

	var eventLines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLines = append(eventLines, strings.TrimPrefix(line, "event: "))
		}
		if len(eventLines) == 3 {
			break
		}
	}
	require.Equal(t, []string{"PLAN_READY", "THINKING", "FINAL_ANSWER"}, eventLines)
}

func TestWebsocketStreams(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	f.broadcaster.Publish(events.StatusChange("s2", "RUNNING"))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/ws?session_id=s2"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	var replayed events.Event
	require.NoError(t, conn.ReadJSON(&replayed))
	assert.Equal(t, events.TypeStatusChange, replayed.Type)
	assert.Equal(t, "RUNNING", replayed.Content)

	f.broadcaster.Publish(events.FinalAnswer("s2", "42"))
	var live events.Event
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, events.TypeFinalAnswer, live.Type)
	assert.Equal(t, "42", live.Content)
}

func TestWebsocketRequiresSessionID(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
