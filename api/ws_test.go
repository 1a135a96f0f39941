package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-forecast/chart"
	"github.com/warp/retail-forecast/forecast"
	"github.com/warp/retail-forecast/store/sqlite"
)

func dialWS(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWS_ForecastRoundTrip(t *testing.T) {
	// GIVEN: A connected websocket client
	h := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()
	conn := dialWS(t, srv, nil)

	// WHEN: Requesting a forecast for store 20
	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgForecast, "store": 20, "seq": 1}))

	// THEN: The figure comes back tagged with the client's sequence number
	msg := readMessage(t, conn)
	require.Equal(t, MsgFigure, msg.Type)
	assert.Equal(t, uint64(1), msg.Seq)
	require.NotNil(t, msg.Forecast)
	assert.Equal(t, 20, msg.Forecast.Store)
	assert.Len(t, msg.Forecast.Figure.Data, 5)
	assert.Equal(t, chart.SeriesForecast, msg.Forecast.Figure.Data[2].Name)
}

func TestWS_ErrorsAreMessages(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()
	conn := dialWS(t, srv, nil)

	// Store without training history
	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgForecast, "store": 7, "seq": 4}))
	msg := readMessage(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, uint64(4), msg.Seq)
	require.NotNil(t, msg.Error)
	assert.Contains(t, msg.Error.Details, "training rows")

	// Malformed message keeps the connection open
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	msg = readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, "Unknown message type", msg.Error.Error)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgPing, "seq": 9}))
	msg = readMessage(t, conn)
	assert.Equal(t, MsgPong, msg.Type)
	assert.Equal(t, uint64(9), msg.Seq)
}

func TestWS_ForgetsSessionOnClose(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()
	conn := dialWS(t, srv, nil)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgForecast, "store": 7, "seq": 1}))
	readMessage(t, conn)
	require.Equal(t, 1, h.Sequencer.Len())

	conn.Close()

	assert.Eventually(t, func() bool { return h.Sequencer.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWS_RejectsForeignOrigin(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.test"}})

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWS_CloseConnectionsWaitsForInFlightForecast(t *testing.T) {
	// GIVEN: A websocket forecast blocked inside the model fit
	started := make(chan struct{})
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	h := newTestHandler(t,
		forecast.WithModel(func() forecast.Model { return &gatedModel{gate: gate, started: started} }),
	)
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()
	conn := dialWS(t, srv, nil)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgForecast, "store": 20, "seq": 1}))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("fit never started")
	}

	// WHEN: Closing every connection, as the server does on shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.CloseConnections(ctx)

	// THEN: It returns only after the cancelled run is recorded
	require.NoError(t, err)
	runs, err := h.Runs.ListRuns(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, context.Canceled.Error())
	assert.Equal(t, 0, h.Sequencer.Len())

	// AND: The client sees the connection close
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// AND: New connections are refused
	late := dialWS(t, srv, nil)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}
