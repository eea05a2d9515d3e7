package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstarscape/starsync/config"
)

func startTestServer(t *testing.T) *server {
	t.Helper()

	cfg := &config.Config{
		Listeners: []config.ListenerConfig{
			{Name: "main", Addr: "127.0.0.1:0", Mode: config.ModePlain},
		},
		Datagram: config.DatagramConfig{Addr: "127.0.0.1:0"},
		Shutdown: config.ShutdownConfig{Timeout: 200 * time.Millisecond},
	}
	require.NoError(t, cfg.Validate())

	srv, err := newServer(cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Shutdown)
	return srv
}

func dialTestServer(t *testing.T, srv *server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.listeners[0].Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope
}

func TestServer_SubscribeDeliversCurrentValueThenChanges(t *testing.T) {
	srv := startTestServer(t)
	conn := dialTestServer(t, srv)

	req := Request{Type: RequestSubscribe, Entity: "server", Property: "clients"}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	envelope := readEnvelope(t, conn)
	assert.Equal(t, "update", envelope["type"])
	assert.Equal(t, "server", envelope["entity"])
	assert.Equal(t, "clients", envelope["property"])
}

func TestServer_GetReturnsValue(t *testing.T) {
	srv := startTestServer(t)
	conn := dialTestServer(t, srv)

	data, err := json.Marshal(Request{Type: RequestGet, Entity: "server", Property: "uptime"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	envelope := readEnvelope(t, conn)
	assert.Equal(t, "update", envelope["type"])
	assert.Equal(t, "uptime", envelope["property"])
}

func TestServer_UnknownPropertyGetsErrorReply(t *testing.T) {
	srv := startTestServer(t)
	conn := dialTestServer(t, srv)

	data, err := json.Marshal(Request{Type: RequestGet, Entity: "nope", Property: "missing"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	envelope := readEnvelope(t, conn)
	assert.Equal(t, "error", envelope["type"])
	assert.Equal(t, "unknown property", envelope["message"])
}

func TestServer_DisconnectDropsSubscriptions(t *testing.T) {
	srv := startTestServer(t)
	conn := dialTestServer(t, srv)

	data, err := json.Marshal(Request{Type: RequestSubscribe, Entity: "server", Property: "clients"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	readEnvelope(t, conn) // initial value

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return srv.conns.ActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_HealthzReportsHealthy(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Get("http://" + srv.listeners[0].Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ShutdownIsRepeatable(t *testing.T) {
	srv := startTestServer(t)
	srv.Shutdown()
	srv.Shutdown()
}
