package gameserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/hexbattle/internal/game/session"
	"github.com/cory-johannsen/hexbattle/internal/gameserver"
	"github.com/cory-johannsen/hexbattle/internal/testutil"
)

type testServer struct {
	*httptest.Server
	hub *gameserver.Hub
}

func newTestServer(t *testing.T, health func(context.Context) error, origins ...string) *testServer {
	t.Helper()
	h := newTestHub(t)
	dir := gameserver.NewMemoryDirectory(false)
	dir.Add("c1", alice)
	dir.Add("c1", bob)

	sessions := session.NewManager(16)
	ws := gameserver.NewWSHandler(h, sessions, dir, gameserver.WSConfig{
		WriteTimeout:    time.Second,
		PongWait:        5 * time.Second,
		PingPeriod:      time.Second,
		MaxMessageBytes: 4096,
		AllowedOrigins:  origins,
	}, nil)
	srv := httptest.NewServer(gameserver.NewRouter(gameserver.RouterConfig{
		Hub:       h,
		Directory: dir,
		WS:        ws,
		Sessions:  sessions,
		Health:    health,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: h}
}

func (s *testServer) post(t *testing.T, path, userID string) (*http.Response, gameserver.JoinResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+path, nil)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(gameserver.UserIDHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body gameserver.JoinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func (s *testServer) dial(t *testing.T, userID, channelID string) *testutil.WSClient {
	t.Helper()
	header := http.Header{}
	header.Set(gameserver.UserIDHeader, userID)
	return testutil.NewWSClient(t, s.URL+"/ws?channel_id="+channelID, header)
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHTTP_Join(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := srv.post(t, "/game/join/c1", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := srv.post(t, "/game/join/c1", "stranger")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NotChannelMember", body.Error)

	resp, body = srv.post(t, "/game/join/c1", "u1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	require.NotNil(t, body.Player)
	assert.Equal(t, "alice", body.Player.Username)
	assert.Equal(t, 100, body.Player.Health)

	resp, body = srv.post(t, "/game/join/c1", "u1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadyJoined", body.Error)
}

func TestHTTP_Leave(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.post(t, "/game/join/c1", "u1")

	resp, body := srv.post(t, "/game/leave/c1", "u1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)

	resp, body = srv.post(t, "/game/leave/c1", "u1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotInBattle", body.Error)
}

func TestHTTP_Commands(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/game/commands")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body gameserver.CommandsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	names := map[string]bool{}
	for _, def := range body.Commands {
		names[def.Name] = true
	}
	for _, want := range []string{"move_east", "move_southwest", "attack", "heal", "end_turn"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func (s *testServer) health(t *testing.T) (int, gameserver.HealthResponse) {
	t.Helper()
	resp, err := http.Get(s.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body gameserver.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHTTP_Health(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.health(t)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.Sessions)

	c := srv.dial(t, "u1", "c1")
	c.ReadUntil(gameserver.TypeGameSnapshot, 2*time.Second)
	status, body = srv.health(t)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, body.Channels)
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, 1, body.WatchedChannels)

	down := newTestServer(t, func(context.Context) error { return errors.New("db down") })
	status, body = down.health(t)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", body.Status)
}

func TestWS_PlaySession(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.post(t, "/game/join/c1", "u1")
	srv.post(t, "/game/join/c1", "u2")

	a := srv.dial(t, "u1", "c1")
	snap := decode(t, a.ReadUntil(gameserver.TypeGameSnapshot, 2*time.Second))
	assert.Equal(t, "u1", snap["active_turn_user_id"])
	assert.Len(t, snap["players"], 2)

	b := srv.dial(t, "u2", "c1")
	b.ReadUntil(gameserver.TypeGameSnapshot, 2*time.Second)

	b.Send(map[string]string{"type": "game_action", "channel_id": "c1", "command": "heal"})
	res := decode(t, b.ReadUntil(gameserver.TypeActionResult, 2*time.Second))
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "NotYourTurn", res["error"])

	a.Send(map[string]string{"type": "game_action", "channel_id": "c1", "command": "attack", "target_username": "bob"})
	update := decode(t, a.Read(2*time.Second))
	assert.Equal(t, gameserver.TypeStateUpdate, update["type"], "delta precedes the issuer's result")
	res = decode(t, a.Read(2*time.Second))
	assert.Equal(t, gameserver.TypeActionResult, res["type"])
	assert.Equal(t, true, res["success"])

	seen := decode(t, b.ReadUntil(gameserver.TypeStateUpdate, 2*time.Second))
	assert.Equal(t, update["seq"], seen["seq"])

	a.Send(map[string]string{"type": "game_snapshot_request", "channel_id": "c1"})
	snap = decode(t, a.ReadUntil(gameserver.TypeGameSnapshot, 2*time.Second))
	assert.Equal(t, update["seq"], snap["seq"])

	a.Send(map[string]string{"type": "game_action", "channel_id": "c2", "command": "heal"})
	res = decode(t, a.ReadUntil(gameserver.TypeActionResult, 2*time.Second))
	assert.Equal(t, "UnknownCommand", res["error"])

	a.Send(map[string]string{"type": "bogus"})
	res = decode(t, a.ReadUntil(gameserver.TypeActionResult, 2*time.Second))
	assert.Equal(t, "UnknownCommand", res["error"])
}

func TestWS_RequiresIdentity(t *testing.T) {
	srv := newTestServer(t, nil)
	url := "ws" + srv.URL[len("http"):] + "/ws?channel_id=c1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+srv.URL[len("http"):]+"/ws?user_id=u1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWS_RejectsNonMember(t *testing.T) {
	srv := newTestServer(t, nil)
	header := http.Header{}
	header.Set(gameserver.UserIDHeader, "mallory")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+srv.URL[len("http"):]+"/ws?channel_id=c1", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, srv.hub.Len(), "a refused watcher must not open a battle")

	header.Set(gameserver.UserIDHeader, "u1")
	_, resp, err = websocket.DefaultDialer.Dial("ws"+srv.URL[len("http"):]+"/ws?channel_id=c9", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "members of c1 are not members of c9")
}

func TestWS_UserIDQueryFallback(t *testing.T) {
	srv := newTestServer(t, nil)
	c := testutil.NewWSClient(t, srv.URL+"/ws?channel_id=c1&user_id=u1", nil)
	c.ReadUntil(gameserver.TypeGameSnapshot, 2*time.Second)
}

func TestWS_OriginAllowList(t *testing.T) {
	srv := newTestServer(t, nil, "https://chat.example.com")
	url := "ws" + srv.URL[len("http"):] + "/ws?channel_id=c1"

	header := http.Header{}
	header.Set(gameserver.UserIDHeader, "u1")
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestWS_DisconnectRemovesPlayer(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.post(t, "/game/join/c1", "u1")
	srv.post(t, "/game/join/c1", "u2")

	a := srv.dial(t, "u1", "c1")
	a.ReadUntil(gameserver.TypeGameSnapshot, 2*time.Second)
	b := srv.dial(t, "u2", "c1")
	b.ReadUntil(gameserver.TypeGameSnapshot, 2*time.Second)

	a.Close()
	// Zero reconnect grace: the departed player is removed outright.
	update := decode(t, b.ReadUntil(gameserver.TypeStateUpdate, 2*time.Second))
	assert.Equal(t, []any{"u1"}, update["removed_players"])
}
