package server

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
	"github.com/techagentng/qwik/config"
	"github.com/techagentng/qwik/realtime"
)

func dial(t *testing.T, ts *httptest.Server, peer string, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/chat/" + peer
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev realtime.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func waitMembers(t *testing.T, hub *realtime.Hub, group string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Members(group) == n },
		2*time.Second, 5*time.Millisecond, "group %s never reached %d members", group, n)
}

func TestChatSocketMessageFlow(t *testing.T) {
	e := newTestEnv(t)
	e.user(t, 5, "alice")
	e.user(t, 9, "bob")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	alice, _, err := dial(t, ts, "9", e.token(t, 5))
	require.NoError(t, err)
	bob, _, err := dial(t, ts, "5", e.token(t, 9))
	require.NoError(t, err)
	bobInbox, _, err := dial(t, ts, "0", e.token(t, 9))
	require.NoError(t, err)

	waitMembers(t, e.hub, realtime.RoomGroup(5, 9), 2)
	waitMembers(t, e.hub, realtime.PersonalGroup(9), 2)

	require.NoError(t, alice.WriteJSON(map[string]interface{}{"action": "message", "message": "hi"}))

	assert.Equal(t, realtime.ChatMessage("hi", 5), readEvent(t, alice))
	assert.Equal(t, realtime.ChatMessage("hi", 5), readEvent(t, bob))
	assert.Equal(t, realtime.InboxUpdate("hi", 5), readEvent(t, bob))
	assert.Equal(t, realtime.InboxUpdate("hi", 5), readEvent(t, bobInbox))

	thread, err := e.chat.FindThread(context.Background(), 9, 5)
	require.NoError(t, err)
	messages, err := e.chat.MessagesFor(context.Background(), thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Text)
	assert.False(t, messages[0].IsRead)

	require.NoError(t, bob.WriteJSON(map[string]interface{}{"action": "typing", "typing": true}))
	assert.Equal(t, realtime.TypingIndicator(true, 9), readEvent(t, alice))
	assert.Equal(t, realtime.TypingIndicator(true, 9), readEvent(t, bob))
}

func TestChatSocketSurvivesBadFrames(t *testing.T) {
	e := newTestEnv(t)
	e.user(t, 5, "alice")
	e.user(t, 9, "bob")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	alice, _, err := dial(t, ts, "9", e.token(t, 5))
	require.NoError(t, err)
	waitMembers(t, e.hub, realtime.RoomGroup(5, 9), 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{nope")))
	require.NoError(t, alice.WriteJSON(map[string]interface{}{"action": "wave"}))
	require.NoError(t, alice.WriteJSON(map[string]interface{}{"action": "message", "message": "still here"}))

	assert.Equal(t, realtime.ChatMessage("still here", 5), readEvent(t, alice))
}

func TestChatSocketAcceptsLongMultibyteMessages(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.WSMaxMessageBytes = 1024 })
	e.user(t, 5, "alice")
	e.user(t, 9, "bob")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	alice, _, err := dial(t, ts, "9", e.token(t, 5))
	require.NoError(t, err)
	waitMembers(t, e.hub, realtime.RoomGroup(5, 9), 1)

	long := strings.Repeat("你", realtime.MaxMessageRunes)
	require.NoError(t, alice.WriteJSON(map[string]interface{}{"action": "message", "message": long}))
	assert.Equal(t, realtime.ChatMessage(long, 5), readEvent(t, alice))

	require.NoError(t, alice.WriteJSON(map[string]interface{}{"action": "message", "message": long + "!"}))
	require.NoError(t, alice.WriteJSON(map[string]interface{}{"action": "message", "message": "after"}))
	assert.Equal(t, realtime.ChatMessage("after", 5), readEvent(t, alice))
}

func TestReadLimit(t *testing.T) {
	s := &Server{Config: &config.Config{}}
	assert.Equal(t, int64(realtime.MaxFrameBytes), s.readLimit())

	s.Config.WSMaxMessageBytes = 1024
	assert.Equal(t, int64(realtime.MaxFrameBytes), s.readLimit())

	s.Config.WSMaxMessageBytes = 1 << 20
	assert.Equal(t, int64(1<<20), s.readLimit())
}

func TestChatSocketInboxOnlyIgnoresRoomActions(t *testing.T) {
	e := newTestEnv(t)
	e.user(t, 5, "alice")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	conn, _, err := dial(t, ts, "0", e.token(t, 5))
	require.NoError(t, err)
	waitMembers(t, e.hub, realtime.PersonalGroup(5), 1)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "message", "message": "lost"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "typing", "typing": true}))

	require.NoError(t, e.hub.Publish(context.Background(), realtime.PersonalGroup(5), realtime.InboxUpdate("marker", 9)))
	assert.Equal(t, realtime.InboxUpdate("marker", 9), readEvent(t, conn))

	var count int64
	require.NoError(t, e.gormDB.DB.Table("messages").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestChatSocketRejections(t *testing.T) {
	e := newTestEnv(t)
	e.user(t, 5, "alice")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	_, resp, err := dial(t, ts, "9", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dial(t, ts, "abc", e.token(t, 5))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 0, e.hub.Members(realtime.PersonalGroup(5)))
}

func TestChatSocketCloseLeavesGroups(t *testing.T) {
	e := newTestEnv(t)
	e.user(t, 5, "alice")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	conn, _, err := dial(t, ts, "9", e.token(t, 5))
	require.NoError(t, err)
	waitMembers(t, e.hub, realtime.RoomGroup(5, 9), 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	waitMembers(t, e.hub, realtime.RoomGroup(5, 9), 0)
	waitMembers(t, e.hub, realtime.PersonalGroup(5), 0)
}

func TestChatSocketServerShutdown(t *testing.T) {
	e := newTestEnv(t)
	e.user(t, 5, "alice")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	conn, _, err := dial(t, ts, "0", e.token(t, 5))
	require.NoError(t, err)
	waitMembers(t, e.hub, realtime.PersonalGroup(5), 1)

	e.server.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	waitMembers(t, e.hub, realtime.PersonalGroup(5), 0)
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{Config: &config.Config{AllowedOrigins: "https://qwik.app, localhost:3000"}}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://qwik.app")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(req))

	open := &Server{Config: &config.Config{}}
	assert.True(t, open.checkOrigin(req))
}
