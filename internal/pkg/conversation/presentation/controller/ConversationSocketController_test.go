package controller

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Angelica137/kindly/internal/infrastructure/realtime"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/session"
)

type chanFeed struct {
	events   chan conversation.Event
	mu       sync.Mutex
	released bool
}

func (f *chanFeed) Subscribe(context.Context, string) (<-chan conversation.Event, error) {
	return f.events, nil
}

func (f *chanFeed) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func (f *chanFeed) isReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type staticSnapshots []conversation.Summary

func (s staticSnapshots) ListUserConversations(context.Context, string) ([]conversation.Summary, error) {
	return append([]conversation.Summary(nil), s...), nil
}

type staticLookup struct{}

func (staticLookup) FindItemDisplay(context.Context, string) (conversation.ItemDisplay, error) {
	return conversation.ItemDisplay{Name: "Kettle"}, nil
}

type frame struct {
	Type          string                 `json:"type"`
	Code          string                 `json:"code"`
	SessionID     string                 `json:"session_id"`
	Conversations []conversation.Summary `json:"conversations"`
	Unread        []int64                `json:"unread"`
	Selection     selectionPayload       `json:"selection"`
	Current       *conversation.Summary  `json:"current"`
}

type socketHarness struct {
	server *httptest.Server
	mu     sync.Mutex
	feeds  []*chanFeed
}

func newSocketHarness(t *testing.T, snapshot ...conversation.Summary) *socketHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &socketHarness{}

	factory := func(userID string) *session.Session {
		f := &chanFeed{events: make(chan conversation.Event, 8)}
		h.mu.Lock()
		h.feeds = append(h.feeds, f)
		h.mu.Unlock()
		return session.New(userID, session.Deps{
			Feed:      f,
			Lookup:    staticLookup{},
			Snapshots: staticSnapshots(snapshot),
		})
	}

	router := realtime.NewRouter()
	r := gin.New()
	r.GET("/ws", NewConversationSocketController(router, factory, nil).Handle())
	h.server = httptest.NewServer(r)
	t.Cleanup(func() {
		router.Close()
		h.server.Close()
	})
	return h
}

func (h *socketHarness) feed(i int) *chanFeed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feeds[i]
}

func (h *socketHarness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?user_id=" + userID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, ws *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if match(f) {
			return f
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func TestConversationSocket_StateLifecycle(t *testing.T) {
	snapshot := conversation.Summary{RowID: 10, ConversationID: 1, UserID: "u1", ItemName: "Sofa", ItemResolved: true}
	h := newSocketHarness(t, snapshot)
	ws := h.dial(t, "u1")

	connected := readUntil(t, ws, func(f frame) bool { return f.Type == "connected" })
	assert.NotEmpty(t, connected.SessionID)

	state := readUntil(t, ws, func(f frame) bool { return f.Type == "state" })
	require.Len(t, state.Conversations, 1)
	assert.Equal(t, "none", state.Selection.Mode)

	// A new conversation with unread messages arrives.
	h.feed(0).events <- conversation.Inserted(conversation.Row{ID: 20, ConversationID: 2, UserID: "u1", ItemID: "i2", HasUnreadMessages: true})
	state = readUntil(t, ws, func(f frame) bool { return f.Type == "state" && len(f.Conversations) == 2 })
	assert.Equal(t, []int64{2}, state.Unread)
	assert.Equal(t, "Kettle", state.Conversations[1].ItemName)

	send(t, ws, map[string]any{"type": "select", "conversation_id": 2})
	state = readUntil(t, ws, func(f frame) bool { return f.Type == "state" && f.Selection.Mode == "conversation" })
	assert.Equal(t, int64(2), state.Selection.ConversationID)
	require.NotNil(t, state.Current)
	assert.Equal(t, int64(2), state.Current.ConversationID)

	send(t, ws, map[string]any{"type": "select", "conversation_id": 99})
	errFrame := readUntil(t, ws, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "stale_selection", errFrame.Code)

	h.feed(0).events <- conversation.Deleted(conversation.Row{ID: 20, ConversationID: 2})
	state = readUntil(t, ws, func(f frame) bool { return f.Type == "state" && len(f.Conversations) == 1 })
	assert.Empty(t, state.Unread)
	assert.True(t, state.Selection.ListVisible)
	assert.Nil(t, state.Current)

	send(t, ws, map[string]any{"type": "bogus"})
	errFrame = readUntil(t, ws, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "unsupported_type", errFrame.Code)
}

func TestConversationSocket_NewSocketReplacesSession(t *testing.T) {
	h := newSocketHarness(t)
	first := h.dial(t, "u1")
	readUntil(t, first, func(f frame) bool { return f.Type == "state" })

	second := h.dial(t, "u1")
	readUntil(t, second, func(f frame) bool { return f.Type == "state" })

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	var err error
	for err == nil {
		_, _, err = first.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, realtime.CloseSessionReplaced), err)

	require.Eventually(t, h.feed(0).isReleased, 3*time.Second, 10*time.Millisecond)
	assert.False(t, h.feed(1).isReleased())
}

func TestConversationSocket_ClientCloseReleasesFeed(t *testing.T) {
	h := newSocketHarness(t)
	ws := h.dial(t, "u1")
	readUntil(t, ws, func(f frame) bool { return f.Type == "state" })

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, h.feed(0).isReleased, 3*time.Second, 10*time.Millisecond)
}

func TestConversationSocket_RequiresUser(t *testing.T) {
	h := newSocketHarness(t)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
