package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"NexusChat/internal/conversation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSource struct {
	mu    sync.Mutex
	state conversation.State
	subs  []func(conversation.State)
}

func (f *fakeSource) Snapshot() conversation.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeSource) Subscribe(fn func(conversation.State)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeSource) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs) > 0
}

func (f *fakeSource) commit(st conversation.State) {
	f.mu.Lock()
	f.state = st
	subs := append([]func(conversation.State){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(st.Clone())
	}
}

func stateWithChat(id conversation.ID, title string) conversation.State {
	st := conversation.NewState()
	st.Chats = append(st.Chats, conversation.Chat{ID: id, Title: title, Messages: []conversation.Message{}})
	st.ActiveChatID = &id
	return st
}

func readState(t *testing.T, conn *websocket.Conn) conversation.State {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	var st conversation.State
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestFeedStreamsSnapshots(t *testing.T) {
	src := &fakeSource{state: stateWithChat("1", "Welcome")}
	hub := NewHub(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	require.Eventually(t, src.subscribed, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(hub.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readState(t, conn)
	require.Len(t, first.Chats, 1)
	require.Equal(t, "Welcome", first.Chats[0].Title)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	src.commit(stateWithChat("42", "Research"))
	next := readState(t, conn)
	require.Equal(t, conversation.ID("42"), *next.ActiveChatID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStateEndpoint(t *testing.T) {
	src := &fakeSource{state: stateWithChat("7", "Docs")}
	hub := NewHub(src, nil)

	rec := httptest.NewRecorder()
	hub.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st conversation.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, conversation.ID("7"), *st.ActiveChatID)
	require.False(t, st.IsLoading)
}

func TestPlainRequestToWSIsRejected(t *testing.T) {
	hub := NewHub(&fakeSource{state: conversation.NewState()}, nil)
	rec := httptest.NewRecorder()
	hub.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, hub.Count())
}
