package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/power4-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestSubscribedClientReceivesGameEvents(t *testing.T) {
	hub, url := startHub(t)
	watcher := dial(t, url)
	other := dial(t, url)

	require.NoError(t, watcher.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, GameID: 5}))
	ack := readMessage(t, watcher)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, int64(5), ack.GameID)

	require.NoError(t, other.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, GameID: 6}))
	readMessage(t, other)

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(5) == 1 && hub.GetSubscriberCount(6) == 1
	}, time.Second, 10*time.Millisecond)

	hub.BroadcastMove(&domain.MoveResult{GameID: 5, MoveNo: 1, Column: 3, Disc: domain.DiscPlayer1})
	msg := readMessage(t, watcher)
	assert.Equal(t, MessageTypeMove, msg.Type)
	assert.Equal(t, int64(5), msg.GameID)

	hub.BroadcastFinish(&domain.Settlement{GameID: 5, Status: domain.GameStatusFinished})
	msg = readMessage(t, watcher)
	assert.Equal(t, MessageTypeGameFinished, msg.Type)

	// game 6 saw neither event; its next frame is the pong
	require.NoError(t, other.WriteJSON(ClientMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, other).Type)
}

func TestSubscribeRequiresGame(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, GameID: 9}))
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.GetSubscriberCount(9) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(9) == 0 && hub.GetTotalConnections() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestWatchLimitAndUnsubscribe(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	for id := int64(1); id <= maxWatchedGames; id++ {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, GameID: id}))
		require.Equal(t, MessageTypeSubscribed, readMessage(t, conn).Type)
	}

	// re-subscribing a watched game is still acknowledged
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, GameID: 1}))
	assert.Equal(t, MessageTypeSubscribed, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, GameID: maxWatchedGames + 1}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe, GameID: 1}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeUnsubscribed, ack.Type)
	assert.Equal(t, int64(1), ack.GameID)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe, GameID: 1}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(1) == 0 && hub.GetSubscriberCount(2) == 1
	}, time.Second, 10*time.Millisecond)
}
