package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHub_StreamsLogLines(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	defer h.Close()
	conn := dial(t, h)

	logger := zerolog.New(h.Writer())
	logger.Warn().Str("targetKey", "a").Msg("batch failed, retrying")

	var ev Event
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, Event{Type: "warn", Message: "batch failed, retrying"}, ev)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	conn := dial(t, h)

	h.Close()
	assert.Equal(t, 0, h.Clients())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_DropsForSlowClients(t *testing.T) {
	h := NewHub(1, zerolog.Nop())
	c := &Client{hub: h, sendChan: make(chan []byte, 1), closeChan: make(chan struct{})}
	require.True(t, h.register(c))

	h.Publish(Event{Type: "info", Message: "one"})
	h.Publish(Event{Type: "info", Message: "two"})

	assert.Equal(t, uint64(1), h.Dropped())
	assert.JSONEq(t, `{"type":"info","message":"one"}`, string(<-c.sendChan))
}

func TestLogWriter_NonJSON(t *testing.T) {
	h := NewHub(1, zerolog.Nop())
	c := &Client{hub: h, sendChan: make(chan []byte, 1), closeChan: make(chan struct{})}
	require.True(t, h.register(c))

	n, err := h.Writer().Write([]byte("plain text"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.JSONEq(t, `{"type":"log","message":"plain text"}`, string(<-c.sendChan))
}
