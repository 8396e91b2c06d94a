package events

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := newClient(conn, h, h.logger.With().Str("remoteAddr", r.RemoteAddr).Logger())
	if !h.register(c) {
		c.Close()
		return
	}

	h.logger.Info().Str("remoteAddr", r.RemoteAddr).Msg("event stream client connected")
	c.Run()
	h.logger.Info().Str("remoteAddr", r.RemoteAddr).Msg("event stream client disconnected")
}
