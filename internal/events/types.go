package events

import (
	"time"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// clients only send control frames
	maxMessageSize = 4 * 1024
)

// Event is one message on the stream
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
