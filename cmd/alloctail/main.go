// Command alloctail follows the allocbatch event stream and prints each event.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"allocbatch/internal/events"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/v1/events", "event stream URL")
	reconnect := flag.Duration("reconnect", 5*time.Second, "delay between reconnect attempts")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		if err := tail(ctx, *url); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Dur("retryIn", *reconnect).Msg("event stream disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*reconnect):
		}
	}
}

func tail(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			fmt.Println(string(data))
			continue
		}
		fmt.Printf("[%s] %s\n", ev.Type, ev.Message)
	}
}
