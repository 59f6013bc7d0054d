package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/realtime"
)

const wsWriteTimeout = 5 * time.Second

// handleWS streams the same messages as handleEvents over a WebSocket.
// Clients only listen; anything they send is discarded.
func handleWS(games *game.Service, broker *realtime.Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, snap, unsubscribe, err := openStream(r, games, broker)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		defer unsubscribe()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := conn.CloseRead(r.Context())

		data, _ := json.Marshal(snap)
		if err := writeWS(ctx, conn, data); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}

		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case data := <-ch:
				if err := writeWS(ctx, conn, data); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
			case <-ping.C:
				if err := conn.Ping(ctx); err != nil {
					logger.Debug("websocket ping failed", "error", err)
					return
				}
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
