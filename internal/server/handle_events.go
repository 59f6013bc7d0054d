package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/realtime"
)

const streamPingInterval = 30 * time.Second

// StreamSnapshot is the first message on every event stream. Events with a
// seq above Seq follow it.
type StreamSnapshot struct {
	Type  string     `json:"type"`
	Seq   uint64     `json:"seq"`
	State game.State `json:"state"`
}

// eventHead is the part of an encoded event the streams need for framing.
type eventHead struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
}

// openStream subscribes the player to their game and reads the snapshot
// afterwards, so no event committed after the snapshot is missed.
func openStream(r *http.Request, games *game.Service, broker *realtime.Broker) (chan []byte, StreamSnapshot, func(), error) {
	p := playerFrom(r)
	ch, cursor := broker.Subscribe(p.GameID)
	unsubscribe := func() { broker.Unsubscribe(p.GameID, ch) }

	st, err := games.State(r.Context(), p.GameID, p.ID)
	if err != nil {
		unsubscribe()
		return nil, StreamSnapshot{}, nil, err
	}
	return ch, StreamSnapshot{Type: "snapshot", Seq: cursor, State: st}, unsubscribe, nil
}

func handleEvents(games *game.Service, broker *realtime.Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
			return
		}

		ch, snap, unsubscribe, err := openStream(r, games, broker)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		data, _ := json.Marshal(snap)
		fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", snap.Seq, data)
		flusher.Flush()

		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				var head eventHead
				if err := json.Unmarshal(data, &head); err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", head.Type, head.Seq, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
