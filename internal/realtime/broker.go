// Package realtime fans session events out to connected players.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/playperu/geoquest/internal/geoquest"
)

const subscriberBuffer = 16

// Broker is an in-process pub/sub for game events, keyed by game ID. Every
// delivered event carries a per-game sequence number so a subscriber can
// tell which events its snapshot already covers.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[chan []byte]struct{}
	lastSeq map[string]uint64
}

func NewBroker() *Broker {
	return &Broker{
		subs:    make(map[string]map[chan []byte]struct{}),
		lastSeq: make(map[string]uint64),
	}
}

// Subscribe returns a channel of JSON-encoded events for gameID and the
// sequence number of the last event delivered before the subscription.
// Callers read their snapshot after subscribing; events with a higher
// sequence number may or may not be reflected in it and are safe to apply
// again.
func (b *Broker) Subscribe(gameID string) (chan []byte, uint64) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[gameID] == nil {
		b.subs[gameID] = make(map[chan []byte]struct{})
	}
	b.subs[gameID][ch] = struct{}{}
	cursor := b.lastSeq[gameID]
	b.mu.Unlock()
	return ch, cursor
}

// Unsubscribe removes a channel from the game's subscribers.
func (b *Broker) Unsubscribe(gameID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[gameID], ch)
	if len(b.subs[gameID]) == 0 {
		delete(b.subs, gameID)
	}
	b.mu.Unlock()
}

// Publish numbers ev and delivers it to all local subscribers of gameID.
// Numbering and fan-out happen under one lock so subscribers see events in
// sequence order.
func (b *Broker) Publish(gameID string, ev geoquest.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev.GameID = gameID
	ev.Seq = b.lastSeq[gameID] + 1
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b.deliverLocked(gameID, ev.Seq, data)
}

// Deliver fans an already numbered, encoded event out to local
// subscribers.
func (b *Broker) Deliver(gameID string, seq uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(gameID, seq, data)
}

func (b *Broker) deliverLocked(gameID string, seq uint64, data []byte) {
	if seq > b.lastSeq[gameID] {
		b.lastSeq[gameID] = seq
	}
	for ch := range b.subs[gameID] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow; it resyncs from the next snapshot.
		}
	}
}

// Subscribers returns the number of local subscribers of gameID.
func (b *Broker) Subscribers(gameID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[gameID])
}
