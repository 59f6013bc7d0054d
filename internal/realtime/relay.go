package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/geoquest/internal/geoquest"
)

const (
	channelPrefix  = "geoquest:game:"
	seqKeyPrefix   = "geoquest:seq:"
	seqTTL         = 24 * time.Hour
	publishTimeout = 2 * time.Second
)

// RedisRelay publishes events through Redis so that players connected to
// different server instances see the same stream. Sequence numbers come from
// a Redis counter per game. Every instance, the publishing one included,
// delivers events to its local Broker when they arrive on the channel.
type RedisRelay struct {
	client *redis.Client
	broker *Broker
	logger *slog.Logger
}

func NewRedisRelay(client *redis.Client, broker *Broker, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, broker: broker, logger: logger}
}

// Publish numbers ev and sends it to the game's channel. If Redis is
// unreachable the event is still delivered to local subscribers.
func (r *RedisRelay) Publish(gameID string, ev geoquest.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	seq, err := r.nextSeq(ctx, gameID)
	if err != nil {
		r.logger.Warn("redis sequence failed, delivering locally", "game_id", gameID, "error", err)
		r.broker.Publish(gameID, ev)
		return
	}
	ev.GameID = gameID
	ev.Seq = seq

	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encoding event", "game_id", gameID, "type", ev.Type, "error", err)
		return
	}
	if err := r.client.Publish(ctx, channelPrefix+gameID, data).Err(); err != nil {
		r.logger.Warn("redis publish failed, delivering locally", "game_id", gameID, "error", err)
		r.broker.Deliver(gameID, seq, data)
	}
}

func (r *RedisRelay) nextSeq(ctx context.Context, gameID string) (uint64, error) {
	key := seqKeyPrefix + gameID
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, seqTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Run forwards events from every game channel to the local Broker until ctx
// is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(msg)
		}
	}
}

func (r *RedisRelay) forward(msg *redis.Message) {
	gameID := strings.TrimPrefix(msg.Channel, channelPrefix)
	var head struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil {
		r.logger.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
		return
	}
	r.broker.Deliver(gameID, head.Seq, []byte(msg.Payload))
}
