package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// eventChannel carries user events from worker processes to whichever
// api process holds the user's websocket.
const eventChannel = "pixelmint:events"

type bridgeMessage struct {
	UserID  string          `json:"user_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisPublisher implements Notifier by publishing events onto the
// shared Redis channel. Publishing is best-effort: a Redis outage costs
// push updates, never correctness.
type RedisPublisher struct {
	rc     *redis.Client
	logger zerolog.Logger
}

func NewRedisPublisher(rc *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{rc: rc, logger: logger}
}

func (p *RedisPublisher) EmitToUser(userID, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Err(err).Str("event", event).Msg("notify: marshal event payload failed")
		return
	}
	msg, err := json.Marshal(bridgeMessage{UserID: userID, Event: event, Payload: body})
	if err != nil {
		p.logger.Error().Err(err).Str("event", event).Msg("notify: marshal bridge message failed")
		return
	}
	if err := p.rc.Publish(context.Background(), eventChannel, msg).Err(); err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("notify: publish failed, event dropped")
	}
}

var _ Notifier = (*RedisPublisher)(nil)

func decodeBridgeMessage(data []byte) (bridgeMessage, error) {
	var msg bridgeMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}

// RunRedisSubscriber forwards bridged events into the local hub until
// ctx is done. Run it once per api process.
func RunRedisSubscriber(ctx context.Context, rc *redis.Client, hub *Hub, logger zerolog.Logger) {
	sub := rc.Subscribe(ctx, eventChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg, err := decodeBridgeMessage([]byte(m.Payload))
			if err != nil {
				logger.Warn().Err(err).Msg("notify: bad bridge message dropped")
				continue
			}
			hub.EmitToUser(msg.UserID, msg.Event, msg.Payload)
		}
	}
}
