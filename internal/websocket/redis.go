package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const roomChannelPrefix = "room:"

// DeliverFunc hands a relayed frame to this instance's members of room.
type DeliverFunc func(room string, data []byte, exceptConn string)

// RedisRelay fans room broadcasts out across server instances over Redis
// pub/sub. Each instance ignores what it published itself.
type RedisRelay struct {
	client   *redis.Client
	instance string
	log      zerolog.Logger
}

type relayMessage struct {
	Origin string          `json:"origin"`
	Except string          `json:"except,omitempty"`
	Data   json.RawMessage `json:"data"`
}

func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url parse error: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return client, nil
}

func NewRedisRelay(client *redis.Client, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{client: client, instance: uuid.New().String(), log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, room string, data []byte, exceptConn string) error {
	payload, err := json.Marshal(relayMessage{Origin: r.instance, Except: exceptConn, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	return r.client.Publish(ctx, roomChannelPrefix+room, payload).Err()
}

// Start subscribes to every room channel and returns once the subscription
// is confirmed. Delivery continues until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context, deliver DeliverFunc) error {
	pubsub := r.client.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("redis subscribe error: %w", err)
	}
	r.log.Info().Str("instance", r.instance).Msg("redis relay subscribed")

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handleMessage(msg, deliver)
			}
		}
	}()
	return nil
}

func (r *RedisRelay) handleMessage(msg *redis.Message, deliver DeliverFunc) {
	var rm relayMessage
	if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
		r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed relay message")
		return
	}
	if rm.Origin == r.instance {
		return
	}
	deliver(strings.TrimPrefix(msg.Channel, roomChannelPrefix), rm.Data, rm.Except)
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
