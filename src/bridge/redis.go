package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// envelope wraps a broadcast with the originating instance ID
// so that a node can skip its own published broadcasts.
type envelope struct {
	InstanceID string          `json:"instance_id"`
	Broadcast  types.Broadcast `json:"broadcast"`
}

// RedisBridge relays broadcasts between server instances via Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	target     BroadcastTarget
	logger     zerolog.Logger

	life   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance messaging.
func NewRedisBridge(cfg *RedisConfig, target BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	life, stop := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    cfg.Channel(),
		instanceID: uuid.NewString(),
		target:     target,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		life:       life,
		stop:       stop,
	}
}

// InstanceID identifies this node on the channel.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the broadcast channel and begins relaying. ctx bounds
// the connection attempt only.
func (b *RedisBridge) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}

	sub := b.client.Subscribe(b.life, b.channel)
	// The first reply confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrap(err, "redis subscribe")
	}
	b.active.Store(true)

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish sends a broadcast to all other instances via Redis.
func (b *RedisBridge) Publish(bc types.Broadcast) error {
	data, err := b.encode(bc)
	if err != nil {
		return err
	}
	return errors.Wrap(b.client.Publish(b.life, b.channel, data).Err(), "redis publish")
}

// Stop ends the subscription and closes the Redis client.
func (b *RedisBridge) Stop() error {
	b.active.Store(false)
	b.stop()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the subscription is live.
func (b *RedisBridge) Available() bool { return b.active.Load() }

func (b *RedisBridge) encode(bc types.Broadcast) ([]byte, error) {
	data, err := json.Marshal(envelope{InstanceID: b.instanceID, Broadcast: bc})
	return data, errors.Wrap(err, "encode broadcast")
}

func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	incoming := sub.Channel()
	for {
		select {
		case <-b.life.Done():
			return
		case m, ok := <-incoming:
			if !ok {
				b.active.Store(false)
				b.logger.Warn().Msg("redis subscription closed")
				return
			}
			b.relay([]byte(m.Payload))
		}
	}
}

// relay decodes an envelope and forwards broadcasts from other instances.
// It reports whether the broadcast was forwarded.
func (b *RedisBridge) relay(payload []byte) bool {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Error().Err(err).Msg("decode broadcast")
		return false
	}
	if env.InstanceID == b.instanceID {
		return false
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("room", env.Broadcast.Room.String()).
		Str("event", env.Broadcast.Frame.Event).
		Msg("broadcast relayed")
	b.target.BroadcastToLocal(env.Broadcast)
	return true
}
