package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/hms-api/pkg/circuitbreaker"
	"github.com/jwalitptl/hms-api/pkg/messaging"
)

type RedisBroker struct {
	client *redis.Client
	cb     *circuitbreaker.CircuitBreaker
	prefix string
	logger zerolog.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	// ChannelPrefix is prepended to every channel, e.g. "hms." gives "hms.bed.assigned".
	ChannelPrefix string
}

func NewRedisBroker(ctx context.Context, config Config, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroker{
		client: client,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "redis-broker",
			MaxFailures: 5,
			MaxRequests: 1,
			Interval:    10 * time.Second,
			Timeout:     5 * time.Second,
		}),
		prefix: config.ChannelPrefix,
		logger: logger.With().Str("component", "redis-broker").Logger(),
	}, nil
}

func (b *RedisBroker) channel(name string) string {
	return b.prefix + name
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case []byte:
		payload = m
	case json.RawMessage:
		payload = m
	default:
		var err error
		if payload, err = json.Marshal(message); err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
	}

	return b.cb.Execute(func() error {
		if err := b.client.Publish(ctx, b.channel(channel), payload).Err(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", b.channel(channel), err)
		}
		return nil
	})
}

// Subscribe delivers raw payloads until ctx is done. The returned channel is
// closed when the subscription ends.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel(channel), err)
	}

	msgChan := make(chan []byte, 100)
	go func() {
		defer func() {
			pubsub.Close()
			close(msgChan)
		}()

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				b.logger.Warn().Err(err).Str("channel", channel).Msg("receive failed")
				continue
			}
			select {
			case msgChan <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgChan, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ messaging.Broker = (*RedisBroker)(nil)
