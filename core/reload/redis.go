package reload

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default Redis names.
const (
	DefaultChannel        = "apiforge:reload"
	DefaultFingerprintKey = "apiforge:fingerprint"
)

// RedisTrigger reloads when a message arrives on a pub/sub channel, so one
// instance can ask a fleet to reload. It also records the fingerprint of
// the active schema under a key.
type RedisTrigger struct {
	client  redis.UniversalClient
	channel string
	key     string
	reload  Func
	logger  zerolog.Logger
}

// NewRedisTrigger creates a trigger. Empty names fall back to the
// defaults.
func NewRedisTrigger(client redis.UniversalClient, channel, key string, reload Func, logger zerolog.Logger) *RedisTrigger {
	if channel == "" {
		channel = DefaultChannel
	}
	if key == "" {
		key = DefaultFingerprintKey
	}
	return &RedisTrigger{client: client, channel: channel, key: key, reload: reload, logger: logger}
}

// Run subscribes and reloads once per message until ctx is done. ready, if
// not nil, is closed once the subscription is active.
func (t *RedisTrigger) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := t.client.Subscribe(ctx, t.channel)
	defer sub.Close()

	// Wait for the subscription confirmation before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", t.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	t.logger.Info().Str("channel", t.channel).Msg("listening for reload messages")

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			t.logger.Info().Str("channel", msg.Channel).Str("payload", msg.Payload).Msg("reload requested")
			if err := t.reload(ctx, SourceRedis); err != nil {
				t.logger.Error().Err(err).Str("source", SourceRedis).Msg("schema reload failed, keeping active schema")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Notify asks every subscribed instance to reload.
func (t *RedisTrigger) Notify(ctx context.Context, payload string) error {
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish reload: %w", err)
	}
	return nil
}

// Record stores the fingerprint of the active schema.
func (t *RedisTrigger) Record(ctx context.Context, fingerprint string) error {
	if err := t.client.Set(ctx, t.key, fingerprint, 0).Err(); err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}
	return nil
}

// Active returns the recorded fingerprint, or "" when none is recorded.
func (t *RedisTrigger) Active(ctx context.Context) (string, error) {
	fp, err := t.client.Get(ctx, t.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read fingerprint: %w", err)
	}
	return fp, nil
}
