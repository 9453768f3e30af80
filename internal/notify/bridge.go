package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/metrics"
	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// DefaultChannel is the Postgres NOTIFY channel / Redis pub-sub channel name
const DefaultChannel = "session_requests"

// Bridge carries events between service instances.
// Publish sends to the shared channel; Run receives from it (including the
// instance's own events) and dispatches them to the local hub.
type Bridge interface {
	Publisher
	Run(ctx context.Context) error
}

func encodeEvent(ev model.Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return string(payload), nil
}

func decodeEvent(payload string) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func reconnectBackoff() retry.Backoff {
	return retry.WithCappedDuration(10*time.Second, retry.NewExponential(250*time.Millisecond))
}

// LocalBridge is used when a single instance serves all clients
type LocalBridge struct {
	hub *Hub
}

func NewLocalBridge(hub *Hub) *LocalBridge {
	return &LocalBridge{hub: hub}
}

func (b *LocalBridge) Publish(ctx context.Context, ev model.Event) error {
	if err := b.hub.Publish(ctx, ev); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (b *LocalBridge) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// ============ Postgres LISTEN/NOTIFY ============

type PostgresBridge struct {
	pool    *pgxpool.Pool
	hub     *Hub
	channel string
	logger  *zap.Logger
}

func NewPostgresBridge(pool *pgxpool.Pool, hub *Hub, channel string, logger *zap.Logger) *PostgresBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PostgresBridge{pool: pool, hub: hub, channel: channel, logger: logger}
}

// Publish sends ev with pg_notify; delivery happens when the transaction-less call returns
func (b *PostgresBridge) Publish(ctx context.Context, ev model.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, b.channel, payload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Run listens until ctx is cancelled, reconnecting with capped exponential backoff
func (b *PostgresBridge) Run(ctx context.Context) error {
	b.logger.Info("Starting Postgres notification listener", zap.String("channel", b.channel))

	err := retry.Do(ctx, reconnectBackoff(), func(ctx context.Context) error {
		if err := b.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("Postgres listener dropped, reconnecting", zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *PostgresBridge) listen(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	// Соединение в режиме LISTEN не возвращаем в пул
	pgConn := conn.Hijack()
	defer pgConn.Close(context.Background())

	if _, err := pgConn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", b.channel, err)
	}

	for {
		n, err := pgConn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		ev, err := decodeEvent(n.Payload)
		if err != nil {
			b.logger.Error("Dropping malformed notification", zap.Error(err))
			continue
		}

		if err := b.hub.Publish(ctx, ev); err != nil {
			return err
		}
	}
}

// ============ Redis pub/sub ============

type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	logger  *zap.Logger
}

func NewRedisBridge(client *redis.Client, hub *Hub, channel string, logger *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, hub: hub, channel: channel, logger: logger}
}

func (b *RedisBridge) Publish(ctx context.Context, ev model.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Run subscribes until ctx is cancelled; go-redis re-establishes dropped connections itself
func (b *RedisBridge) Run(ctx context.Context) error {
	b.logger.Info("Starting Redis notification subscriber", zap.String("channel", b.channel))

	var sub *redis.PubSub
	err := retry.Do(ctx, reconnectBackoff(), func(ctx context.Context) error {
		sub = b.client.Subscribe(ctx, b.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			b.logger.Warn("Redis subscribe failed, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}
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
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				b.logger.Error("Dropping malformed notification", zap.Error(err))
				continue
			}
			if err := b.hub.Publish(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
