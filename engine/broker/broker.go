// Package broker wraps the Redis-compatible streaming broker: durable
// consumer-group reads with idempotent group/stream creation, XAdd for the
// lap-log stream, and pub/sub for the configuration-change/shutdown
// channels.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key/channel names shared across the broker's consumers.
const (
	ConsumerGroupLog    = "log"
	ConsumerGroupLogger = "logger"

	ChannelEventStatusPrefix      = "event-status"
	ChannelEventConfigChanged     = "event-configuration-changed"
	ChannelFullStatus             = "fullstatus"
	ChannelShutdownSignal         = "evt-shutdown-signal"
	HashRelayConnections          = "relay-evt-conns"
)

// EventStream returns the event input stream key for eventID.
func EventStream(eventID string) string { return fmt.Sprintf("evt-st-%s", eventID) }

// LapLogStream returns the lap-log stream key for eventID.
func LapLogStream(eventID string) string { return fmt.Sprintf("evt-proc-log-%s", eventID) }

// PayloadCacheKey returns the short-lived full-payload cache key for eventID.
func PayloadCacheKey(eventID string) string { return fmt.Sprintf("evt-%s-payload", eventID) }

// InCarCacheKey returns the short-lived in-car payload cache key.
func InCarCacheKey(eventID, carNumber string) string {
	return fmt.Sprintf("in-car-data-%s-%s", eventID, carNumber)
}

// Broker is a thin wrapper over a redis.Client exposing the stream/pub-sub
// operations the pipeline needs.
type Broker struct {
	client *redis.Client
}

// New constructs a broker client against addr, authenticating with password
// if non-empty.
func New(addr, password string) *Broker {
	return &Broker{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error { return b.client.Close() }

// EnsureGroup idempotently creates group on stream (MKSTREAM), tolerating
// the BUSYGROUP error Redis returns when the group already exists, so a
// reconnecting consumer can always re-ensure group+stream existence.
func (b *Broker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Field is one dispatched stream entry, ready for TimingMessage parsing.
type Field struct {
	ID    string
	Name  string
	Value string
}

// ReadBatch reads up to count pending entries for consumer in group on
// stream, blocking up to block waiting for new entries.
func (b *Broker) ReadBatch(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Field, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fields []Field
	for _, streamResult := range res {
		for _, msg := range streamResult.Messages {
			for name, value := range msg.Values {
				str, ok := value.(string)
				if !ok {
					continue
				}
				fields = append(fields, Field{ID: msg.ID, Name: name, Value: str})
			}
		}
	}
	return fields, nil
}

// Ack acknowledges ids in group on stream.
func (b *Broker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.client.XAck(ctx, stream, group, ids...).Err()
}

// XAdd appends one entry to stream.
func (b *Broker) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	return b.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
}

// Publish JSON-encodes payload and publishes it on channel.
func (b *Broker) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	return b.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a pub/sub subscription to channel.
func (b *Broker) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return b.client.Subscribe(ctx, channel)
}

// SetPayloadCache stores a short-TTL string key (e.g. a replay payload)
// directly in Redis rather than the in-process LRU, since these are meant
// to be visible to other processes sharing the broker.
func (b *Broker) SetPayloadCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// GetPayloadCache reads back a key stored via SetPayloadCache.
func (b *Broker) GetPayloadCache(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
