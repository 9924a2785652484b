// Package ingress is the stream ingress stage: subscribes with a
// durable consumer group, reads bounded batches, parses each field's name
// into a TimingMessage, and acknowledges. Broker reconnects re-ensure the
// group/stream idempotently; malformed field names are logged and skipped
// rather than aborting the batch.
package ingress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trackcore/timingcore/engine/broker"
	"github.com/trackcore/timingcore/engine/models"
	"github.com/trackcore/timingcore/engine/ratelimit"
	"github.com/trackcore/timingcore/engine/telemetry/logging"
)

// Reader is the narrow broker surface ingress depends on, so it can be
// faked in tests without a live Redis connection.
type Reader interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadBatch(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]broker.Field, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// Ingress reads one event's input stream and dispatches parsed messages to
// onMessage.
type Ingress struct {
	reader    Reader
	eventID   string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration
	backoff   time.Duration
	limiter   ratelimit.RateLimiter
	log       logging.Logger
	onMessage func(models.TimingMessage)
}

// New constructs an ingress stage for eventID. The consumer group is always
// `{evt-st-<eventId>}`.
func New(reader Reader, eventID, consumer string, batchSize int64, block, backoff time.Duration, limiter ratelimit.RateLimiter, log logging.Logger, onMessage func(models.TimingMessage)) *Ingress {
	if batchSize <= 0 {
		batchSize = 50
	}
	if backoff <= 0 {
		backoff = 10 * time.Second
	}
	return &Ingress{
		reader:    reader,
		eventID:   eventID,
		group:     fmt.Sprintf("{evt-st-%s}", eventID),
		consumer:  consumer,
		batchSize: batchSize,
		block:     block,
		backoff:   backoff,
		limiter:   limiter,
		log:       log,
		onMessage: onMessage,
	}
}

// Stream is the broker stream key this ingress reads from.
func (i *Ingress) Stream() string { return broker.EventStream(i.eventID) }

// Start ensures the consumer group exists and begins the read-dispatch-ack
// loop, blocking until ctx is cancelled.
func (i *Ingress) Start(ctx context.Context) error {
	if err := i.reader.EnsureGroup(ctx, i.Stream(), i.group); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := i.runOnce(ctx); err != nil {
			i.logError(ctx, "ingress read failed, backing off", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(i.backoff):
			}
			// Reconnect path: re-ensure group/stream (idempotent).
			_ = i.reader.EnsureGroup(ctx, i.Stream(), i.group)
		}
	}
}

func (i *Ingress) runOnce(ctx context.Context) error {
	var permit ratelimit.Permit
	if i.limiter != nil {
		p, err := i.limiter.Allow(ctx, "ingress:"+i.eventID)
		if err != nil {
			return err
		}
		permit = p
	}

	fields, err := i.reader.ReadBatch(ctx, i.Stream(), i.group, i.consumer, i.batchSize, i.block)
	if i.limiter != nil {
		i.limiter.Report(permit, ratelimit.Feedback{Success: err == nil})
	}
	if err != nil {
		return err
	}

	var ids []string
	for _, f := range fields {
		msg, ok := parseField(f)
		if !ok {
			i.logWarn(ctx, "skipping malformed field name", f.Name)
			ids = append(ids, f.ID)
			continue
		}
		if i.onMessage != nil {
			i.onMessage(msg)
		}
		ids = append(ids, f.ID)
	}
	if len(ids) > 0 {
		return i.reader.Ack(ctx, i.Stream(), i.group, ids...)
	}
	return nil
}

// parseField dispatches a raw field as TimingMessage{Type, Data, SessionID}
// per the `<type>-<eventId>-<sessionId>` grammar. A field name with
// fewer than three `-`-separated tokens is malformed.
func parseField(f broker.Field) (models.TimingMessage, bool) {
	tokens := strings.Split(f.Name, "-")
	if len(tokens) < 3 {
		return models.TimingMessage{}, false
	}
	return models.TimingMessage{
		Type:      tokens[0],
		Data:      []byte(f.Value),
		EventID:   tokens[1],
		SessionID: tokens[2],
	}, true
}

func (i *Ingress) logWarn(ctx context.Context, msg, fieldName string) {
	if i.log != nil {
		i.log.WarnCtx(ctx, msg, "field_name", fieldName)
	}
}

func (i *Ingress) logError(ctx context.Context, msg string, err error) {
	if i.log != nil {
		i.log.ErrorCtx(ctx, msg, "error", err.Error())
	}
}
