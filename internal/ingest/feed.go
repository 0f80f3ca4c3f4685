package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mediarelay/internal/config"
	"mediarelay/internal/logging"
)

const (
	defaultPrefetch  = 16
	reconnectBackoff = 5 * time.Second
)

// Event is the discovery message published by the source watcher.
type Event struct {
	SourceID int64     `json:"source_id"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
}

// Disposition is how a delivery was settled with the broker.
type Disposition string

const (
	DispositionAck     Disposition = "ack"
	DispositionReject  Disposition = "reject"
	DispositionRequeue Disposition = "requeue"
)

// Feed consumes discovery events from an AMQP queue.
type Feed struct {
	url      string
	queue    string
	prefetch int
	producer *Producer
	logger   *slog.Logger
	backoff  time.Duration
}

// NewFeed builds a feed consumer from the [feed] section. It does not dial.
func NewFeed(cfg config.Feed, producer *Producer, logger *slog.Logger) *Feed {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return &Feed{
		url:      strings.TrimSpace(cfg.AMQPURL),
		queue:    strings.TrimSpace(cfg.Queue),
		prefetch: prefetch,
		producer: producer,
		logger:   logging.NewComponentLogger(logger, "feed"),
		backoff:  reconnectBackoff,
	}
}

// Run consumes until ctx is cancelled, reconnecting after broker failures.
func (f *Feed) Run(ctx context.Context) error {
	if f.url == "" || f.queue == "" {
		return errors.New("feed requires amqp_url and queue")
	}
	for {
		err := f.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logging.WarnWithContext(f.logger, "feed connection lost; reconnecting", "feed_disconnected",
			logging.Error(err),
			logging.Duration("backoff", f.backoff),
			logging.String(logging.FieldErrorHint, "check the AMQP broker"),
			logging.String(logging.FieldImpact, "new items are not queued until the feed reconnects"),
		)
		timer := time.NewTimer(f.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(f.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	if _, err := ch.QueueDeclare(f.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", f.queue, err)
	}
	deliveries, err := ch.Consume(f.queue, consumerTag(), false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", f.queue, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	f.logger.Info("feed consuming",
		logging.String("queue", f.queue),
		logging.Int("prefetch", f.prefetch),
		logging.String(logging.FieldEventType, "feed_started"),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			f.Handle(ctx, delivery)
		}
	}
}

// Handle decodes one delivery, enqueues it, and settles it with the broker:
// ack when the item is queued or already known, reject malformed or invalid
// events, requeue when the store fails.
func (f *Feed) Handle(ctx context.Context, delivery amqp.Delivery) Disposition {
	var event Event
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		f.logger.Warn("discarding malformed discovery event",
			logging.Error(err),
			logging.String(logging.FieldEventType, "feed_malformed"),
			logging.String(logging.FieldErrorHint, "event must be JSON with source_id and name"),
			logging.String(logging.FieldImpact, "event dropped"),
		)
		f.settle(delivery, DispositionReject)
		return DispositionReject
	}

	result, _, err := f.producer.Submit(ctx, Item(event))
	if err != nil {
		logging.ErrorWithContext(f.logger, "failed to queue discovery event", "feed_enqueue_failed",
			logging.Int64(logging.FieldSourceID, event.SourceID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		f.settle(delivery, DispositionRequeue)
		return DispositionRequeue
	}
	if result == EnqueueInvalid {
		f.settle(delivery, DispositionReject)
		return DispositionReject
	}
	f.settle(delivery, DispositionAck)
	return DispositionAck
}

func (f *Feed) settle(delivery amqp.Delivery, disposition Disposition) {
	var err error
	switch disposition {
	case DispositionAck:
		err = delivery.Ack(false)
	case DispositionReject:
		err = delivery.Reject(false)
	case DispositionRequeue:
		err = delivery.Nack(false, true)
	}
	if err != nil {
		f.logger.Warn("failed to settle delivery",
			logging.String("disposition", string(disposition)),
			logging.Error(err),
		)
	}
}

func consumerTag() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("mediarelay-%s-%d", host, os.Getpid())
}
