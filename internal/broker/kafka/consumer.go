package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/InvoiceBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// InvoiceIngestedHandler reacts to one stored invoice. A returned error stops the
// consumer and leaves the message uncommitted.
type InvoiceIngestedHandler func(ctx context.Context, msg messages.InvoiceIngested) error

// Consumer reads invoice.ingested notifications.
type Consumer struct {
	r       messageReader
	skipped atomic.Int64
}

// NewConsumer joins groupID on topic. A new group starts from the latest offset:
// older notifications only concern cache entries that have expired by now.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.LastOffset,
		MaxWait:           500 * time.Millisecond,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Skipped is the number of messages committed without being handled because they
// could not be decoded.
func (c *Consumer) Skipped() int64 {
	return c.skipped.Load()
}

// ConsumeInvoiceIngested blocks until ctx is done or handle fails. Messages that can
// not be decoded are logged and committed, so one bad payload does not stall the
// partition.
func (c *Consumer) ConsumeInvoiceIngested(ctx context.Context, handle InvoiceIngestedHandler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}

		m, err := decodeInvoiceIngested(msg)
		if err != nil {
			c.skipped.Add(1)
			slog.Warn("skip malformed invoice.ingested",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err.Error(),
			)
		} else if err := handle(ctx, m); err != nil {
			return errors.Wrapf(err, "handle invoice.ingested at offset %d", msg.Offset)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// decodeInvoiceIngested falls back to the message key for the shipment id: the
// producer keys every notification by shipment.
func decodeInvoiceIngested(msg kafka.Message) (messages.InvoiceIngested, error) {
	var m messages.InvoiceIngested
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return m, errors.Wrap(err, "decode invoice.ingested")
	}
	if m.ShipmentID == "" {
		m.ShipmentID = string(msg.Key)
	}
	if m.ShipmentID == "" {
		return m, errors.New("invoice.ingested without shipment_id")
	}
	return m, nil
}
