package kafka

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter

	attempts   uint
	retryDelay time.Duration
}

func NewProducer(brokers []string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	})
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w, attempts: 3, retryDelay: 100 * time.Millisecond}
}

// WithRetry задаёт число попыток публикации и паузу между ними; <=0 оставляет дефолт.
func (p *Producer) WithRetry(attempts int, delay time.Duration) *Producer {
	if attempts > 0 {
		p.attempts = uint(attempts)
	}
	if delay > 0 {
		p.retryDelay = delay
	}
	return p
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return p.w.WriteMessages(ctx, kafka.Message{
				Topic: topic,
				Key:   key,
				Value: value,
			})
		},
		retry.Attempts(p.attempts),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("kafka publish retry", "topic", topic, "attempt", n+1, "error", err.Error())
		}),
	)
	if err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) Close() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
