package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/InvoiceBox/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestConsumer_DecodesAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("s-1"), Value: []byte(`{"invoice_id":"i-1","shipment_id":"s-1","invoice_ref":"inv-1"}`)},
			{Key: []byte("s-2"), Value: []byte(`{"invoice_id":"i-2"}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.InvoiceIngested
	err := c.ConsumeInvoiceIngested(context.Background(), func(_ context.Context, m messages.InvoiceIngested) error {
		got = append(got, m)
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch message")

	require.Len(t, got, 2)
	require.Equal(t, "inv-1", got[0].InvoiceRef)
	require.Equal(t, "s-2", got[1].ShipmentID, "shipment id falls back to the message key")
	require.Len(t, fr.committed, 2)
}

func TestConsumer_SkipsMalformedMessages(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Value: []byte(`{broken`)},
			{Value: []byte(`{"invoice_id":"i-1"}`)},
			{Key: []byte("s-3"), Value: []byte(`{"invoice_id":"i-3"}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	calls := 0
	_ = c.ConsumeInvoiceIngested(context.Background(), func(context.Context, messages.InvoiceIngested) error {
		calls++
		return nil
	})
	require.Equal(t, 1, calls)
	require.Equal(t, int64(2), c.Skipped())
	require.Len(t, fr.committed, 3)
}

func TestConsumer_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("s-1"), Value: []byte(`{"shipment_id":"s-1"}`)}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.ConsumeInvoiceIngested(context.Background(), func(context.Context, messages.InvoiceIngested) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_ContextCanceled(t *testing.T) {
	fr := &fakeReader{}
	c := newConsumerWithReader(fr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.ConsumeInvoiceIngested(ctx, func(context.Context, messages.InvoiceIngested) error { return nil })
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, c.Close())
	require.True(t, fr.closed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
