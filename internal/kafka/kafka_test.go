package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 4)
	p.Start(context.Background())

	env, err := orders.NewEnvelope(orders.EventOrderPlaced, "test", "o-1", "", map[string]string{"k": "v"})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.PublishEnvelope("o-1", env))
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	assert.Len(t, w.msgs, 10)
	assert.Equal(t, 1, w.closed)
	assert.Equal(t, []byte("o-1"), w.msgs[0].Key)
	assert.Equal(t, HeaderEventType, w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte(orders.EventOrderPlaced), w.msgs[0].Headers[0].Value)
	assert.ErrorIs(t, p.Publish(nil, nil), ErrProducerClosed)
}

func TestProducer_ContextCancelCloses(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.NoError(t, p.Publish([]byte("k"), []byte("v")))
	cancel()

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancel")
	}
	assert.Len(t, w.msgs, 1)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := orders.NewEnvelope(orders.EventFulfillmentRequested, "test", "o-9", "trace-1",
		orders.FulfillmentRequestedPayload{OrderID: "o-9", Status: "SHIPPED"})
	require.NoError(t, err)

	value, headers, err := EncodeEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), headers[1].Value)

	got, err := DecodeEnvelope(value)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	p, err := UnwrapPayload[orders.FulfillmentRequestedPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "SHIPPED", p.Status)

	_, err = DecodeEnvelope([]byte("{"))
	assert.Error(t, err)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

func TestConsumer_RetriesUntilSuccessThenCommits(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Partition: 0, Offset: 1},
		{Partition: 0, Offset: 2},
		{Partition: 1, Offset: 1},
	}}
	c := newConsumer(r, 2)
	c.retryMin, c.retryMax = time.Millisecond, 4*time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls[m.Offset*10+int64(m.Partition)]++
		if m.Partition == 0 && m.Offset == 1 && calls[10] < 3 {
			return errors.New("db down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls[10])
	// partition 0 dikomit berurutan
	var p0 []int64
	for _, m := range r.commits() {
		if m.Partition == 0 {
			p0 = append(p0, m.Offset)
		}
	}
	assert.Equal(t, []int64{1, 2}, p0)
}
