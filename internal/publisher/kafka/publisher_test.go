package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/correlation"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishWritesKeyedJSON(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	pub := newWithWriter(w, zap.NewNop())

	event := form.SubmissionEvent{ID: 7, Name: "Raj", Phone: "9876543210", CorrelationID: "req-7"}
	id, err := pub.Publish(correlation.WithID(context.Background(), "req-7"), "enquiries", event)
	require.NoError(t, err)
	assert.Equal(t, "req-7", id)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "enquiries", msg.Topic)
	assert.Equal(t, []byte("req-7"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "X-Request-ID", msg.Headers[0].Key)

	var got form.SubmissionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, event, got)
}

func TestPublishWithoutCorrelationUsesSequence(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	pub := newWithWriter(w, zap.NewNop())
	id, err := pub.Publish(context.Background(), "enquiries", map[string]int{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, "enquiries-1", id)
	assert.Nil(t, w.msgs[0].Key)
}

func TestPublishWrapsWriterError(t *testing.T) {
	t.Parallel()

	boom := errors.New("leader not available")
	pub := newWithWriter(&fakeWriter{err: boom}, zap.NewNop())
	_, err := pub.Publish(context.Background(), "enquiries", "x")
	require.ErrorIs(t, err, boom)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	pub := newWithWriter(&fakeWriter{}, zap.NewNop())
	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestNewRequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)

	pub, err := New(Config{Brokers: []string{"localhost:9092"}}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestCloseClosesWriter(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	require.NoError(t, newWithWriter(w, zap.NewNop()).Close())
	assert.True(t, w.closed)
}
