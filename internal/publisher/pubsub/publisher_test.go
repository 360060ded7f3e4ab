package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/correlation"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "dharani-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishSendsJSONWithRequestID(t *testing.T) {
	t.Parallel()

	srv, client := newTestClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "contact-submissions")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Close() //nolint:errcheck

	event := form.SubmissionEvent{
		ID:            42,
		Name:          "Asha",
		Email:         "asha@example.com",
		Message:       "Hello",
		CorrelationID: "0192-req",
		SubmittedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	id, err := pub.Publish(correlation.WithID(ctx, "0192-req"), "contact-submissions", event)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "0192-req", msgs[0].Attributes[RequestIDAttribute])

	var got form.SubmissionEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, event, got)
}

func TestPublishMissingTopicFails(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub := New(client)
	defer pub.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := pub.Publish(ctx, "does-not-exist", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "publish message")
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub := New(client)
	_, err := pub.Publish(context.Background(), "contact-submissions", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "t", nil)
	require.Error(t, err)
}
