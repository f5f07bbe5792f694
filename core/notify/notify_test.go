package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemagate/core"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNotify(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w}

	err := k.Notify(context.Background(), "shop_users", core.OperationCreate, []byte(`{"id":"42","name":"jane"}`))
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	m := w.messages[0]
	assert.Equal(t, "42", string(m.Key))
	var event Event
	require.NoError(t, json.Unmarshal(m.Value, &event))
	assert.Equal(t, "shop_users", event.Collection)
	assert.Equal(t, core.OperationCreate, event.Operation)
	assert.Equal(t, "42", event.ID)
	assert.JSONEq(t, `{"id":"42","name":"jane"}`, string(event.Payload))
	assert.False(t, event.Timestamp.IsZero())
	require.Len(t, m.Headers, 2)
	assert.Equal(t, "create", string(m.Headers[1].Value))

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestNotify_Errors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	k := &Kafka{writer: w}
	assert.Error(t, k.Notify(context.Background(), "shop_users", core.OperationDelete, []byte(`{"id":"42"}`)))
	assert.Error(t, k.Notify(context.Background(), "shop_users", core.OperationDelete, []byte(`not json`)))
}
