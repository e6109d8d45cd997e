package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	require.NoError(t, q.Publish(ctx, Message{Type: "notification", Body: []byte("a")}))
	require.NoError(t, q.Publish(ctx, Message{Type: "notification", Body: []byte("b")}))
	assert.Equal(t, 2, q.Len())

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-ch:
			assert.Equal(t, want, string(msg.Body))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "y"}), context.DeadlineExceeded)
}

func TestSerialize(t *testing.T) {
	tests := []struct {
		name string
		in   Message
	}{
		{"plain", Message{Type: "notification", Body: []byte(`{"user_id":1}`)}},
		{"body with separator", Message{Type: "notification", Body: []byte("a|b|c")}},
		{"empty body", Message{Type: "ping", Body: []byte{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deserialize(serialize(tt.in))
			assert.Equal(t, tt.in.Type, got.Type)
			assert.Equal(t, string(tt.in.Body), string(got.Body))
		})
	}

	raw := deserialize("no separator")
	assert.Empty(t, raw.Type)
	assert.Equal(t, "no separator", string(raw.Body))
}
