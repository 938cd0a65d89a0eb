package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsaga/messaging"
)

// TestReliablePublisher_Success 测试发布成功时不入队
func TestReliablePublisher_Success(t *testing.T) {
	store := NewMemoryStore()
	transport := &flakyPublisher{}
	publisher := NewReliablePublisher(transport, store, Config{}, nil)

	require.NoError(t, publisher.Publish(context.Background(), messaging.NewEnvelope("order.accepted", "corr-A", nil)))

	size, err := store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, size)
	assert.Equal(t, 1, transport.publishedCount())
}

// TestReliablePublisher_FailureMovesToDLQ 测试发布失败转入死信且对调用方静默
func TestReliablePublisher_FailureMovesToDLQ(t *testing.T) {
	store := NewMemoryStore()
	transport := &flakyPublisher{failures: 1000}
	publisher := NewReliablePublisher(transport, store, Config{RetryInterval: time.Second}, nil)
	ctx := context.Background()

	message := messaging.NewEnvelope("order.completed", "corr-B", map[string]interface{}{"orderId": "order-1"})
	assert.NoError(t, publisher.Publish(ctx, message), "死信兜底成功即视为接受")

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	eligible, err := store.Eligible(ctx, time.Now().UTC().Add(time.Hour), 5, 0)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, message.GetID(), eligible[0].EventID)
	assert.Equal(t, "order.completed", eligible[0].EventType)
	assert.Equal(t, 0, eligible[0].RetryCount)
}

// failingDLQStore 入队恒失败的死信存储
type failingDLQStore struct {
	*MemoryStore
	enqueueErr error
}

func (s *failingDLQStore) Enqueue(ctx context.Context, event *FailedEvent) error {
	return s.enqueueErr
}

// TestReliablePublisher_EnqueueFailureSurfaced 测试死信入队失败向调用方返回错误
func TestReliablePublisher_EnqueueFailureSurfaced(t *testing.T) {
	enqueueErr := errors.New("dlq store unavailable")
	store := &failingDLQStore{MemoryStore: NewMemoryStore(), enqueueErr: enqueueErr}
	transport := &flakyPublisher{failures: 1000}
	publisher := NewReliablePublisher(transport, store, Config{}, nil)

	err := publisher.Publish(context.Background(), messaging.NewEnvelope("order.completed", "corr-C", nil))
	assert.ErrorIs(t, err, enqueueErr)
}
