package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMessage 测试创建消息
func TestNewMessage(t *testing.T) {
	msg := NewMessage("msg-1", "order.accepted", map[string]any{"order_id": "o-1"})

	assert.Equal(t, "msg-1", msg.GetID())
	assert.Equal(t, "order.accepted", msg.GetType())
	assert.False(t, msg.GetTimestamp().IsZero())
	assert.NotNil(t, msg.GetPayload())
	assert.NotNil(t, msg.GetMetadata())
}

// TestNewEnvelope 测试事件信封
func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("order.accepted", "corr-A", map[string]any{"order_id": "o-1"})

	require.NotEmpty(t, env.GetID())
	assert.Equal(t, "order.accepted", env.GetType())
	assert.Equal(t, "corr-A", env.CorrelationID())
	assert.Equal(t, "corr-A", CorrelationOf(env))

	// 每个信封分配独立的事件ID
	env2 := NewEnvelope("order.accepted", "corr-A", nil)
	assert.NotEqual(t, env.GetID(), env2.GetID())
}

// TestMessage_Metadata 测试元数据读写
func TestMessage_Metadata(t *testing.T) {
	msg := &Message{ID: "msg-1", Type: "t"}

	// 懒初始化
	assert.Empty(t, msg.CorrelationID())
	msg.SetMetadata(MetadataCorrelationID, "corr-B")
	assert.Equal(t, "corr-B", msg.CorrelationID())

	msg.SetMetadata("source", "orchestrator")
	assert.Equal(t, "orchestrator", msg.GetMetadata()["source"])
}

// TestCorrelationOf_NonMessage 测试非 *Message 实现的关联提取
func TestCorrelationOf_NonMessage(t *testing.T) {
	msg := &customMessage{meta: map[string]interface{}{MetadataCorrelationID: "corr-C"}}
	assert.Equal(t, "corr-C", CorrelationOf(msg))

	empty := &customMessage{}
	assert.Empty(t, CorrelationOf(empty))
}

// TestHandlerFunc 测试函数式处理器
func TestHandlerFunc(t *testing.T) {
	var handled IMessage
	h := HandlerFunc("test-handler", func(ctx context.Context, message IMessage) error {
		handled = message
		return nil
	})

	assert.Equal(t, "test-handler", h.Type())

	msg := NewMessage("msg-1", "t", nil)
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, msg, handled)

	anon := HandlerFunc("", func(ctx context.Context, message IMessage) error { return nil })
	assert.Equal(t, "func", anon.Type())
}

type customMessage struct {
	meta map[string]interface{}
}

func (m *customMessage) GetID() string                       { return "custom" }
func (m *customMessage) GetType() string                     { return "custom" }
func (m *customMessage) GetTimestamp() time.Time             { return time.Time{} }
func (m *customMessage) GetPayload() interface{}             { return nil }
func (m *customMessage) GetMetadata() map[string]interface{} { return m.meta }
