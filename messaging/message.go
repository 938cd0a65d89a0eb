// Package messaging 提供事件信封与消息传输层的核心抽象
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// MetadataCorrelationID 关联标识的元数据键
//
// 每条命令/事件都携带 correlation id，用于将回复关联回唯一的 Saga 实例。
const MetadataCorrelationID = "correlation_id"

// IMessage 消息接口
type IMessage interface {
	// GetID 获取消息ID（跨重试稳定，DLQ 与 broker 去重均以此为键）
	GetID() string

	// GetType 获取消息类型（作为路由键）
	GetType() string

	// GetTimestamp 获取时间戳
	GetTimestamp() time.Time

	// GetPayload 获取消息数据
	GetPayload() interface{}

	// GetMetadata 获取元数据
	GetMetadata() map[string]interface{}
}

// Message 消息基础实现
type Message struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   interface{}            `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// GetID 获取消息ID
func (m *Message) GetID() string {
	return m.ID
}

// GetType 获取消息类型
func (m *Message) GetType() string {
	return m.Type
}

// GetTimestamp 获取时间戳
func (m *Message) GetTimestamp() time.Time {
	return m.Timestamp
}

// GetPayload 获取消息数据
func (m *Message) GetPayload() interface{} {
	return m.Payload
}

// GetMetadata 获取元数据
func (m *Message) GetMetadata() map[string]interface{} {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
}

// CorrelationID 获取关联标识（未设置时返回空串）
func (m *Message) CorrelationID() string {
	if m.Metadata == nil {
		return ""
	}
	id, _ := m.Metadata[MetadataCorrelationID].(string)
	return id
}

// NewMessage 创建新消息
func NewMessage(messageID, messageType string, data interface{}) *Message {
	return &Message{
		ID:        messageID,
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   data,
		Metadata:  make(map[string]interface{}),
	}
}

// NewEnvelope 创建带关联标识的事件信封
//
// 自动分配稳定的事件ID（uuid）与时间戳，并把 correlationID 写入元数据。
// 出站命令与领域事件统一经由此构造，保证回复可被关联回唯一实例。
func NewEnvelope(messageType, correlationID string, data interface{}) *Message {
	msg := NewMessage(uuid.NewString(), messageType, data)
	msg.SetMetadata(MetadataCorrelationID, correlationID)
	return msg
}

// CorrelationOf 从任意消息中提取关联标识
func CorrelationOf(message IMessage) string {
	if m, ok := message.(*Message); ok {
		return m.CorrelationID()
	}
	meta := message.GetMetadata()
	if meta == nil {
		return ""
	}
	id, _ := meta[MetadataCorrelationID].(string)
	return id
}
