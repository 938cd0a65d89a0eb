// Package dlq 实现出站消息的死信队列与重试调度。
//
// 传输层发布失败的消息以稳定事件 ID 为键入队，由独立的重试
// 调度器按指数退避重新发布。超过最大重试次数的条目永久保留，
// 供运维排查与手工重驱，绝不静默丢弃。
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"marketsaga/messaging"
)

// ErrEventNotFound 死信条目不存在
var ErrEventNotFound = errors.New("dlq: event not found")

// Config 死信队列配置
type Config struct {
	// MaxRetries 自动重试次数上限，默认 5
	//
	// 该上限用于阻止永久损坏的载荷（如接收方已无法解析的
	// 旧版本结构）无限占用重试容量。
	MaxRetries int

	// RetryInterval 退避基数，默认 30s
	RetryInterval time.Duration

	// ScanInterval 调度器扫描间隔，默认 5s
	ScanInterval time.Duration

	// BatchSize 单次扫描处理的条目上限，默认 100
	BatchSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryInterval: 30 * time.Second,
		ScanInterval:  5 * time.Second,
		BatchSize:     100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// FailedEvent 死信条目
//
// Payload 保存完整序列化的消息信封，重发时按原字节还原，
// 保证重发消息与首次发布完全一致（含事件 ID，供代理端去重）。
type FailedEvent struct {
	// EventID 稳定事件 ID（主键，与消息信封 ID 一致）
	EventID string `json:"event_id"`

	// EventType 消息类型
	EventType string `json:"event_type"`

	// Payload 序列化的消息信封
	Payload []byte `json:"payload"`

	// RetryCount 已重试次数，从 0 开始
	RetryCount int `json:"retry_count"`

	// NextRetryAt 下次可重试时间
	NextRetryAt time.Time `json:"next_retry_at"`

	// LastError 最近一次失败原因
	LastError string `json:"last_error"`

	// EnqueuedAt 入队时间
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewFailedEvent 从发布失败的消息创建死信条目
func NewFailedEvent(message messaging.IMessage, cause error, baseInterval time.Duration) (*FailedEvent, error) {
	payload, err := serializeEnvelope(message)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	event := &FailedEvent{
		EventID:    message.GetID(),
		EventType:  message.GetType(),
		Payload:    payload,
		RetryCount: 0,
		LastError:  cause.Error(),
		EnqueuedAt: now,
	}
	event.NextRetryAt = event.CalculateNextRetryTime(baseInterval)
	return event, nil
}

// CalculateNextRetryTime 计算下次重试时间（指数退避）
func (e *FailedEvent) CalculateNextRetryTime(baseInterval time.Duration) time.Time {
	// 指数退避：baseInterval * 2^retryCount，避免移位溢出
	retryCount := e.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	// 上限 5 次指数放大（2^5 = 32），避免 1<<retryCount 溢出
	if retryCount > 5 {
		retryCount = 5
	}
	backoffMultiplier := 1 << retryCount
	return time.Now().UTC().Add(baseInterval * time.Duration(backoffMultiplier))
}

// NextRetryAfterFailure 计算又一次重试失败后的下次重试时间
//
// 退避按失败后的重试次数（retryCount+1）计算，与存储中
// MarkAsFailed 递增后的计数保持一致。
func (e *FailedEvent) NextRetryAfterFailure(baseInterval time.Duration) time.Time {
	failed := *e
	failed.RetryCount++
	return failed.CalculateNextRetryTime(baseInterval)
}

// IsEligible 是否可自动重试
func (e *FailedEvent) IsEligible(now time.Time, maxRetries int) bool {
	return e.RetryCount < maxRetries && !e.NextRetryAt.After(now)
}

// IsExhausted 是否已耗尽自动重试次数
func (e *FailedEvent) IsExhausted(maxRetries int) bool {
	return e.RetryCount >= maxRetries
}

// ToMessage 还原消息信封
func (e *FailedEvent) ToMessage() (messaging.IMessage, error) {
	message := &messaging.Message{}
	if err := json.Unmarshal(e.Payload, message); err != nil {
		return nil, err
	}
	return message, nil
}

// Clone 克隆条目
func (e *FailedEvent) Clone() *FailedEvent {
	clone := *e
	clone.Payload = append([]byte(nil), e.Payload...)
	return &clone
}

// IStore 死信存储接口
type IStore interface {
	// Enqueue 入队（按 EventID 幂等：已存在时不覆盖、不重置重试计数）
	Enqueue(ctx context.Context, event *FailedEvent) error

	// Eligible 列出当前可自动重试的条目（retryCount < maxRetries 且 nextRetryAt 已到）
	Eligible(ctx context.Context, now time.Time, maxRetries, limit int) ([]*FailedEvent, error)

	// MarkAsFailed 记录一次失败的重试：递增 retryCount 并更新 lastError/nextRetryAt
	MarkAsFailed(ctx context.Context, eventID, lastError string, nextRetryAt time.Time) error

	// Remove 重发成功后移除条目
	Remove(ctx context.Context, eventID string) error

	// Exhausted 列出已耗尽重试次数、等待人工处理的条目
	Exhausted(ctx context.Context, maxRetries int) ([]*FailedEvent, error)

	// Size 当前条目总数
	Size(ctx context.Context) (int, error)

	// Close 释放底层资源
	Close() error
}

func serializeEnvelope(message messaging.IMessage) ([]byte, error) {
	metadata := message.GetMetadata()
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return json.Marshal(&messaging.Message{
		ID:        message.GetID(),
		Type:      message.GetType(),
		Timestamp: message.GetTimestamp(),
		Payload:   message.GetPayload(),
		Metadata:  metadata,
	})
}
