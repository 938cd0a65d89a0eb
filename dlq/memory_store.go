package dlq

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 基于内存的死信存储
//
// 适用于单进程部署与测试；多实例部署应使用 SQLStore 以在进程
// 重启后保持"绝不静默丢弃"的保证。
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*FailedEvent
}

// NewMemoryStore 创建内存死信存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*FailedEvent)}
}

// Enqueue 入队（按 EventID 幂等）
func (s *MemoryStore) Enqueue(ctx context.Context, event *FailedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.EventID]; exists {
		return nil
	}
	s.events[event.EventID] = event.Clone()
	return nil
}

// Eligible 列出当前可自动重试的条目
func (s *MemoryStore) Eligible(ctx context.Context, now time.Time, maxRetries, limit int) ([]*FailedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*FailedEvent, 0)
	for _, event := range s.events {
		if event.IsEligible(now, maxRetries) {
			result = append(result, event.Clone())
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// MarkAsFailed 记录一次失败的重试
func (s *MemoryStore) MarkAsFailed(ctx context.Context, eventID, lastError string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, exists := s.events[eventID]
	if !exists {
		return ErrEventNotFound
	}
	event.RetryCount++
	event.LastError = lastError
	event.NextRetryAt = nextRetryAt
	return nil
}

// Remove 移除条目
func (s *MemoryStore) Remove(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[eventID]; !exists {
		return ErrEventNotFound
	}
	delete(s.events, eventID)
	return nil
}

// Exhausted 列出已耗尽重试次数的条目
func (s *MemoryStore) Exhausted(ctx context.Context, maxRetries int) ([]*FailedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*FailedEvent, 0)
	for _, event := range s.events {
		if event.IsExhausted(maxRetries) {
			result = append(result, event.Clone())
		}
	}
	return result, nil
}

// Size 当前条目总数
func (s *MemoryStore) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// Close 关闭存储（内存实现为空操作）
func (s *MemoryStore) Close() error { return nil }

var _ IStore = (*MemoryStore)(nil)
