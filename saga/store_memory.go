package saga

import (
	"context"
	"sync"
)

// MemoryStateStore 基于内存的 Saga 状态存储
//
// 适用于单进程部署与测试。版本检查在持有写锁的临界区内完成，
// 保证同一实例的并发写入恰好一个成功。
type MemoryStateStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewMemoryStateStore 创建内存状态存储
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		instances: make(map[string]*Instance),
	}
}

// Load 加载实例
func (s *MemoryStateStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, exists := s.instances[correlationID]
	if !exists {
		return nil, NewNotFoundError(correlationID)
	}
	return instance.Clone(), nil
}

// Save 带版本检查地持久化实例
func (s *MemoryStateStore) Save(ctx context.Context, instance *Instance, expectedVersion uint64) error {
	if instance == nil || instance.CorrelationID == "" {
		return ErrInvalidInstance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.instances[instance.CorrelationID]
	if expectedVersion == 0 {
		if exists {
			return NewVersionConflictError(instance.CorrelationID, 0, current.Version)
		}
	} else {
		if !exists {
			return NewNotFoundError(instance.CorrelationID)
		}
		if current.Version != expectedVersion {
			return NewVersionConflictError(instance.CorrelationID, expectedVersion, current.Version)
		}
	}

	instance.Version = expectedVersion + 1
	s.instances[instance.CorrelationID] = instance.Clone()
	return nil
}

// ListByState 列出处于给定状态的所有实例
func (s *MemoryStateStore) ListByState(ctx context.Context, state OrderState) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Instance, 0)
	for _, instance := range s.instances {
		if instance.CurrentState == state {
			result = append(result, instance.Clone())
		}
	}
	return result, nil
}

// Count 返回实例总数
func (s *MemoryStateStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Clear 清空存储
func (s *MemoryStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = make(map[string]*Instance)
}

// Close 关闭存储（内存实现为空操作）
func (s *MemoryStateStore) Close() error { return nil }

var _ IStateStore = (*MemoryStateStore)(nil)
