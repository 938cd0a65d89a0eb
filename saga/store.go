package saga

import "context"

// IStateStore Saga 状态存储接口
//
// 所有实现必须支持乐观并发控制：Save 仅在存储中的当前版本
// 等于 expectedVersion 时写入成功，并将实例版本推进为
// expectedVersion+1；否则返回版本冲突错误，调用方需重新
// 加载并重新评估事件是否仍然适用。
type IStateStore interface {
	// Load 按关联标识加载实例；不存在时返回 ErrNotFound
	Load(ctx context.Context, correlationID string) (*Instance, error)

	// Save 带版本检查地持久化实例
	//
	// expectedVersion 为 0 表示创建：仅当实例尚不存在时成功。
	// 成功后 instance.Version 被设置为 expectedVersion+1。
	// 版本不匹配时返回 ErrVersionConflict。
	Save(ctx context.Context, instance *Instance, expectedVersion uint64) error

	// ListByState 列出处于给定状态的所有实例（运维用途，如排查滞留的 Faulted 实例）
	ListByState(ctx context.Context, state OrderState) ([]*Instance, error)

	// Close 释放底层资源
	Close() error
}
