package saga

import "fmt"

// ErrorCode Saga 错误码
type ErrorCode string

// 预定义错误码常量（不可变）
const (
	ErrCodeNotFound          ErrorCode = "SAGA_NOT_FOUND"
	ErrCodeVersionConflict   ErrorCode = "SAGA_VERSION_CONFLICT"
	ErrCodeInvalidInstance   ErrorCode = "SAGA_INVALID_INSTANCE"
	ErrCodeStoreFailed       ErrorCode = "SAGA_STORE_FAILED"
	ErrCodeInvalidTransition ErrorCode = "SAGA_INVALID_TRANSITION"
)

// SagaError Saga 错误
type SagaError struct {
	Code          ErrorCode
	Message       string
	CorrelationID string
	Cause         error
}

func (e *SagaError) Error() string {
	base := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.CorrelationID != "" {
		base = fmt.Sprintf("%s: %s (correlation=%s)", e.Code, e.Message, e.CorrelationID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *SagaError) Unwrap() error { return e.Cause }

// Is 实现 errors.Is 接口，基于错误码匹配
func (e *SagaError) Is(target error) bool {
	t, ok := target.(*SagaError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 哨兵错误（仅用于 errors.Is 比较，不应直接返回）
var (
	// ErrNotFound 实例不存在
	ErrNotFound = &SagaError{Code: ErrCodeNotFound, Message: "saga instance not found"}

	// ErrVersionConflict 乐观并发冲突：另一个写入者已处理同一 Saga 的并发事件，
	// 调用方必须重新加载实例并重新评估事件是否仍然适用
	ErrVersionConflict = &SagaError{Code: ErrCodeVersionConflict, Message: "saga version conflict"}

	// ErrInvalidInstance 实例数据无效
	ErrInvalidInstance = &SagaError{Code: ErrCodeInvalidInstance, Message: "invalid saga instance"}
)

// NewNotFoundError 创建实例不存在错误
func NewNotFoundError(correlationID string) *SagaError {
	return &SagaError{
		Code:          ErrCodeNotFound,
		Message:       "saga instance not found",
		CorrelationID: correlationID,
	}
}

// NewVersionConflictError 创建乐观并发冲突错误
func NewVersionConflictError(correlationID string, expected, current uint64) *SagaError {
	return &SagaError{
		Code:          ErrCodeVersionConflict,
		Message:       fmt.Sprintf("version conflict: expected %d, current %d", expected, current),
		CorrelationID: correlationID,
	}
}

// NewStoreFailedError 创建存储失败错误
func NewStoreFailedError(correlationID string, cause error) *SagaError {
	return &SagaError{
		Code:          ErrCodeStoreFailed,
		Message:       "saga store operation failed",
		CorrelationID: correlationID,
		Cause:         cause,
	}
}
