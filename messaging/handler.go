package messaging

import (
	"context"
)

// IMessageHandler 消息处理器接口
//
// Handle 返回非 nil 错误表示消息未被成功处理：
// 支持手动确认的 Transport 不应确认该消息，交由 broker 稍后重投。
type IMessageHandler interface {
	// Handle 处理消息
	Handle(ctx context.Context, message IMessage) error

	// Type 返回处理器类型（用于日志和调试）
	Type() string
}

// MessageHandlerFunc 函数式处理器适配
type MessageHandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, message IMessage) error
}

// Handle 处理消息
func (h *MessageHandlerFunc) Handle(ctx context.Context, message IMessage) error {
	return h.Fn(ctx, message)
}

// Type 返回处理器类型
func (h *MessageHandlerFunc) Type() string {
	if h.Name != "" {
		return h.Name
	}
	return "func"
}

// HandlerFunc 创建函数式处理器
func HandlerFunc(name string, fn func(ctx context.Context, message IMessage) error) IMessageHandler {
	return &MessageHandlerFunc{Name: name, Fn: fn}
}
