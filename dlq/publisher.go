package dlq

import (
	"context"

	"marketsaga/logging"
	"marketsaga/messaging"
)

// ReliablePublisher 带死信兜底的发布器
//
// 传输层发布失败时将消息转入死信存储并向调用方返回 nil：
// 对调用方而言消息"已被接受"，后续投递由重试调度器保证。
// 只有死信入队本身失败才返回错误，此时消息既未发布也未入队，
// 调用方必须让来源事件重投。
type ReliablePublisher struct {
	transport Publisher
	store     IStore
	cfg       Config
	logger    logging.Logger
}

// NewReliablePublisher 创建带死信兜底的发布器
func NewReliablePublisher(transport Publisher, store IStore, cfg Config, logger logging.Logger) *ReliablePublisher {
	if logger == nil {
		logger = logging.ComponentLogger("dlq.publisher")
	}
	return &ReliablePublisher{
		transport: transport,
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Publish 发布消息，失败时转入死信队列
func (p *ReliablePublisher) Publish(ctx context.Context, message messaging.IMessage) error {
	err := p.transport.Publish(ctx, message)
	if err == nil {
		return nil
	}

	event, serErr := NewFailedEvent(message, err, p.cfg.RetryInterval)
	if serErr != nil {
		p.logger.Error(ctx, "serialize failed message for dlq",
			logging.String("message_id", message.GetID()),
			logging.String("message_type", message.GetType()),
			logging.Error(serErr))
		return serErr
	}
	if enqErr := p.store.Enqueue(ctx, event); enqErr != nil {
		p.logger.Error(ctx, "dlq enqueue failed, message neither published nor queued",
			logging.String("message_id", message.GetID()),
			logging.String("message_type", message.GetType()),
			logging.Error(enqErr))
		return enqErr
	}

	p.logger.Warn(ctx, "publish failed, message moved to dlq",
		logging.String("message_id", message.GetID()),
		logging.String("message_type", message.GetType()),
		logging.Time("next_retry_at", event.NextRetryAt),
		logging.Error(err))
	return nil
}
