package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketsaga/logging"
	"marketsaga/messaging"
)

// Publisher 出站消息发布接口
//
// 编排器通过它发送命令与领域事件；生产部署通常注入
// dlq.ReliablePublisher，使发布失败进入死信重试而非
// 阻塞状态机推进。
type Publisher interface {
	Publish(ctx context.Context, message messaging.IMessage) error
}

// Config 编排器配置
type Config struct {
	// StoreTimeout 单次存储操作超时，默认 5s
	StoreTimeout time.Duration

	// PublishTimeout 单次发布操作超时，默认 5s
	PublishTimeout time.Duration

	Logger logging.Logger
}

// transitionKey 状态转换表键：(当前状态, 事件类型)
type transitionKey struct {
	state     OrderState
	eventType string
}

// applyFunc 状态转换函数：变更实例并返回待发布的出站消息
type applyFunc func(instance *Instance, message messaging.IMessage) ([]messaging.IMessage, error)

// Orchestrator 订单 Saga 编排器
//
// 每个入站关联事件触发一次调用，可能来自多个消费者并发执行。
// 不持有全局锁：并发安全按 correlationId 分区，由状态存储的
// 乐观版本检查保证。重投的事件若其转换已持久化，则重放对应的
// 出站副作用（确定性消息 ID 保证重复收敛）；其余转换表之外的
// (状态, 事件) 组合视为过期投递，确认后静默丢弃。
type Orchestrator struct {
	store     IStateStore
	publisher Publisher
	cfg       Config
	logger    logging.Logger

	// transitions 待应用的转换；replays 标识"该事件已应用完毕"的
	// (结果状态, 事件) 组合，重投时据此重放副作用而非丢弃
	transitions map[transitionKey]applyFunc
	replays     map[transitionKey]applyFunc
}

// NewOrchestrator 创建订单 Saga 编排器
func NewOrchestrator(store IStateStore, publisher Publisher, cfg Config) *Orchestrator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("saga.orchestrator")
	}

	o := &Orchestrator{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
	o.transitions = map[transitionKey]applyFunc{
		{StateSubmitted, EventVehicleReserved}:          o.applyVehicleReserved,
		{StateSubmitted, EventVehicleReservationFailed}: o.applyVehicleReservationFailed,
		{StatePaymentPending, EventPaymentCompleted}:    o.applyPaymentCompleted,
		{StatePaymentPending, EventPaymentFailed}:       o.applyPaymentFailed,
		{StateFaulted, EventVehicleReleased}:            o.applyVehicleReleased,
	}
	o.replays = map[transitionKey]applyFunc{
		{StatePaymentPending, EventVehicleReserved}:     o.applyVehicleReserved,
		{StateCancelled, EventVehicleReservationFailed}: o.applyVehicleReservationFailed,
		{StateCompleted, EventPaymentCompleted}:         o.applyPaymentCompleted,
		{StateFaulted, EventPaymentFailed}:              o.applyPaymentFailed,
		{StateCancelled, EventVehicleReleased}:          o.applyVehicleReleased,
	}
	return o
}

// Type 实现 messaging.IMessageHandler
func (o *Orchestrator) Type() string { return "saga.order.orchestrator" }

// Subscriptions 返回编排器消费的入站事件类型
func (o *Orchestrator) Subscriptions() []string {
	return []string{
		EventSubmitOrder,
		EventVehicleReserved,
		EventVehicleReservationFailed,
		EventPaymentCompleted,
		EventPaymentFailed,
		EventVehicleReleased,
	}
}

// Register 将编排器注册到传输层的所有入站事件类型
func (o *Orchestrator) Register(transport messaging.Transport) error {
	for _, eventType := range o.Subscriptions() {
		if err := transport.Subscribe(eventType, o); err != nil {
			return err
		}
	}
	return nil
}

// Handle 处理一个入站关联事件
//
// 返回非 nil 错误表示事件未被持久化应用，传输层不得确认，
// 由消息代理稍后重投；返回 nil 表示事件已应用或可安全丢弃。
func (o *Orchestrator) Handle(ctx context.Context, message messaging.IMessage) error {
	if message.GetType() == EventSubmitOrder {
		return o.handleSubmitOrder(ctx, message)
	}
	return o.handleCorrelatedEvent(ctx, message)
}

// handleSubmitOrder 处理订单提交：创建实例并启动 Saga
func (o *Orchestrator) handleSubmitOrder(ctx context.Context, message messaging.IMessage) error {
	var payload SubmitOrderPayload
	if err := decodePayload(message.GetPayload(), &payload); err != nil {
		o.logger.Warn(ctx, "discard undecodable submit order event",
			logging.String("message_id", message.GetID()), logging.Error(err))
		return nil
	}
	if payload.CorrelationID == "" {
		o.logger.Warn(ctx, "discard submit order event without correlation id",
			logging.String("message_id", message.GetID()))
		return nil
	}

	// 重复提交检查：同一 correlationId 至多一个实例
	loadCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	existing, err := o.store.Load(loadCtx, payload.CorrelationID)
	cancel()
	if err == nil && existing != nil {
		o.logger.Info(ctx, "duplicate submit order, saga already exists",
			logging.String("correlation_id", payload.CorrelationID),
			logging.String("state", string(existing.CurrentState)))
		if existing.CurrentState == StateSubmitted {
			// 实例已落库但可能尚无任何出站消息（上次发布与死信入队
			// 同时失败）：重放启动副作用，确定性 ID 保证重复收敛
			return o.publishAll(ctx, o.submitSideEffects(existing))
		}
		return nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	instance := NewInstance(payload.CorrelationID, payload.CustomerID,
		payload.VehicleID, payload.Amount, payload.PaymentMethod)
	instance.OrderID = "order-" + uuid.NewString()

	saveCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	err = o.store.Save(saveCtx, instance, 0)
	cancel()
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// 并发创建竞争：另一个消费者已创建同一实例
			o.logger.Info(ctx, "concurrent submit order lost creation race",
				logging.String("correlation_id", payload.CorrelationID))
			return nil
		}
		return err
	}

	o.logger.Info(ctx, "saga started",
		logging.String("correlation_id", instance.CorrelationID),
		logging.String("order_id", instance.OrderID))

	return o.publishAll(ctx, o.submitSideEffects(instance))
}

// submitSideEffects 订单受理的出站副作用（首次发布与重放共用）
func (o *Orchestrator) submitSideEffects(instance *Instance) []messaging.IMessage {
	return []messaging.IMessage{
		outboundEnvelope(EventOrderAccepted, instance.CorrelationID, OrderAcceptedPayload{
			CorrelationID: instance.CorrelationID,
			OrderID:       instance.OrderID,
			Timestamp:     time.Now().UTC(),
		}),
		outboundEnvelope(CommandReserveVehicle, instance.CorrelationID, ReserveVehiclePayload{
			CorrelationID: instance.CorrelationID,
			OrderID:       instance.OrderID,
			VehicleID:     instance.VehicleID,
		}),
	}
}

// handleCorrelatedEvent 按转换表处理关联事件，版本冲突时重载一次并重评
func (o *Orchestrator) handleCorrelatedEvent(ctx context.Context, message messaging.IMessage) error {
	correlationID := messaging.CorrelationOf(message)
	if correlationID == "" {
		correlationID = correlationFromPayload(message)
	}
	if correlationID == "" {
		o.logger.Warn(ctx, "discard event without correlation id",
			logging.String("message_type", message.GetType()),
			logging.String("message_id", message.GetID()))
		return nil
	}

	conflicted := false
	for {
		loadCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
		instance, err := o.store.Load(loadCtx, correlationID)
		cancel()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// 未知 Saga：事件无处可去，确认丢弃而非无限重投
				o.logger.Warn(ctx, "discard event for unknown saga",
					logging.String("correlation_id", correlationID),
					logging.String("message_type", message.GetType()))
				return nil
			}
			return err
		}

		key := transitionKey{instance.CurrentState, message.GetType()}
		apply, ok := o.transitions[key]
		if !ok {
			if replay, applied := o.replays[key]; applied {
				// 该事件的转换已持久化但来源被重投：副作用可能在上一次
				// 处理中丢失（发布与死信入队同时失败），重新推导并重发。
				// 出站消息 ID 确定性派生，重复发布由去重键收敛。
				return o.replaySideEffects(ctx, instance, message, replay)
			}
			// 重复或过期投递：当前状态不接受该事件，确认后静默丢弃
			o.logger.Debug(ctx, "discard stale event",
				logging.String("correlation_id", correlationID),
				logging.String("state", string(instance.CurrentState)),
				logging.String("message_type", message.GetType()))
			return nil
		}

		expectedVersion := instance.Version
		outbound, err := apply(instance, message)
		if err != nil {
			o.logger.Warn(ctx, "discard undecodable event",
				logging.String("correlation_id", correlationID),
				logging.String("message_type", message.GetType()),
				logging.Error(err))
			return nil
		}

		saveCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
		err = o.store.Save(saveCtx, instance, expectedVersion)
		cancel()
		if err != nil {
			if errors.Is(err, ErrVersionConflict) && !conflicted {
				// 另一个写入者刚处理了同一 Saga 的并发事件：
				// 重新加载并重评事件是否仍然适用
				conflicted = true
				continue
			}
			return err
		}

		o.logger.Info(ctx, "saga transitioned",
			logging.String("correlation_id", correlationID),
			logging.String("event", message.GetType()),
			logging.String("state", string(instance.CurrentState)),
			logging.Uint64("version", instance.Version))

		return o.publishAll(ctx, outbound)
	}
}

// replaySideEffects 对已持久化的转换重放出站副作用（不再写存储）
func (o *Orchestrator) replaySideEffects(ctx context.Context, instance *Instance, message messaging.IMessage, replay applyFunc) error {
	outbound, err := replay(instance.Clone(), message)
	if err != nil {
		o.logger.Warn(ctx, "discard undecodable event on replay",
			logging.String("correlation_id", instance.CorrelationID),
			logging.String("message_type", message.GetType()),
			logging.Error(err))
		return nil
	}
	o.logger.Info(ctx, "replaying side effects for applied event",
		logging.String("correlation_id", instance.CorrelationID),
		logging.String("event", message.GetType()),
		logging.String("state", string(instance.CurrentState)))
	return o.publishAll(ctx, outbound)
}

// applyVehicleReserved Submitted → PaymentPending：记录预订并发起扣款
func (o *Orchestrator) applyVehicleReserved(instance *Instance, message messaging.IMessage) ([]messaging.IMessage, error) {
	var payload VehicleReservedPayload
	if err := decodePayload(message.GetPayload(), &payload); err != nil {
		return nil, err
	}
	instance.MarkPaymentPending(payload.ReservedUntil)
	return []messaging.IMessage{
		outboundEnvelope(CommandProcessPayment, instance.CorrelationID, ProcessPaymentPayload{
			CorrelationID: instance.CorrelationID,
			OrderID:       instance.OrderID,
			Amount:        instance.Amount,
			PaymentMethod: instance.PaymentMethod,
		}),
	}, nil
}

// applyVehicleReservationFailed Submitted → Cancelled：无补偿的直接取消
func (o *Orchestrator) applyVehicleReservationFailed(instance *Instance, message messaging.IMessage) ([]messaging.IMessage, error) {
	var payload VehicleReservationFailedPayload
	if err := decodePayload(message.GetPayload(), &payload); err != nil {
		return nil, err
	}
	instance.MarkCancelled(payload.ErrorCode, payload.ErrorMessage)
	return []messaging.IMessage{
		outboundEnvelope(EventOrderCancelled, instance.CorrelationID, OrderCancelledPayload{
			CorrelationID: instance.CorrelationID,
			OrderID:       instance.OrderID,
			Reason:        fmt.Sprintf("reservation failed: %s", payload.ErrorCode),
			Timestamp:     time.Now().UTC(),
		}),
	}, nil
}

// applyPaymentCompleted PaymentPending → Completed：成功终态
func (o *Orchestrator) applyPaymentCompleted(instance *Instance, message messaging.IMessage) ([]messaging.IMessage, error) {
	var payload PaymentCompletedPayload
	if err := decodePayload(message.GetPayload(), &payload); err != nil {
		return nil, err
	}
	instance.MarkCompleted(payload.PaymentID, payload.TransactionID)
	return []messaging.IMessage{
		outboundEnvelope(EventOrderCompleted, instance.CorrelationID, OrderCompletedPayload{
			CorrelationID: instance.CorrelationID,
			OrderID:       instance.OrderID,
			VehicleID:     instance.VehicleID,
			PaymentID:     instance.PaymentID,
			Timestamp:     time.Now().UTC(),
		}),
	}, nil
}

// applyPaymentFailed PaymentPending → Faulted：发起释放车辆补偿
//
// 预订已成功而扣款失败，必须先撤销预订再取消订单；
// 跳过补偿会留下悬挂的车辆预订。
func (o *Orchestrator) applyPaymentFailed(instance *Instance, message messaging.IMessage) ([]messaging.IMessage, error) {
	var payload PaymentFailedPayload
	if err := decodePayload(message.GetPayload(), &payload); err != nil {
		return nil, err
	}
	instance.MarkFaulted(payload.ErrorCode, payload.ErrorMessage)
	return []messaging.IMessage{
		outboundEnvelope(CommandReleaseVehicle, instance.CorrelationID, ReleaseVehiclePayload{
			CorrelationID: instance.CorrelationID,
			VehicleID:     instance.VehicleID,
			Reason:        fmt.Sprintf("payment failed: %s", payload.ErrorCode),
		}),
	}, nil
}

// applyVehicleReleased Faulted → Cancelled：补偿完成后的失败终态
func (o *Orchestrator) applyVehicleReleased(instance *Instance, message messaging.IMessage) ([]messaging.IMessage, error) {
	reason := "payment failed"
	if instance.ErrorCode != "" {
		reason = fmt.Sprintf("payment failed: %s", instance.ErrorCode)
	}
	instance.MarkCancelled("", "")
	return []messaging.IMessage{
		outboundEnvelope(EventOrderCancelled, instance.CorrelationID, OrderCancelledPayload{
			CorrelationID: instance.CorrelationID,
			OrderID:       instance.OrderID,
			Reason:        reason,
			Timestamp:     time.Now().UTC(),
		}),
	}, nil
}

// publishAll 逐条发布出站消息
//
// 注入 ReliablePublisher 时发布失败被转入死信队列并返回 nil，
// 状态机推进不被出站链路阻塞。
func (o *Orchestrator) publishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		pubCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
		err := o.publisher.Publish(pubCtx, message)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// outboundEnvelope 构造出站消息
//
// 消息 ID 由 (correlationId, 消息类型) 确定性派生：同一转换的副作用
// 无论发布或重放多少次都携带同一 ID，代理端按 ID 去重后恰好生效一次。
func outboundEnvelope(messageType, correlationID string, data interface{}) *messaging.Message {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(correlationID+"/"+messageType)).String()
	message := messaging.NewMessage(id, messageType, data)
	message.SetMetadata(messaging.MetadataCorrelationID, correlationID)
	return message
}

// correlationFromPayload 从载荷中回退提取 correlationId（元数据缺失时）
func correlationFromPayload(message messaging.IMessage) string {
	var probe struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := decodePayload(message.GetPayload(), &probe); err != nil {
		return ""
	}
	return probe.CorrelationID
}

var _ messaging.IMessageHandler = (*Orchestrator)(nil)
