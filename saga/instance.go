// Package saga 实现订单处理 Saga：一次跨预订、支付两个协作服务的长时业务事务。
//
// 状态图固定且有限（参见 transitions 表）：
//
//	Submitted ──VehicleReserved──────────► PaymentPending ──PaymentCompleted──► Completed
//	    │                                        │
//	    │ VehicleReservationFailed               │ PaymentFailed
//	    ▼                                        ▼
//	Cancelled ◄──────VehicleReleased────────  Faulted
//
// 设计原则：
//   - 先预订后扣款；仅在扣款失败后释放预订（补偿），保证系统不会出现
//     "有支付无预订"或"预订悬挂无结论"的状态
//   - 每个 correlationId 至多一个实例，状态单调推进
//   - 并发安全按 correlationId 分区，由状态存储的乐观版本检查保证
package saga

import (
	"encoding/json"
	"time"
)

// OrderState 订单 Saga 状态枚举
type OrderState string

const (
	// StateSubmitted 已提交，等待车辆预订结果
	StateSubmitted OrderState = "submitted"

	// StateVehicleReserved 车辆已预订（瞬态：同一事务内随即发起扣款并进入 PaymentPending）
	StateVehicleReserved OrderState = "vehicle_reserved"

	// StatePaymentPending 扣款进行中，等待支付结果
	StatePaymentPending OrderState = "payment_pending"

	// StateCompleted 成功终态
	StateCompleted OrderState = "completed"

	// StateCancelled 失败终态（直接取消或补偿完成后取消）
	StateCancelled OrderState = "cancelled"

	// StateFaulted 补偿中：扣款失败后等待车辆释放确认，非终态
	StateFaulted OrderState = "faulted"
)

// IsTerminal 是否为终态（终态后实例不可变）
func (s OrderState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Instance 订单 Saga 实例
//
// 以 correlationId 为主键；version 随每次持久化变更单调递增，
// 用于乐观并发冲突检测。
type Instance struct {
	// CorrelationID 关联标识（稳定、不可变、主键）
	CorrelationID string `json:"correlation_id"`

	// CurrentState 当前状态
	CurrentState OrderState `json:"current_state"`

	// Version 乐观并发版本号，每次持久化变更递增
	Version uint64 `json:"version"`

	// 业务数据
	CustomerID    string  `json:"customer_id"`
	VehicleID     string  `json:"vehicle_id"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`

	// 执行过程中获得的派生引用
	OrderID           string     `json:"order_id,omitempty"`
	PaymentID         string     `json:"payment_id,omitempty"`
	TransactionID     string     `json:"transaction_id,omitempty"`
	ReservationExpiry *time.Time `json:"reservation_expiry,omitempty"`

	// 失败信息（进入失败分支时记录）
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewInstance 创建新的 Saga 实例（初始状态 Submitted，版本 0，尚未持久化）
func NewInstance(correlationID, customerID, vehicleID string, amount float64, paymentMethod string) *Instance {
	return &Instance{
		CorrelationID: correlationID,
		CurrentState:  StateSubmitted,
		Version:       0,
		CustomerID:    customerID,
		VehicleID:     vehicleID,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		CreatedAt:     time.Now().UTC(),
	}
}

// MarkPaymentPending 记录预订结果并进入扣款等待
func (i *Instance) MarkPaymentPending(reservedUntil time.Time) {
	expiry := reservedUntil
	i.ReservationExpiry = &expiry
	i.CurrentState = StatePaymentPending
}

// MarkCompleted 记录支付引用并进入成功终态
func (i *Instance) MarkCompleted(paymentID, transactionID string) {
	i.PaymentID = paymentID
	i.TransactionID = transactionID
	i.CurrentState = StateCompleted
	now := time.Now().UTC()
	i.CompletedAt = &now
}

// MarkFaulted 记录失败信息并进入补偿中状态
func (i *Instance) MarkFaulted(errorCode, errorMessage string) {
	i.ErrorCode = errorCode
	i.ErrorMessage = errorMessage
	i.CurrentState = StateFaulted
}

// MarkCancelled 进入失败终态
//
// errorCode/errorMessage 仅在直接取消路径（未经过 Faulted）时传入；
// 补偿路径沿用 MarkFaulted 已记录的失败信息。
func (i *Instance) MarkCancelled(errorCode, errorMessage string) {
	if errorCode != "" {
		i.ErrorCode = errorCode
		i.ErrorMessage = errorMessage
	}
	i.CurrentState = StateCancelled
	now := time.Now().UTC()
	i.CompletedAt = &now
}

// IsTerminal 是否已到达终态
func (i *Instance) IsTerminal() bool {
	return i.CurrentState.IsTerminal()
}

// Clone 克隆实例
func (i *Instance) Clone() *Instance {
	clone := *i
	if i.ReservationExpiry != nil {
		expiry := *i.ReservationExpiry
		clone.ReservationExpiry = &expiry
	}
	if i.CompletedAt != nil {
		completed := *i.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

// ToJSON 转换为 JSON
func (i *Instance) ToJSON() ([]byte, error) {
	return json.Marshal(i)
}

// FromJSON 从 JSON 加载
func (i *Instance) FromJSON(data []byte) error {
	return json.Unmarshal(data, i)
}
