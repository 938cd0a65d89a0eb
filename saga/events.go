package saga

import (
	"encoding/json"
	"time"
)

// 入站关联事件类型（由编排器消费）
const (
	EventSubmitOrder              = "order.submit"
	EventVehicleReserved          = "vehicle.reserved"
	EventVehicleReservationFailed = "vehicle.reservation_failed"
	EventPaymentCompleted         = "payment.completed"
	EventPaymentFailed            = "payment.failed"
	EventVehicleReleased          = "vehicle.released"
)

// 出站命令类型（发往协作服务）
const (
	CommandReserveVehicle = "vehicle.reserve"
	CommandProcessPayment = "payment.process"
	CommandReleaseVehicle = "vehicle.release"
)

// 出站领域事件类型（发布给其他消费者，受 DLQ 重试保护）
const (
	EventOrderAccepted  = "order.accepted"
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
)

// SubmitOrderPayload 提交订单事件载荷
type SubmitOrderPayload struct {
	CorrelationID string  `json:"correlationId"`
	CustomerID    string  `json:"customerId"`
	VehicleID     string  `json:"vehicleId"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"paymentMethod"`
}

// VehicleReservedPayload 车辆预订成功事件载荷
type VehicleReservedPayload struct {
	CorrelationID string    `json:"correlationId"`
	ReservedUntil time.Time `json:"reservedUntil"`
}

// VehicleReservationFailedPayload 车辆预订失败事件载荷
type VehicleReservationFailedPayload struct {
	CorrelationID string `json:"correlationId"`
	ErrorCode     string `json:"errorCode"`
	ErrorMessage  string `json:"errorMessage"`
}

// PaymentCompletedPayload 支付完成事件载荷
type PaymentCompletedPayload struct {
	CorrelationID string `json:"correlationId"`
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
}

// PaymentFailedPayload 支付失败事件载荷
type PaymentFailedPayload struct {
	CorrelationID string `json:"correlationId"`
	ErrorCode     string `json:"errorCode"`
	ErrorMessage  string `json:"errorMessage"`
}

// VehicleReleasedPayload 车辆释放确认事件载荷
type VehicleReleasedPayload struct {
	CorrelationID string `json:"correlationId"`
}

// ReserveVehiclePayload 预订车辆命令载荷
type ReserveVehiclePayload struct {
	CorrelationID string `json:"correlationId"`
	OrderID       string `json:"orderId"`
	VehicleID     string `json:"vehicleId"`
}

// ProcessPaymentPayload 处理支付命令载荷
type ProcessPaymentPayload struct {
	CorrelationID string  `json:"correlationId"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"paymentMethod"`
}

// ReleaseVehiclePayload 释放车辆补偿命令载荷
type ReleaseVehiclePayload struct {
	CorrelationID string `json:"correlationId"`
	VehicleID     string `json:"vehicleId"`
	Reason        string `json:"reason"`
}

// OrderAcceptedPayload 订单已受理领域事件载荷
type OrderAcceptedPayload struct {
	CorrelationID string    `json:"correlationId"`
	OrderID       string    `json:"orderId"`
	Timestamp     time.Time `json:"timestamp"`
}

// OrderCompletedPayload 订单完成领域事件载荷
type OrderCompletedPayload struct {
	CorrelationID string    `json:"correlationId"`
	OrderID       string    `json:"orderId"`
	VehicleID     string    `json:"vehicleId"`
	PaymentID     string    `json:"paymentId"`
	Timestamp     time.Time `json:"timestamp"`
}

// OrderCancelledPayload 订单取消领域事件载荷
type OrderCancelledPayload struct {
	CorrelationID string    `json:"correlationId"`
	OrderID       string    `json:"orderId"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// decodePayload 将消息载荷解码为具体载荷结构
//
// 载荷可能是结构体指针（进程内传递）或 map（经传输层反序列化），
// 统一通过 JSON 往返解码。
func decodePayload(payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
