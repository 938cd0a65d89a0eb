package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewInstance 测试实例创建
func TestNewInstance(t *testing.T) {
	instance := NewInstance("corr-1", "cust-1", "veh-1", 199.99, "card")

	assert.Equal(t, "corr-1", instance.CorrelationID)
	assert.Equal(t, StateSubmitted, instance.CurrentState)
	assert.Equal(t, uint64(0), instance.Version)
	assert.Equal(t, "cust-1", instance.CustomerID)
	assert.Equal(t, "veh-1", instance.VehicleID)
	assert.Equal(t, 199.99, instance.Amount)
	assert.Equal(t, "card", instance.PaymentMethod)
	assert.False(t, instance.CreatedAt.IsZero())
	assert.False(t, instance.IsTerminal())
}

// TestInstance_Transitions 测试状态标记方法
func TestInstance_Transitions(t *testing.T) {
	instance := NewInstance("corr-1", "cust-1", "veh-1", 100, "card")

	expiry := time.Now().UTC().Add(15 * time.Minute)
	instance.MarkPaymentPending(expiry)
	assert.Equal(t, StatePaymentPending, instance.CurrentState)
	require.NotNil(t, instance.ReservationExpiry)
	assert.Equal(t, expiry, *instance.ReservationExpiry)

	instance.MarkCompleted("pay-1", "txn-1")
	assert.Equal(t, StateCompleted, instance.CurrentState)
	assert.Equal(t, "pay-1", instance.PaymentID)
	assert.Equal(t, "txn-1", instance.TransactionID)
	assert.True(t, instance.IsTerminal())
	require.NotNil(t, instance.CompletedAt)
}

// TestInstance_FaultedPath 测试补偿路径的失败信息传递
func TestInstance_FaultedPath(t *testing.T) {
	instance := NewInstance("corr-1", "cust-1", "veh-1", 100, "card")
	instance.MarkPaymentPending(time.Now().UTC())

	instance.MarkFaulted("CARD_DECLINED", "card declined by issuer")
	assert.Equal(t, StateFaulted, instance.CurrentState)
	assert.False(t, instance.IsTerminal())
	assert.Equal(t, "CARD_DECLINED", instance.ErrorCode)

	// 补偿完成后取消：沿用 Faulted 时记录的失败信息
	instance.MarkCancelled("", "")
	assert.Equal(t, StateCancelled, instance.CurrentState)
	assert.Equal(t, "CARD_DECLINED", instance.ErrorCode)
	assert.Equal(t, "card declined by issuer", instance.ErrorMessage)
	assert.True(t, instance.IsTerminal())
}

// TestInstance_DirectCancel 测试直接取消路径记录失败信息
func TestInstance_DirectCancel(t *testing.T) {
	instance := NewInstance("corr-1", "cust-1", "veh-1", 100, "card")

	instance.MarkCancelled("NO_STOCK", "vehicle unavailable")
	assert.Equal(t, StateCancelled, instance.CurrentState)
	assert.Equal(t, "NO_STOCK", instance.ErrorCode)
	assert.Equal(t, "vehicle unavailable", instance.ErrorMessage)
}

// TestInstance_Clone 测试克隆的深拷贝语义
func TestInstance_Clone(t *testing.T) {
	instance := NewInstance("corr-1", "cust-1", "veh-1", 100, "card")
	instance.MarkPaymentPending(time.Now().UTC())

	clone := instance.Clone()
	clone.CurrentState = StateCompleted
	*clone.ReservationExpiry = clone.ReservationExpiry.Add(time.Hour)

	assert.Equal(t, StatePaymentPending, instance.CurrentState)
	assert.NotEqual(t, *instance.ReservationExpiry, *clone.ReservationExpiry)
}

// TestInstance_JSONRoundTrip 测试序列化往返
func TestInstance_JSONRoundTrip(t *testing.T) {
	instance := NewInstance("corr-1", "cust-1", "veh-1", 100, "card")
	instance.OrderID = "order-1"
	instance.MarkFaulted("CARD_DECLINED", "declined")
	instance.Version = 3

	data, err := instance.ToJSON()
	require.NoError(t, err)

	decoded := &Instance{}
	require.NoError(t, decoded.FromJSON(data))
	assert.Equal(t, instance.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, instance.CurrentState, decoded.CurrentState)
	assert.Equal(t, instance.Version, decoded.Version)
	assert.Equal(t, instance.OrderID, decoded.OrderID)
	assert.Equal(t, instance.ErrorCode, decoded.ErrorCode)
}
