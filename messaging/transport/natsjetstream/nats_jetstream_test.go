package natsjetstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketsaga/messaging"
)

func TestMarshalUnmarshal(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000).UTC()
	msg := &messaging.Message{
		ID:        "evt-1",
		Type:      "order.completed",
		Timestamp: ts,
		Payload:   map[string]interface{}{"amount": 99.5},
		Metadata:  map[string]interface{}{messaging.MetadataCorrelationID: "corr-A"},
	}
	data, err := marshalMessage(msg)
	require.NoError(t, err)

	decoded, err := unmarshalMessage(data)
	require.NoError(t, err)

	require.Equal(t, msg.ID, decoded.GetID())
	require.Equal(t, msg.Type, decoded.GetType())
	require.Equal(t, ts.UnixNano(), decoded.GetTimestamp().UnixNano())
	payload := decoded.GetPayload().(map[string]interface{})
	require.Equal(t, 99.5, payload["amount"])
	require.Equal(t, "corr-A", messaging.CorrelationOf(decoded))
}

func TestUnmarshalMissingTimestamp(t *testing.T) {
	decoded, err := unmarshalMessage([]byte(`{"id":"evt-2","type":"order.accepted","payload":null}`))
	require.NoError(t, err)
	require.Equal(t, "evt-2", decoded.GetID())
	require.False(t, decoded.GetTimestamp().IsZero())
	require.NotNil(t, decoded.GetMetadata())
}

func TestConfigDefaults(t *testing.T) {
	tr := NewTransport(Config{})
	require.Equal(t, "MARKETSAGA", tr.cfg.Stream)
	require.Equal(t, "saga.", tr.cfg.SubjectPrefix)
	require.Equal(t, "saga.order.completed", tr.subjectName("order.completed"))
	require.Equal(t, 30*time.Second, tr.cfg.AckWait)
	require.Equal(t, 1024, tr.cfg.MaxAckPending)
	require.Equal(t, 5*time.Second, tr.cfg.PublishWait)
}

func TestPublishContextDeadline(t *testing.T) {
	tr := NewTransport(Config{PublishWait: 2 * time.Second})

	// No caller deadline: PublishWait becomes the publish bound.
	start := time.Now()
	bounded, cancel := tr.publishContext(context.Background())
	defer cancel()
	deadline, ok := bounded.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, start.Add(2*time.Second), deadline, 500*time.Millisecond)

	// Caller deadline wins and the context is passed through untouched.
	parent, parentCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer parentCancel()
	passed, cancel2 := tr.publishContext(parent)
	defer cancel2()
	require.Equal(t, parent, passed)
}

func TestPublishNotRunning(t *testing.T) {
	tr := NewTransport(Config{})
	err := tr.Publish(context.Background(), messaging.NewEnvelope("order.accepted", "corr-A", nil))
	require.Error(t, err)
}
