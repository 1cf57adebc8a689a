package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSendIsNilSafeAndLogsFailures(t *testing.T) {
	user := uuid.New()
	Send(context.Background(), nil, zap.NewNop(), New(user, EventPaymentConfirmed, nil))

	rec := &Recorder{}
	Send(context.Background(), rec, nil,
		New(user, EventPaymentConfirmed, map[string]string{"order_id": "o1"}),
		New(user, EventOrderStatusChanged, nil))
	assert.Equal(t, []string{EventPaymentConfirmed, EventOrderStatusChanged}, rec.Events())
	assert.JSONEq(t, `{"order_id":"o1"}`, string(rec.Tasks()[0].Payload))
	assert.Equal(t, user, rec.Tasks()[0].UserID)

	core, logs := observer.New(zapcore.WarnLevel)
	failing := &Recorder{Err: errors.New("broker down")}
	Send(context.Background(), failing, zap.New(core), New(user, EventPayoutFailed, nil))
	assert.Empty(t, failing.Tasks())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, EventPayoutFailed, logs.All()[0].ContextMap()["event"])
}

type collect struct {
	got []Task
	err error
}

func (c *collect) Deliver(_ context.Context, t Task) error {
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, t)
	return nil
}

func message(t *testing.T, task Task) kafkago.Message {
	t.Helper()
	env := kafkax.NewEnvelope(task.Event, "test", task.UserID.String(), task)
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestNotifyHandlerDelivers(t *testing.T) {
	c := &collect{}
	h := &NotifyHandler{Deliver: c, Service: "notify", Log: zap.NewNop()}
	task := New(uuid.New(), EventPayoutCompleted, map[string]string{"reference": "PAYOUT_A"})

	require.NoError(t, h.Handle(context.Background(), message(t, task)))
	require.Len(t, c.got, 1)
	assert.Equal(t, task.ID, c.got[0].ID)
	assert.Equal(t, EventPayoutCompleted, c.got[0].Event)
}

func TestNotifyHandlerDropsMalformed(t *testing.T) {
	c := &collect{}
	h := &NotifyHandler{Deliver: c, Service: "notify", Log: zap.NewNop()}

	assert.NoError(t, h.Handle(context.Background(), kafkago.Message{Value: []byte("nope")}))

	env := kafkax.NewEnvelope(EventPaymentFailed, "test", "x", nil)
	env.Payload = json.RawMessage(`"not a task"`)
	assert.NoError(t, h.Handle(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(env)}))
	assert.Empty(t, c.got)
}

func TestNotifyHandlerReturnsDeliveryError(t *testing.T) {
	boom := errors.New("smtp down")
	h := &NotifyHandler{Deliver: &collect{err: boom}, Service: "notify", Log: zap.NewNop()}
	err := h.Handle(context.Background(), message(t, New(uuid.New(), EventPaymentFailed, nil)))
	assert.ErrorIs(t, err, boom)
}
