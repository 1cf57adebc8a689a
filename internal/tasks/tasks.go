// Package tasks is the background task queue used to tell users about order,
// payment and payout changes. Producers never wait for delivery.
package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TopicNotifyUser = "market.notify.user"

const (
	EventOrderStatusChanged = "order_status_changed"
	EventPaymentConfirmed   = "payment_confirmed"
	EventPaymentFailed      = "payment_failed"
	EventPaymentRefundDue   = "payment_refund_due"
	EventPayoutRequested    = "payout_requested"
	EventPayoutCompleted    = "payout_completed"
	EventPayoutFailed       = "payout_failed"
)

type Task struct {
	ID        string          `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func New(userID uuid.UUID, event string, payload any) Task {
	return Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		Event:     event,
		Payload:   kafkax.MustMarshal(payload),
		CreatedAt: time.Now().UTC(),
	}
}

type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// Send enqueues every task and only logs failures; callers run it after their
// transaction committed.
func Send(ctx context.Context, q Enqueuer, log *zap.Logger, ts ...Task) {
	if q == nil {
		return
	}
	for _, t := range ts {
		if err := q.Enqueue(ctx, t); err != nil && log != nil {
			log.Warn("enqueue notification failed",
				zap.String("event", t.Event), zap.String("user_id", t.UserID.String()), zap.Error(err))
		}
	}
}

// KafkaQueue publishes tasks as envelopes on TopicNotifyUser, keyed by user.
type KafkaQueue struct {
	Producer *kafkax.Producer
	Service  string
}

func (q *KafkaQueue) Enqueue(ctx context.Context, t Task) error {
	env := kafkax.NewEnvelope(t.Event, q.Service, t.UserID.String(), t)
	return q.Producer.Publish(ctx, kafkax.PartitionKey(t.UserID.String()), kafkax.MustMarshal(env), env.Headers()...)
}

// Recorder keeps tasks in memory. Err, when set, is returned by every Enqueue.
type Recorder struct {
	mu    sync.Mutex
	tasks []Task
	Err   error
}

func (r *Recorder) Enqueue(_ context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *Recorder) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.tasks...)
}

// Events lists recorded event names in enqueue order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Event)
	}
	return out
}
