package tasks

import (
	"context"
	"encoding/json"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deliverer hands a task to the outside world (mail, push, ...).
type Deliverer interface {
	Deliver(ctx context.Context, t Task) error
}

// LogDeliverer only logs; real delivery lives outside this service.
type LogDeliverer struct{ Log *zap.Logger }

func (d LogDeliverer) Deliver(_ context.Context, t Task) error {
	d.Log.Info("notify user",
		zap.String("user_id", t.UserID.String()), zap.String("event", t.Event), zap.ByteString("payload", t.Payload))
	return nil
}

// NotifyHandler consumes TopicNotifyUser.
type NotifyHandler struct {
	Redis   *redis.Client
	Deliver Deliverer
	Service string
	Log     *zap.Logger
}

func (h *NotifyHandler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// pesan rusak tidak akan pernah sukses; commit saja
		h.Log.Warn("drop malformed notification", zap.Error(err))
		return nil
	}

	first, err := redisx.FirstSeen(ctx, h.Redis, h.Service, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	var t Task
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		h.Log.Warn("drop notification with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if err := h.Deliver.Deliver(ctx, t); err != nil {
		redisx.Forget(ctx, h.Redis, h.Service, env.EventID)
		return err
	}
	return nil
}
