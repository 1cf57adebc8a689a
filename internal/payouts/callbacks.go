package payouts

import (
	"context"
	"errors"
	"strings"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TopicTransferResult = "market.payout.transfer"
	EventTransferResult = "TransferResult"
)

// TransferResult is the gateway's asynchronous transfer callback.
type TransferResult struct {
	Reference     string `json:"transfer_reference"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Final reports whether the status ends the transfer, and how.
func (r TransferResult) Final() (outcome TransferOutcome, final bool) {
	switch strings.ToLower(r.Status) {
	case "success", "completed":
		return TransferOutcome{Success: true}, true
	case "failed", "reversed", "abandoned":
		reason := r.FailureReason
		if reason == "" {
			reason = "transfer " + strings.ToLower(r.Status)
		}
		return TransferOutcome{FailureReason: reason, Reversed: strings.EqualFold(r.Status, "reversed")}, true
	}
	return TransferOutcome{}, false
}

// CallbackQueue forwards transfer callbacks to TopicTransferResult so the
// HTTP webhook can ack quickly.
type CallbackQueue struct {
	Producer *kafkax.Producer
	Service  string
}

func (q *CallbackQueue) Publish(ctx context.Context, r TransferResult) error {
	env := kafkax.NewEnvelope(EventTransferResult, q.Service, r.Reference, r)
	return q.Producer.Publish(ctx, kafkax.PartitionKey(r.Reference), kafkax.MustMarshal(env), env.Headers()...)
}

// CallbackHandler consumes TopicTransferResult and settles payouts. Duplicate
// deliveries are dropped via redis; settled payouts are acknowledged.
type CallbackHandler struct {
	Ledger  *Ledger
	Redis   *redis.Client
	Service string
	Log     *zap.Logger
}

func (h *CallbackHandler) Handle(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		h.Log.Warn("drop malformed transfer callback", zap.Error(err))
		return nil
	}
	if env.EventType != EventTransferResult {
		return nil
	} // ignore

	// 2) decode payload
	r, err := kafkax.UnwrapPayload[TransferResult](env.Payload)
	if err != nil {
		h.Log.Warn("drop transfer callback with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	return h.Apply(ctx, r)
}

// Apply settles one callback. It is also used when no broker sits between the
// webhook and the ledger.
func (h *CallbackHandler) Apply(ctx context.Context, r TransferResult) error {
	outcome, final := r.Final()
	if !final {
		h.Log.Debug("non-final transfer status ignored",
			zap.String("reference", r.Reference), zap.String("status", r.Status))
		return nil
	}

	// 3) dedup via Redis (reference + status)
	dedupID := r.Reference + ":" + strings.ToLower(r.Status)
	first, err := redisx.FirstSeen(ctx, h.Redis, h.Service, dedupID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	// 4) settle
	p, err := h.Ledger.SettlePayout(ctx, r.Reference, outcome)
	switch {
	case errors.Is(err, domain.ErrPayoutSettled):
		h.Log.Info("transfer callback for settled payout", zap.String("reference", r.Reference))
		return nil
	case errors.Is(err, domain.ErrNotFound):
		h.Log.Warn("transfer callback for unknown payout", zap.String("reference", r.Reference))
		return nil
	case err != nil:
		redisx.Forget(ctx, h.Redis, h.Service, dedupID)
		return err
	}
	h.Log.Info("transfer callback applied",
		zap.String("payout_id", p.ID.String()), zap.String("status", string(p.Status)))
	return nil
}
