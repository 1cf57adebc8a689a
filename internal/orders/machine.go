package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-marketplace-orders/internal/orders")

// BalanceUpdater is told how each seller's derived status moved.
type BalanceUpdater interface {
	UpdateBalance(ctx context.Context, tx domain.Tx, sellerID, orderID uuid.UUID, from, to domain.ItemStatus) error
}

// StatusMachine validates and applies item status changes and keeps the
// order's status derived from them.
type StatusMachine struct {
	Store    domain.Store
	Stock    *inventory.Ledger
	Balances BalanceUpdater
	Tasks    tasks.Enqueuer
	Log      *zap.Logger
}

// Transition is the outcome of one applied status change.
type Transition struct {
	Order   OrderView          `json:"order"`
	From    domain.OrderStatus `json:"from"`
	To      domain.OrderStatus `json:"to"`
	Changed int                `json:"items_changed"`
}

func (sm *StatusMachine) log() *zap.Logger {
	if sm.Log == nil {
		return zap.NewNop()
	}
	return sm.Log
}

// Transitions lists the statuses role may move an item in current to.
func (sm *StatusMachine) Transitions(current domain.ItemStatus, role domain.Role) []domain.ItemStatus {
	return domain.AllowedTransitions(current, role)
}

func startSpan(ctx context.Context, name string, actor domain.Actor, orderID uuid.UUID, to domain.ItemStatus) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("actor.role", string(actor.Role)),
		attribute.String("status.target", string(to)),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// apply moves the target items to `to` inside tx: cancelled lines give their
// stock back, the order status is re-derived from all items, and every seller
// in the order is passed to the balance ledger.
func (sm *StatusMachine) apply(ctx context.Context, tx domain.Tx, o domain.Order, items []domain.OrderItem,
	targets map[uuid.UUID]bool, to domain.ItemStatus) (Transition, error) {

	before := domain.SellerStatuses(items)
	from := o.Status
	now := time.Now().UTC()

	changed := 0
	for i := range items {
		it := &items[i]
		if !targets[it.ID] || it.Status == to {
			continue
		}
		if to == domain.ItemCancelled && it.Status.HoldsReservation() {
			if err := sm.Stock.Release(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return Transition{}, err
			}
		}
		it.Status = to
		it.UpdatedAt = now
		if err := tx.UpdateItem(ctx, *it); err != nil {
			return Transition{}, err
		}
		changed++
	}

	groups := domain.GroupBySeller(items)
	sellers := make([]domain.ItemStatus, 0, len(groups))
	for _, g := range groups {
		sellers = append(sellers, g.Status)
	}
	o.Status = domain.DeriveOrderStatus(sellers)
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return Transition{}, err
	}

	if sm.Balances != nil {
		for _, g := range groups {
			if err := sm.Balances.UpdateBalance(ctx, tx, g.SellerID, o.ID, before[g.SellerID], g.Status); err != nil {
				return Transition{}, err
			}
		}
	}
	return Transition{Order: newView(o, items), From: from, To: o.Status, Changed: changed}, nil
}

// notify tells the buyer when the order's status moved. Runs after commit.
func (sm *StatusMachine) notify(ctx context.Context, tr Transition, sellerID *uuid.UUID) {
	if tr.From == tr.To {
		return
	}
	sm.log().Info("order status changed",
		zap.String("order_id", tr.Order.ID.String()),
		zap.String("from", string(tr.From)), zap.String("to", string(tr.To)))
	tasks.Send(ctx, sm.Tasks, sm.log(), tasks.New(tr.Order.BuyerID, tasks.EventOrderStatusChanged,
		StatusChangedPayload{OrderID: tr.Order.ID, From: tr.From, To: tr.To, SellerID: sellerID}))
}

// UpdateSellerItemsStatus moves all of sellerID's items in the order to `to`.
// The seller's items must share one status.
func (sm *StatusMachine) UpdateSellerItemsStatus(ctx context.Context, actor domain.Actor, orderID, sellerID uuid.UUID, to domain.ItemStatus) (tr Transition, err error) {
	ctx, span := startSpan(ctx, "orders.UpdateSellerItemsStatus", actor, orderID, to)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("seller.id", sellerID.String()))

	switch actor.Role {
	case domain.RoleSeller:
		if actor.ID != sellerID {
			return Transition{}, domain.Forbidden("sellers may only update their own items")
		}
		if !domain.SellerMayTarget(to) {
			return Transition{}, domain.Forbidden("sellers may only set processing, shipped or delivered")
		}
	case domain.RoleAdmin, domain.RoleSystem:
	default:
		return Transition{}, domain.Forbidden("role may not update seller items")
	}

	err = sm.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, orderID)
		if err != nil {
			return err
		}

		targets := map[uuid.UUID]bool{}
		var current domain.ItemStatus
		for _, it := range items {
			if it.SellerID != sellerID {
				continue
			}
			if len(targets) > 0 && it.Status != current {
				return domain.ErrSellerItemsDiverged
			}
			current = it.Status
			targets[it.ID] = true
		}
		if len(targets) == 0 {
			if actor.Role == domain.RoleSeller {
				return domain.Forbidden("seller has no items in this order")
			}
			return domain.NotFound("seller items in order", orderID)
		}
		if !domain.RolePermits(actor.Role, current, to) {
			return &domain.TransitionError{From: string(current), To: string(to),
				Allowed: domain.AllowedTransitions(current, actor.Role)}
		}

		tr, err = sm.apply(ctx, tx, o, items, targets, to)
		return err
	})
	if err != nil {
		return Transition{}, err
	}
	sm.notify(ctx, tr, &sellerID)
	return tr, nil
}

// UpdateOrderStatus is the order-level entry point. Sellers are routed to
// their own items; customers may only cancel their own pending or processing
// order; admins move every open item, each of which must allow the change.
func (sm *StatusMachine) UpdateOrderStatus(ctx context.Context, actor domain.Actor, orderID uuid.UUID, to domain.ItemStatus) (tr Transition, err error) {
	if actor.Role == domain.RoleSeller {
		return sm.UpdateSellerItemsStatus(ctx, actor, orderID, actor.ID, to)
	}

	ctx, span := startSpan(ctx, "orders.UpdateOrderStatus", actor, orderID, to)
	defer func() { endSpan(span, err) }()

	switch actor.Role {
	case domain.RoleCustomer:
		if to != domain.ItemCancelled {
			return Transition{}, domain.Forbidden("customers may only cancel orders")
		}
	case domain.RoleAdmin, domain.RoleSystem:
	default:
		return Transition{}, domain.Forbidden("unknown role")
	}

	err = sm.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, orderID)
		if err != nil {
			return err
		}

		targets := map[uuid.UUID]bool{}
		if actor.Role == domain.RoleCustomer {
			if o.BuyerID != actor.ID {
				return domain.Forbidden("order belongs to another buyer")
			}
			if o.Status != domain.OrderPending && o.Status != domain.OrderProcessing {
				return &domain.TransitionError{From: string(o.Status), To: string(to), Allowed: []domain.ItemStatus{}}
			}
			for _, it := range items {
				if domain.RolePermits(actor.Role, it.Status, to) {
					targets[it.ID] = true
				}
			}
		} else {
			for _, it := range items {
				if it.Status.Terminal() {
					continue
				}
				if !domain.RolePermits(actor.Role, it.Status, to) {
					return &domain.TransitionError{From: string(it.Status), To: string(to),
						Allowed: domain.AllowedTransitions(it.Status, actor.Role)}
				}
				targets[it.ID] = true
			}
		}
		if len(targets) == 0 {
			return &domain.TransitionError{From: string(o.Status), To: string(to), Allowed: []domain.ItemStatus{}}
		}

		tr, err = sm.apply(ctx, tx, o, items, targets, to)
		return err
	})
	if err != nil {
		return Transition{}, err
	}
	sm.notify(ctx, tr, nil)
	return tr, nil
}

// ConfirmPayment moves a paid order's pending items to processing. An order
// that is no longer pending is returned unchanged.
func (sm *StatusMachine) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (tr Transition, err error) {
	ctx, span := startSpan(ctx, "orders.ConfirmPayment", domain.SystemActor, orderID, domain.ItemProcessing)
	defer func() { endSpan(span, err) }()

	err = sm.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderPending {
			tr = Transition{Order: newView(o, items), From: o.Status, To: o.Status}
			return nil
		}
		targets := map[uuid.UUID]bool{}
		for _, it := range items {
			if it.Status == domain.ItemPending || it.Status == domain.ItemPaid {
				targets[it.ID] = true
			}
		}
		tr, err = sm.apply(ctx, tx, o, items, targets, domain.ItemProcessing)
		return err
	})
	if err != nil {
		return Transition{}, err
	}
	sm.notify(ctx, tr, nil)
	return tr, nil
}

// BulkResult is one order's outcome in BulkUpdateOrderStatus.
type BulkResult struct {
	OrderID uuid.UUID          `json:"order_id"`
	Status  domain.OrderStatus `json:"status,omitempty"`
	Error   string             `json:"error,omitempty"`
	Err     error              `json:"-"`
}

// BulkUpdateOrderStatus applies UpdateOrderStatus to each order in its own
// transaction; one failure does not stop the rest.
func (sm *StatusMachine) BulkUpdateOrderStatus(ctx context.Context, actor domain.Actor, orderIDs []uuid.UUID, to domain.ItemStatus) []BulkResult {
	out := make([]BulkResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		tr, err := sm.UpdateOrderStatus(ctx, actor, id, to)
		if err != nil {
			out = append(out, BulkResult{OrderID: id, Error: err.Error(), Err: err})
			continue
		}
		out = append(out, BulkResult{OrderID: id, Status: tr.To})
	}
	return out
}
