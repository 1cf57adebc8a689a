package orders

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderView is an order with its items and the per-seller partition of them.
type OrderView struct {
	domain.Order
	Sellers []domain.SellerGroup `json:"sellers"`
}

func newView(o domain.Order, items []domain.OrderItem) OrderView {
	o.Items = items
	return OrderView{Order: o, Sellers: domain.GroupBySeller(items)}
}

// SellerOrderView is what one seller sees of an order.
type SellerOrderView struct {
	OrderID     uuid.UUID          `json:"order_id"`
	BuyerID     uuid.UUID          `json:"buyer_id"`
	OrderStatus domain.OrderStatus `json:"order_status"`
	SellerID    uuid.UUID          `json:"seller_id"`
	Status      domain.ItemStatus  `json:"status"`
	Items       []domain.OrderItem `json:"items"`
	Subtotal    decimal.Decimal    `json:"subtotal"`
	Units       int                `json:"units"`
	Earnings    domain.Earnings    `json:"earnings"`
	// Allowed is what the seller may move its items to next.
	Allowed []domain.ItemStatus `json:"allowed"`
}

func (m *Manager) GetOrder(ctx context.Context, orderID uuid.UUID) (OrderView, error) {
	var v OrderView
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, orderID)
		if err != nil {
			return err
		}
		v = newView(o, items)
		return nil
	})
	return v, err
}

// GetOrderFor is GetOrder with the read rules applied: customers see their own
// orders, sellers orders holding at least one of their items, admins all.
func (m *Manager) GetOrderFor(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (OrderView, error) {
	v, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	if err := canSee(actor, v); err != nil {
		return OrderView{}, err
	}
	return v, nil
}

func canSee(actor domain.Actor, v OrderView) error {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return nil
	case domain.RoleCustomer:
		if v.BuyerID == actor.ID {
			return nil
		}
		return domain.Forbidden("order belongs to another buyer")
	case domain.RoleSeller:
		for _, g := range v.Sellers {
			if g.SellerID == actor.ID {
				return nil
			}
		}
		return domain.Forbidden("seller has no items in this order")
	}
	return domain.Forbidden("unknown role")
}

// ListOrders returns orders matching f. The actor narrows f: customers only
// list their own orders, sellers orders containing their items.
func (m *Manager) ListOrders(ctx context.Context, actor domain.Actor, f domain.OrderFilter) ([]OrderView, error) {
	switch actor.Role {
	case domain.RoleCustomer:
		f.BuyerID = &actor.ID
	case domain.RoleSeller:
		f.SellerID = &actor.ID
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	var out []OrderView
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		orders, err := tx.ListOrders(ctx, f)
		if err != nil {
			return err
		}
		out = make([]OrderView, 0, len(orders))
		for _, o := range orders {
			items, err := tx.ListItems(ctx, o.ID)
			if err != nil {
				return err
			}
			out = append(out, newView(o, items))
		}
		return nil
	})
	return out, err
}

func (m *Manager) SellerView(ctx context.Context, orderID, sellerID uuid.UUID) (SellerOrderView, error) {
	v, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return SellerOrderView{}, err
	}
	for _, g := range v.Sellers {
		if g.SellerID != sellerID {
			continue
		}
		return SellerOrderView{
			OrderID:     v.ID,
			BuyerID:     v.BuyerID,
			OrderStatus: v.Status,
			SellerID:    sellerID,
			Status:      g.Status,
			Items:       g.Items,
			Subtotal:    g.Subtotal,
			Units:       g.Units,
			Earnings:    domain.ComputeEarnings(g.Items, sellerID, m.Fees),
			Allowed:     domain.AllowedTransitions(g.Status, domain.RoleSeller),
		}, nil
	}
	return SellerOrderView{}, domain.Forbidden("seller has no items in this order")
}
