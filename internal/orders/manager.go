package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/gateway"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager owns orders and their items. Every mutation is one transaction that
// locks the order row, adjusts stock through the inventory ledger and ends by
// recomputing the order total from the current items.
type Manager struct {
	Store       domain.Store
	Stock       *inventory.Ledger
	Machine     *StatusMachine
	Gateway     gateway.Gateway
	Tasks       tasks.Enqueuer
	Fees        domain.FeePolicy
	ShippingFee decimal.Decimal
	Log         *zap.Logger
}

func (m *Manager) log() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

// recalc sets the total from the current items and saves the order.
func recalc(ctx context.Context, tx domain.Tx, o *domain.Order) ([]domain.OrderItem, error) {
	items, err := tx.ListItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.TotalAmount = domain.Total(items)
	o.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateOrder(ctx, *o); err != nil {
		return nil, err
	}
	return items, nil
}

// lockEditable locks the order and requires it to still be a cart.
func lockEditable(ctx context.Context, tx domain.Tx, orderID uuid.UUID) (domain.Order, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status != domain.OrderPending {
		return domain.Order{}, domain.ErrOrderNotEditable
	}
	return o, nil
}

func findItem(items []domain.OrderItem, itemID uuid.UUID) (domain.OrderItem, bool) {
	for _, it := range items {
		if it.ID == itemID {
			return it, true
		}
	}
	return domain.OrderItem{}, false
}

// available checks the product can take qty more units and returns it.
func (m *Manager) available(ctx context.Context, tx domain.Tx, productID uuid.UUID, qty int) (domain.Product, error) {
	a, err := m.Stock.CheckAvailability(ctx, tx, productID, qty)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !a.Available {
		if a.Shortage > 0 {
			return domain.Product{}, &domain.StockError{ProductID: productID, Requested: qty, Available: a.CurrentStock}
		}
		return domain.Product{}, &domain.UnavailableError{ProductID: productID, Status: p.Status}
	}
	return p, nil
}

// addLine reserves qty and inserts a new line at the product's current price.
func (m *Manager) addLine(ctx context.Context, tx domain.Tx, orderID, productID uuid.UUID, qty int) error {
	p, err := m.available(ctx, tx, productID, qty)
	if err != nil {
		return err
	}
	if err := m.Stock.Reserve(ctx, tx, productID, qty); err != nil {
		return err
	}
	now := time.Now().UTC()
	it := domain.OrderItem{
		ID:        uuid.New(),
		OrderID:   orderID,
		ProductID: productID,
		SellerID:  p.SellerID,
		Quantity:  qty,
		Price:     p.Price,
		Status:    domain.ItemPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.InsertItem(ctx, &it)
}

func (m *Manager) createTx(ctx context.Context, tx domain.Tx, buyerID, productID uuid.UUID, qty int) (OrderView, error) {
	if _, err := m.available(ctx, tx, productID, qty); err != nil {
		return OrderView{}, err
	}
	now := time.Now().UTC()
	o := domain.Order{
		ID:          uuid.New(),
		BuyerID:     buyerID,
		TotalAmount: decimal.Zero,
		Status:      domain.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertOrder(ctx, &o); err != nil {
		return OrderView{}, err
	}
	if err := m.addLine(ctx, tx, o.ID, productID, qty); err != nil {
		return OrderView{}, err
	}
	items, err := recalc(ctx, tx, &o)
	if err != nil {
		return OrderView{}, err
	}
	return newView(o, items), nil
}

// CreateOrder opens a new cart for buyerID holding one line.
func (m *Manager) CreateOrder(ctx context.Context, buyerID, productID uuid.UUID, qty int) (OrderView, error) {
	if qty <= 0 {
		return OrderView{}, domain.ErrInvalidQuantity
	}
	var v OrderView
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		v, err = m.createTx(ctx, tx, buyerID, productID, qty)
		return err
	})
	if err != nil {
		return OrderView{}, err
	}
	m.log().Info("order created",
		zap.String("order_id", v.ID.String()), zap.String("buyer_id", buyerID.String()),
		zap.String("product_id", productID.String()), zap.Int("qty", qty))
	return v, nil
}

func (m *Manager) addOrUpdateTx(ctx context.Context, tx domain.Tx, o domain.Order, productID uuid.UUID, qty int) (OrderView, error) {
	items, err := tx.ListItems(ctx, o.ID)
	if err != nil {
		return OrderView{}, err
	}
	var existing *domain.OrderItem
	for i := range items {
		if items[i].ProductID == productID {
			existing = &items[i]
			break
		}
	}

	if existing != nil {
		// only the increment is reserved
		if err := m.Stock.Reserve(ctx, tx, productID, qty); err != nil {
			return OrderView{}, err
		}
		existing.Quantity += qty
		existing.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateItem(ctx, *existing); err != nil {
			return OrderView{}, err
		}
	} else if err := m.addLine(ctx, tx, o.ID, productID, qty); err != nil {
		return OrderView{}, err
	}

	items, err = recalc(ctx, tx, &o)
	if err != nil {
		return OrderView{}, err
	}
	return newView(o, items), nil
}

// AddOrUpdateItem adds qty units of productID to a pending order, growing the
// existing line for that product if there is one.
func (m *Manager) AddOrUpdateItem(ctx context.Context, orderID, productID uuid.UUID, qty int) (OrderView, error) {
	if qty <= 0 {
		return OrderView{}, domain.ErrInvalidQuantity
	}
	var v OrderView
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := lockEditable(ctx, tx, orderID)
		if err != nil {
			return err
		}
		v, err = m.addOrUpdateTx(ctx, tx, o, productID, qty)
		return err
	})
	return v, err
}

// PlaceItem puts qty units of productID into the buyer's cart, creating the
// cart if the buyer has none.
func (m *Manager) PlaceItem(ctx context.Context, buyerID, productID uuid.UUID, qty int) (OrderView, error) {
	if qty <= 0 {
		return OrderView{}, domain.ErrInvalidQuantity
	}
	var v OrderView
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.FindPendingOrder(ctx, buyerID)
		if errors.Is(err, domain.ErrNotFound) {
			v, err = m.createTx(ctx, tx, buyerID, productID, qty)
			return err
		}
		if err != nil {
			return err
		}
		v, err = m.addOrUpdateTx(ctx, tx, o, productID, qty)
		return err
	})
	if err != nil {
		return OrderView{}, err
	}
	m.log().Info("item placed",
		zap.String("order_id", v.ID.String()), zap.String("product_id", productID.String()), zap.Int("qty", qty))
	return v, nil
}

// UpdateItemQuantity sets a line to newQty, reserving or releasing only the
// difference.
func (m *Manager) UpdateItemQuantity(ctx context.Context, orderID, itemID uuid.UUID, newQty int) (OrderView, error) {
	if newQty <= 0 {
		return OrderView{}, domain.ErrInvalidQuantity
	}
	var v OrderView
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := lockEditable(ctx, tx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, orderID)
		if err != nil {
			return err
		}
		it, ok := findItem(items, itemID)
		if !ok {
			return domain.NotFound("order item", itemID)
		}

		switch delta := newQty - it.Quantity; {
		case delta > 0:
			err = m.Stock.Reserve(ctx, tx, it.ProductID, delta)
		case delta < 0:
			err = m.Stock.Release(ctx, tx, it.ProductID, -delta)
		}
		if err != nil {
			return err
		}
		it.Quantity = newQty
		it.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateItem(ctx, it); err != nil {
			return err
		}
		items, err = recalc(ctx, tx, &o)
		if err != nil {
			return err
		}
		v = newView(o, items)
		return nil
	})
	return v, err
}

// DeleteItem removes a line and gives its stock back. Removing the last line
// deletes the order; deleted is then true and the view is empty.
func (m *Manager) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) (v OrderView, deleted bool, err error) {
	err = m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := lockEditable(ctx, tx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, orderID)
		if err != nil {
			return err
		}
		it, ok := findItem(items, itemID)
		if !ok {
			return domain.NotFound("order item", itemID)
		}
		if it.Status.HoldsReservation() {
			if err := m.Stock.Release(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return err
		}

		if len(items) == 1 {
			deleted = true
			return tx.DeleteOrder(ctx, orderID)
		}
		rest, err := recalc(ctx, tx, &o)
		if err != nil {
			return err
		}
		v = newView(o, rest)
		return nil
	})
	if err != nil {
		return OrderView{}, false, err
	}
	if deleted {
		m.log().Info("last item removed, order deleted", zap.String("order_id", orderID.String()))
	}
	return v, deleted, nil
}

// DeleteOrder releases the stock still held by the order's lines and removes
// the order with its items. Only a pending order can be deleted; a paid one is
// cancelled through the StatusMachine so seller balances follow.
func (m *Manager) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		// setelah dibayar, order hanya bisa di-cancel lewat state machine
		if _, err := lockEditable(ctx, tx, orderID); err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, orderID)
		if err != nil {
			return err
		}
		lines := make([]inventory.Line, 0, len(items))
		for _, it := range items {
			if it.Status.HoldsReservation() {
				lines = append(lines, inventory.Line{ProductID: it.ProductID, Qty: it.Quantity})
			}
		}
		if err := m.Stock.ReleaseMany(ctx, tx, lines); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return err
	}
	m.log().Info("order deleted", zap.String("order_id", orderID.String()))
	return nil
}
