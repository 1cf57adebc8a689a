// Package memstore is an in-memory domain.Store. Transactions are serialized
// by one mutex and work on a copy of the data that replaces the live copy on
// commit, so a failed fn leaves no trace.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
)

type Store struct {
	mu   sync.Mutex
	data *state
}

type itemRow struct {
	domain.OrderItem
	seq int
}

type state struct {
	products map[uuid.UUID]domain.Product
	orders   map[uuid.UUID]orderRow
	items    map[uuid.UUID]itemRow
	sellers  map[uuid.UUID]domain.SellerProfile
	payouts  map[uuid.UUID]payoutRow
	seq      int
}

type orderRow struct {
	domain.Order
	seq int
}

type payoutRow struct {
	domain.SellerPayout
	seq int
}

func New() *Store {
	return &Store{data: &state{
		products: map[uuid.UUID]domain.Product{},
		orders:   map[uuid.UUID]orderRow{},
		items:    map[uuid.UUID]itemRow{},
		sellers:  map[uuid.UUID]domain.SellerProfile{},
		payouts:  map[uuid.UUID]payoutRow{},
	}}
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[uuid.UUID]domain.Product, len(s.products)),
		orders:   make(map[uuid.UUID]orderRow, len(s.orders)),
		items:    make(map[uuid.UUID]itemRow, len(s.items)),
		sellers:  make(map[uuid.UUID]domain.SellerProfile, len(s.sellers)),
		payouts:  make(map[uuid.UUID]payoutRow, len(s.payouts)),
		seq:      s.seq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.sellers {
		c.sellers[k] = v
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	return c
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.data.clone()}
	if err := fn(ctx, t); err != nil {
		return err
	}
	// a cancelled request must not commit
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = t.st
	return nil
}

// PutProduct seeds or overwrites a product outside any transaction.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = domain.ProductActive
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.data.products[p.ID] = p
}

func (s *Store) PutSeller(sp domain.SellerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sellers[sp.ID] = sp
}

func (s *Store) Product(id uuid.UUID) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	return p, ok
}

func (s *Store) Seller(id uuid.UUID) (domain.SellerProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.data.sellers[id]
	return sp, ok
}

func (s *Store) Order(id uuid.UUID) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	return o.Order, ok
}

type tx struct {
	st *state
}

func (t *tx) next() int {
	t.st.seq++
	return t.st.seq
}

// ---- products ----

func (t *tx) GetProduct(_ context.Context, id uuid.UUID) (domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return domain.Product{}, domain.NotFound("product", id)
	}
	return p, nil
}

func (t *tx) LockProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *tx) SetProductStock(_ context.Context, id uuid.UUID, stock int, status domain.ProductStatus) error {
	p, ok := t.st.products[id]
	if !ok {
		return domain.NotFound("product", id)
	}
	p.StockQuantity = stock
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	t.st.products[id] = p
	return nil
}

func (t *tx) ListProducts(_ context.Context, f domain.ProductFilter) ([]domain.Product, error) {
	out := []domain.Product{}
	for _, p := range t.st.products {
		if f.SellerID != nil && p.SellerID != *f.SellerID {
			continue
		}
		if f.MaxStock != nil && p.StockQuantity > *f.MaxStock {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockQuantity != out[j].StockQuantity {
			return out[i].StockQuantity < out[j].StockQuantity
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ---- orders ----

func (t *tx) pendingTaken(buyerID, except uuid.UUID) bool {
	for id, o := range t.st.orders {
		if id != except && o.BuyerID == buyerID && o.Status == domain.OrderPending {
			return true
		}
	}
	return false
}

func (t *tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return domain.ErrDuplicate
	}
	if o.Status == domain.OrderPending && t.pendingTaken(o.BuyerID, o.ID) {
		return domain.ErrPendingOrderExists
	}
	row := *o
	row.Items = nil
	t.st.orders[o.ID] = orderRow{Order: row, seq: t.next()}
	return nil
}

func (t *tx) GetOrder(_ context.Context, id uuid.UUID) (domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, domain.NotFound("order", id)
	}
	return o.Order, nil
}

func (t *tx) LockOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *tx) FindPendingOrder(_ context.Context, buyerID uuid.UUID) (domain.Order, error) {
	for _, o := range t.st.orders {
		if o.BuyerID == buyerID && o.Status == domain.OrderPending {
			return o.Order, nil
		}
	}
	return domain.Order{}, domain.NotFound("pending order for buyer", buyerID)
}

func (t *tx) FindOrderByPaymentReference(_ context.Context, ref string) (domain.Order, error) {
	for _, o := range t.st.orders {
		if ref != "" && o.PaymentReference == ref {
			return o.Order, nil
		}
	}
	return domain.Order{}, domain.NotFound("order with payment reference", ref)
}

func (t *tx) UpdateOrder(_ context.Context, o domain.Order) error {
	row, ok := t.st.orders[o.ID]
	if !ok {
		return domain.NotFound("order", o.ID)
	}
	if o.Status == domain.OrderPending && t.pendingTaken(o.BuyerID, o.ID) {
		return domain.ErrPendingOrderExists
	}
	o.Items = nil
	row.Order = o
	t.st.orders[o.ID] = row
	return nil
}

func (t *tx) DeleteOrder(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.orders[id]; !ok {
		return domain.NotFound("order", id)
	}
	delete(t.st.orders, id)
	for itemID, it := range t.st.items {
		if it.OrderID == id {
			delete(t.st.items, itemID)
		}
	}
	return nil
}

func (t *tx) orderHasSeller(orderID, sellerID uuid.UUID) bool {
	for _, it := range t.st.items {
		if it.OrderID == orderID && t.st.products[it.ProductID].SellerID == sellerID {
			return true
		}
	}
	return false
}

func (t *tx) ListOrders(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	rows := []orderRow{}
	for _, o := range t.st.orders {
		if f.BuyerID != nil && o.BuyerID != *f.BuyerID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.SellerID != nil && !t.orderHasSeller(o.ID, *f.SellerID) {
			continue
		}
		rows = append(rows, o)
	}
	// newest first
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	rows = page(rows, f.Limit, f.Offset)
	out := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Order)
	}
	return out, nil
}

// ---- items ----

func (t *tx) ListItems(_ context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows := []itemRow{}
	for _, it := range t.st.items {
		if it.OrderID == orderID {
			rows = append(rows, it)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]domain.OrderItem, 0, len(rows))
	for _, r := range rows {
		it := r.OrderItem
		it.SellerID = t.st.products[it.ProductID].SellerID
		out = append(out, it)
	}
	return out, nil
}

func (t *tx) InsertItem(_ context.Context, it *domain.OrderItem) error {
	if _, ok := t.st.orders[it.OrderID]; !ok {
		return domain.NotFound("order", it.OrderID)
	}
	if _, ok := t.st.items[it.ID]; ok {
		return domain.ErrDuplicate
	}
	row := *it
	row.SellerID = uuid.Nil
	t.st.items[it.ID] = itemRow{OrderItem: row, seq: t.next()}
	return nil
}

func (t *tx) UpdateItem(_ context.Context, it domain.OrderItem) error {
	row, ok := t.st.items[it.ID]
	if !ok {
		return domain.NotFound("order item", it.ID)
	}
	row.Quantity = it.Quantity
	row.Status = it.Status
	row.UpdatedAt = it.UpdatedAt
	t.st.items[it.ID] = row
	return nil
}

func (t *tx) DeleteItem(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.items[id]; !ok {
		return domain.NotFound("order item", id)
	}
	delete(t.st.items, id)
	return nil
}

// ---- sellers ----

func (t *tx) GetSeller(_ context.Context, id uuid.UUID) (domain.SellerProfile, error) {
	sp, ok := t.st.sellers[id]
	if !ok {
		return domain.SellerProfile{}, domain.NotFound("seller", id)
	}
	return sp, nil
}

func (t *tx) LockSeller(ctx context.Context, id uuid.UUID) (domain.SellerProfile, error) {
	return t.GetSeller(ctx, id)
}

func (t *tx) UpdateSeller(_ context.Context, sp domain.SellerProfile) error {
	if _, ok := t.st.sellers[sp.ID]; !ok {
		return domain.NotFound("seller", sp.ID)
	}
	t.st.sellers[sp.ID] = sp
	return nil
}

// ---- payouts ----

func (t *tx) InsertPayout(_ context.Context, p *domain.SellerPayout) error {
	for _, existing := range t.st.payouts {
		if existing.ID == p.ID || existing.TransferReference == p.TransferReference {
			return domain.ErrDuplicate
		}
	}
	t.st.payouts[p.ID] = payoutRow{SellerPayout: *p, seq: t.next()}
	return nil
}

func (t *tx) LockPayout(_ context.Context, id uuid.UUID) (domain.SellerPayout, error) {
	p, ok := t.st.payouts[id]
	if !ok {
		return domain.SellerPayout{}, domain.NotFound("payout", id)
	}
	return p.SellerPayout, nil
}

func (t *tx) LockPayoutByReference(_ context.Context, ref string) (domain.SellerPayout, error) {
	for _, p := range t.st.payouts {
		if p.TransferReference == ref {
			return p.SellerPayout, nil
		}
	}
	return domain.SellerPayout{}, domain.NotFound("payout", ref)
}

func (t *tx) UpdatePayout(_ context.Context, p domain.SellerPayout) error {
	row, ok := t.st.payouts[p.ID]
	if !ok {
		return domain.NotFound("payout", p.ID)
	}
	row.SellerPayout = p
	t.st.payouts[p.ID] = row
	return nil
}

func (t *tx) ListPayouts(_ context.Context, f domain.PayoutFilter) ([]domain.SellerPayout, error) {
	rows := []payoutRow{}
	for _, p := range t.st.payouts {
		if f.SellerID != nil && p.SellerID != *f.SellerID {
			continue
		}
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	rows = page(rows, f.Limit, f.Offset)
	out := make([]domain.SellerPayout, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.SellerPayout)
	}
	return out, nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
