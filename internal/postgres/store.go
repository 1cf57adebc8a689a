package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements domain.Store on Postgres. Row locks are SELECT ... FOR
// UPDATE; a lock that cannot be taken within LockTimeout surfaces as
// domain.ErrConflictRace.
type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.LockTimeout > 0 {
		// SET LOCAL tidak bisa pakai bind parameter
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return mapError(err, "set lock_timeout")
		}
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit(ctx), "commit")
}

type pgTx struct {
	tx pgx.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// where joins conditions; args are numbered in the order they were added.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) page(limit, offset int) string {
	out := ""
	if limit > 0 {
		w.args = append(w.args, limit)
		out += fmt.Sprintf(" LIMIT $%d", len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		out += fmt.Sprintf(" OFFSET $%d", len(w.args))
	}
	return out
}

// ---- products ----

const productCols = `id, seller_id, name, price, stock_quantity, status, created_at, updated_at`

func scanProduct(r scanner) (domain.Product, error) {
	var p domain.Product
	var status string
	err := r.Scan(&p.ID, &p.SellerID, &p.Name, &p.Price, &p.StockQuantity, &status, &p.CreatedAt, &p.UpdatedAt)
	p.Status = domain.ProductStatus(status)
	return p, err
}

func (t *pgTx) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (t *pgTx) LockProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (t *pgTx) SetProductStock(ctx context.Context, id uuid.UUID, stock int, status domain.ProductStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock_quantity=$2, status=$3, updated_at=now() WHERE id=$1`,
		id, stock, string(status))
	if err != nil {
		return mapError(err, "update product stock")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("product", id)
	}
	return nil
}

func (t *pgTx) ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, error) {
	var w where
	if f.SellerID != nil {
		w.add("seller_id = $%d", *f.SellerID)
	}
	if f.MaxStock != nil {
		w.add("stock_quantity <= $%d", *f.MaxStock)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+productCols+` FROM products`+w.String()+
		` ORDER BY stock_quantity, name`, w.args...)
	if err != nil {
		return nil, mapError(err, "list products")
	}
	defer rows.Close()

	out := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapError(err, "scan product")
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err(), "list products")
}

// ---- orders ----

const orderCols = `id, buyer_id, total_amount, status, delivery_address_id, payment_reference, payment_url, created_at, updated_at`

func scanOrder(r scanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
		ref    *string
	)
	err := r.Scan(&o.ID, &o.BuyerID, &o.TotalAmount, &status, &o.DeliveryAddressID, &ref, &o.PaymentURL,
		&o.CreatedAt, &o.UpdatedAt)
	o.Status = domain.OrderStatus(status)
	if ref != nil {
		o.PaymentReference = *ref
	}
	return o, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, buyer_id, total_amount, status, delivery_address_id, payment_reference, payment_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.BuyerID, o.TotalAmount, string(o.Status), o.DeliveryAddressID, nullString(o.PaymentReference),
		o.PaymentURL, o.CreatedAt, o.UpdatedAt)
	return mapError(err, "insert order")
}

func (t *pgTx) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func (t *pgTx) LockOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func (t *pgTx) FindPendingOrder(ctx context.Context, buyerID uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE buyer_id=$1 AND status='pending' FOR UPDATE`, buyerID))
	if err != nil {
		return domain.Order{}, notFound(err, "pending order for buyer", buyerID)
	}
	return o, nil
}

func (t *pgTx) FindOrderByPaymentReference(ctx context.Context, ref string) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE payment_reference=$1`, ref))
	if err != nil {
		return domain.Order{}, notFound(err, "order with payment reference", ref)
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o domain.Order) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET total_amount=$2, status=$3, delivery_address_id=$4, payment_reference=$5,
		       payment_url=$6, updated_at=$7
		WHERE id=$1`,
		o.ID, o.TotalAmount, string(o.Status), o.DeliveryAddressID, nullString(o.PaymentReference),
		o.PaymentURL, o.UpdatedAt)
	if err != nil {
		return mapError(err, "update order")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("order", o.ID)
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	// order_items ikut terhapus (ON DELETE CASCADE)
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return mapError(err, "delete order")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("order", id)
	}
	return nil
}

func (t *pgTx) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var w where
	if f.BuyerID != nil {
		w.add("o.buyer_id = $%d", *f.BuyerID)
	}
	if f.Status != nil {
		w.add("o.status = $%d", string(*f.Status))
	}
	if f.SellerID != nil {
		w.add(`EXISTS (SELECT 1 FROM order_items oi JOIN products p ON p.id = oi.product_id
		               WHERE oi.order_id = o.id AND p.seller_id = $%d)`, *f.SellerID)
	}
	cond := w.String()
	q := `SELECT ` + prefixed("o.", orderCols) + ` FROM orders o` + cond +
		` ORDER BY o.created_at DESC, o.id` + w.page(f.Limit, f.Offset)

	rows, err := t.tx.Query(ctx, q, w.args...)
	if err != nil {
		return nil, mapError(err, "list orders")
	}
	defer rows.Close()

	out := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapError(err, "scan order")
		}
		out = append(out, o)
	}
	return out, mapError(rows.Err(), "list orders")
}

func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i := range parts {
		parts[i] = prefix + parts[i]
	}
	return strings.Join(parts, ", ")
}

// ---- items ----

func (t *pgTx) ListItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.seller_id, oi.quantity, oi.price, oi.status,
		       oi.created_at, oi.updated_at
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.created_at, oi.id`, orderID)
	if err != nil {
		return nil, mapError(err, "list items")
	}
	defer rows.Close()

	out := []domain.OrderItem{}
	for rows.Next() {
		var (
			it     domain.OrderItem
			status string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SellerID, &it.Quantity, &it.Price, &status,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, mapError(err, "scan item")
		}
		it.Status = domain.ItemStatus(status)
		out = append(out, it)
	}
	return out, mapError(rows.Err(), "list items")
}

func (t *pgTx) InsertItem(ctx context.Context, it *domain.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, quantity, price, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		it.ID, it.OrderID, it.ProductID, it.Quantity, it.Price, string(it.Status), it.CreatedAt, it.UpdatedAt)
	return mapError(err, "insert item")
}

func (t *pgTx) UpdateItem(ctx context.Context, it domain.OrderItem) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE order_items SET quantity=$2, status=$3, updated_at=$4 WHERE id=$1`,
		it.ID, it.Quantity, string(it.Status), it.UpdatedAt)
	if err != nil {
		return mapError(err, "update item")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("order item", it.ID)
	}
	return nil
}

func (t *pgTx) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE id=$1`, id)
	if err != nil {
		return mapError(err, "delete item")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("order item", id)
	}
	return nil
}

// ---- sellers ----

const sellerCols = `id, business_name, available_balance, pending_balance, total_paid, total_revenue, payout_recipient_code, updated_at`

func scanSeller(r scanner) (domain.SellerProfile, error) {
	var s domain.SellerProfile
	err := r.Scan(&s.ID, &s.BusinessName, &s.AvailableBalance, &s.PendingBalance, &s.TotalPaid, &s.TotalRevenue,
		&s.PayoutRecipientCode, &s.UpdatedAt)
	return s, err
}

func (t *pgTx) GetSeller(ctx context.Context, id uuid.UUID) (domain.SellerProfile, error) {
	s, err := scanSeller(t.tx.QueryRow(ctx, `SELECT `+sellerCols+` FROM seller_profiles WHERE id=$1`, id))
	if err != nil {
		return domain.SellerProfile{}, notFound(err, "seller", id)
	}
	return s, nil
}

func (t *pgTx) LockSeller(ctx context.Context, id uuid.UUID) (domain.SellerProfile, error) {
	s, err := scanSeller(t.tx.QueryRow(ctx, `SELECT `+sellerCols+` FROM seller_profiles WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.SellerProfile{}, notFound(err, "seller", id)
	}
	return s, nil
}

func (t *pgTx) UpdateSeller(ctx context.Context, s domain.SellerProfile) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE seller_profiles SET available_balance=$2, pending_balance=$3, total_paid=$4, total_revenue=$5,
		       payout_recipient_code=$6, updated_at=$7
		WHERE id=$1`,
		s.ID, s.AvailableBalance, s.PendingBalance, s.TotalPaid, s.TotalRevenue, s.PayoutRecipientCode, s.UpdatedAt)
	if err != nil {
		return mapError(err, "update seller")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("seller", s.ID)
	}
	return nil
}

// ---- payouts ----

const payoutCols = `id, seller_id, amount, platform_fee, net_amount, status, account_number, bank_code, bank_name,
	transfer_reference, gateway_transfer_code, failure_reason, created_at, processed_at`

func scanPayout(r scanner) (domain.SellerPayout, error) {
	var (
		p      domain.SellerPayout
		status string
	)
	err := r.Scan(&p.ID, &p.SellerID, &p.Amount, &p.PlatformFee, &p.NetAmount, &status,
		&p.Bank.AccountNumber, &p.Bank.BankCode, &p.Bank.BankName,
		&p.TransferReference, &p.GatewayTransferCode, &p.FailureReason, &p.CreatedAt, &p.ProcessedAt)
	p.Status = domain.PayoutStatus(status)
	return p, err
}

func (t *pgTx) InsertPayout(ctx context.Context, p *domain.SellerPayout) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO seller_payouts(id, seller_id, amount, platform_fee, net_amount, status, account_number, bank_code,
		            bank_name, transfer_reference, gateway_transfer_code, failure_reason, created_at, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.SellerID, p.Amount, p.PlatformFee, p.NetAmount, string(p.Status),
		p.Bank.AccountNumber, p.Bank.BankCode, p.Bank.BankName,
		p.TransferReference, p.GatewayTransferCode, p.FailureReason, p.CreatedAt, p.ProcessedAt)
	return mapError(err, "insert payout")
}

func (t *pgTx) LockPayout(ctx context.Context, id uuid.UUID) (domain.SellerPayout, error) {
	p, err := scanPayout(t.tx.QueryRow(ctx, `SELECT `+payoutCols+` FROM seller_payouts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.SellerPayout{}, notFound(err, "payout", id)
	}
	return p, nil
}

func (t *pgTx) LockPayoutByReference(ctx context.Context, ref string) (domain.SellerPayout, error) {
	p, err := scanPayout(t.tx.QueryRow(ctx,
		`SELECT `+payoutCols+` FROM seller_payouts WHERE transfer_reference=$1 FOR UPDATE`, ref))
	if err != nil {
		return domain.SellerPayout{}, notFound(err, "payout", ref)
	}
	return p, nil
}

func (t *pgTx) UpdatePayout(ctx context.Context, p domain.SellerPayout) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE seller_payouts SET status=$2, gateway_transfer_code=$3, failure_reason=$4, processed_at=$5
		WHERE id=$1`,
		p.ID, string(p.Status), p.GatewayTransferCode, p.FailureReason, p.ProcessedAt)
	if err != nil {
		return mapError(err, "update payout")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("payout", p.ID)
	}
	return nil
}

func (t *pgTx) ListPayouts(ctx context.Context, f domain.PayoutFilter) ([]domain.SellerPayout, error) {
	var w where
	if f.SellerID != nil {
		w.add("seller_id = $%d", *f.SellerID)
	}
	if f.Status != nil {
		w.add("status = $%d", string(*f.Status))
	}
	cond := w.String()
	q := `SELECT ` + payoutCols + ` FROM seller_payouts` + cond + ` ORDER BY created_at DESC, id` +
		w.page(f.Limit, f.Offset)
	rows, err := t.tx.Query(ctx, q, w.args...)
	if err != nil {
		return nil, mapError(err, "list payouts")
	}
	defer rows.Close()

	out := []domain.SellerPayout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, mapError(err, "scan payout")
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err(), "list payouts")
}
