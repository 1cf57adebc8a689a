package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/gateway"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CheckoutSummary struct {
	OrderID     uuid.UUID            `json:"order_id"`
	Items       []domain.OrderItem   `json:"items"`
	Sellers     []domain.SellerGroup `json:"sellers"`
	Subtotal    decimal.Decimal      `json:"subtotal"`
	ShippingFee decimal.Decimal      `json:"shipping_fee"`
	Total       decimal.Decimal      `json:"total"`
	// Problems lists lines whose product can no longer be sold.
	Problems []string `json:"problems"`
}

type CheckoutResult struct {
	Summary          CheckoutSummary `json:"summary"`
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url"`
}

func newPaymentReference() string {
	return "ORD_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

func (m *Manager) summarize(ctx context.Context, tx domain.Tx, o domain.Order) (CheckoutSummary, error) {
	items, err := tx.ListItems(ctx, o.ID)
	if err != nil {
		return CheckoutSummary{}, err
	}
	s := CheckoutSummary{
		OrderID:     o.ID,
		Items:       items,
		Sellers:     domain.GroupBySeller(items),
		Subtotal:    domain.Total(items),
		ShippingFee: m.ShippingFee,
		Problems:    []string{},
	}
	s.Total = s.Subtotal.Add(m.ShippingFee)
	for _, it := range items {
		p, err := tx.GetProduct(ctx, it.ProductID)
		if err != nil {
			s.Problems = append(s.Problems, fmt.Sprintf("product %s: no longer listed", it.ProductID))
			continue
		}
		if p.Status == domain.ProductInactive {
			s.Problems = append(s.Problems, fmt.Sprintf("product %s: not available for purchase", it.ProductID))
		}
	}
	return s, nil
}

// Summary prices the buyer's cart for checkout without changing it.
func (m *Manager) Summary(ctx context.Context, buyerID uuid.UUID) (CheckoutSummary, error) {
	var s CheckoutSummary
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.FindPendingOrder(ctx, buyerID)
		if err != nil {
			return err
		}
		s, err = m.summarize(ctx, tx, o)
		return err
	})
	return s, err
}

// Checkout attaches the delivery address to the buyer's cart and opens a
// charge for it. The gateway is called outside any transaction.
func (m *Manager) Checkout(ctx context.Context, buyerID, addressID uuid.UUID, email string) (CheckoutResult, error) {
	var (
		res CheckoutResult
		ref string
	)
	err := m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.FindPendingOrder(ctx, buyerID)
		if err != nil {
			return err
		}
		if res.Summary, err = m.summarize(ctx, tx, o); err != nil {
			return err
		}
		if len(res.Summary.Problems) > 0 {
			return &domain.CartError{Problems: res.Summary.Problems}
		}
		o.DeliveryAddressID = &addressID
		if o.PaymentReference == "" {
			o.PaymentReference = newPaymentReference()
		}
		ref = o.PaymentReference
		o.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	session, err := m.Gateway.InitializeCharge(ctx, gateway.Charge{
		Reference: ref,
		Email:     email,
		Amount:    res.Summary.Total,
		Metadata: map[string]string{
			"order_id": res.Summary.OrderID.String(),
			"buyer_id": buyerID.String(),
		},
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	err = m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.LockOrder(ctx, res.Summary.OrderID)
		if err != nil {
			return err
		}
		if o.PaymentReference != ref {
			return domain.ErrConflictRace
		}
		o.PaymentURL = session.AuthorizationURL
		o.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	res.Reference = ref
	res.AuthorizationURL = session.AuthorizationURL
	m.log().Info("checkout started",
		zap.String("order_id", res.Summary.OrderID.String()), zap.String("reference", ref),
		zap.String("total", res.Summary.Total.StringFixed(2)))
	return res, nil
}

// VerifyPayment asks the gateway about the charge behind reference. A paid
// charge moves the order's pending items to processing; verifying an order
// that already left pending changes nothing, except that a charge paid for a
// cancelled order is reported for refund.
func (m *Manager) VerifyPayment(ctx context.Context, reference string) (OrderView, error) {
	ver, err := m.Gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return OrderView{}, err
	}

	var v OrderView
	err = m.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.FindOrderByPaymentReference(ctx, reference)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}
		v = newView(o, items)
		return nil
	})
	if err != nil {
		return OrderView{}, err
	}

	payload := PaymentPayload{OrderID: v.ID, Reference: reference, Amount: ver.Amount, Status: ver.Status}
	if !ver.Paid {
		tasks.Send(ctx, m.Tasks, m.log(), tasks.New(v.BuyerID, tasks.EventPaymentFailed, payload))
		return v, &domain.GatewayError{Op: "verify charge", Err: fmt.Errorf("payment not completed: %s", ver.Status)}
	}
	if v.Status == domain.OrderCancelled {
		// uang sudah masuk tapi order batal: perlu refund manual
		m.log().Warn("payment received for cancelled order",
			zap.String("order_id", v.ID.String()), zap.String("reference", reference),
			zap.String("paid", ver.Amount.StringFixed(2)))
		tasks.Send(ctx, m.Tasks, m.log(), tasks.New(v.BuyerID, tasks.EventPaymentRefundDue, payload))
		return v, fmt.Errorf("order %s was cancelled before payment: %w", v.ID, domain.ErrOrderNotEditable)
	}
	if v.Status != domain.OrderPending {
		return v, nil
	}
	expected := v.TotalAmount.Add(m.ShippingFee)
	if !ver.Amount.Equal(expected) {
		m.log().Warn("paid amount does not match order",
			zap.String("order_id", v.ID.String()), zap.String("paid", ver.Amount.StringFixed(2)),
			zap.String("expected", expected.StringFixed(2)))
		return v, &domain.GatewayError{Op: "verify charge",
			Err: fmt.Errorf("paid %s, expected %s", ver.Amount.StringFixed(2), expected.StringFixed(2))}
	}

	tr, err := m.Machine.ConfirmPayment(ctx, v.ID)
	if err != nil {
		return OrderView{}, err
	}
	tasks.Send(ctx, m.Tasks, m.log(), tasks.New(v.BuyerID, tasks.EventPaymentConfirmed, payload))
	return tr.Order, nil
}
