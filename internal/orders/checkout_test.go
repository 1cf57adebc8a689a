package orders

import (
	"context"
	"strings"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryAddsShipping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()

	_, err := f.mgr.Summary(ctx, buyer)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p := f.product(f.seller(), "2500.00", 3)
	_, err = f.mgr.PlaceItem(ctx, buyer, p.ID, 2)
	require.NoError(t, err)

	s, err := f.mgr.Summary(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", s.Subtotal.StringFixed(2))
	assert.Equal(t, "1500.00", s.ShippingFee.StringFixed(2))
	assert.Equal(t, "6500.00", s.Total.StringFixed(2))
	assert.Empty(t, s.Problems)
	assert.Len(t, s.Sellers, 1)
}

func TestCheckoutOpensChargeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, addr := uuid.New(), uuid.New()
	p := f.product(f.seller(), "100.00", 3)

	v, err := f.mgr.PlaceItem(ctx, buyer, p.ID, 1)
	require.NoError(t, err)

	res, err := f.mgr.Checkout(ctx, buyer, addr, "buyer@example.test")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Reference, "ORD_"))
	assert.NotEmpty(t, res.AuthorizationURL)
	assert.Equal(t, "1600.00", res.Summary.Total.StringFixed(2))

	o, ok := f.store.Order(v.ID)
	require.True(t, ok)
	assert.Equal(t, res.Reference, o.PaymentReference)
	assert.Equal(t, res.AuthorizationURL, o.PaymentURL)
	require.NotNil(t, o.DeliveryAddressID)
	assert.Equal(t, addr, *o.DeliveryAddressID)

	again, err := f.mgr.Checkout(ctx, buyer, addr, "buyer@example.test")
	require.NoError(t, err)
	assert.Equal(t, res.Reference, again.Reference)
}

func TestCheckoutRefusesUnavailableItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	p := f.product(f.seller(), "10.00", 3)

	_, err := f.mgr.PlaceItem(ctx, buyer, p.ID, 1)
	require.NoError(t, err)
	p, _ = f.store.Product(p.ID)
	p.Status = domain.ProductInactive
	f.store.PutProduct(p)

	_, err = f.mgr.Checkout(ctx, buyer, uuid.New(), "b@example.test")
	require.ErrorIs(t, err, domain.ErrProductUnavailable)
	assert.NotErrorIs(t, err, domain.ErrForbidden)
	var cart *domain.CartError
	require.ErrorAs(t, err, &cart)
	require.Len(t, cart.Problems, 1)
	assert.Contains(t, cart.Problems[0], "not available for purchase")

	f.gw.FailCharges = true
	_, err = f.mgr.Checkout(ctx, uuid.New(), uuid.New(), "b@example.test")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckoutGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	p := f.product(f.seller(), "10.00", 3)
	_, err := f.mgr.PlaceItem(ctx, buyer, p.ID, 1)
	require.NoError(t, err)

	f.gw.FailCharges = true
	_, err = f.mgr.Checkout(ctx, buyer, uuid.New(), "b@example.test")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	s := f.seller()
	p := f.product(s, "200.00", 3)

	v, err := f.mgr.PlaceItem(ctx, buyer, p.ID, 1)
	require.NoError(t, err)
	res, err := f.mgr.Checkout(ctx, buyer, uuid.New(), "b@example.test")
	require.NoError(t, err)

	// not paid yet
	got, err := f.mgr.VerifyPayment(ctx, res.Reference)
	assert.ErrorIs(t, err, domain.ErrGateway)
	assert.Equal(t, domain.OrderPending, got.Status)
	assert.Equal(t, []string{tasks.EventPaymentFailed}, f.rec.Events())

	f.gw.MarkPaid(res.Reference)
	got, err = f.mgr.VerifyPayment(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, domain.OrderProcessing, got.Status)
	assert.Equal(t, []string{
		tasks.EventPaymentFailed,
		tasks.EventOrderStatusChanged,
		tasks.EventPaymentConfirmed,
	}, f.rec.Events())
	assert.Equal(t, "190.00", f.sellerProfile(t, s).PendingBalance.StringFixed(2))

	// a second verification changes nothing
	got, err = f.mgr.VerifyPayment(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderProcessing, got.Status)
	assert.Len(t, f.rec.Events(), 3)
	assert.Equal(t, "190.00", f.sellerProfile(t, s).PendingBalance.StringFixed(2))

	_, err = f.mgr.VerifyPayment(ctx, "ORD_UNKNOWN")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestVerifyPaymentForCancelledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	p := f.product(f.seller(), "200.00", 3)

	v, err := f.mgr.PlaceItem(ctx, buyer, p.ID, 1)
	require.NoError(t, err)
	res, err := f.mgr.Checkout(ctx, buyer, uuid.New(), "b@example.test")
	require.NoError(t, err)
	_, err = f.machine.UpdateOrderStatus(ctx, customer(buyer), v.ID, domain.ItemCancelled)
	require.NoError(t, err)

	f.gw.MarkPaid(res.Reference)
	got, err := f.mgr.VerifyPayment(ctx, res.Reference)
	require.ErrorIs(t, err, domain.ErrOrderNotEditable)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.Equal(t, tasks.EventPaymentRefundDue, f.rec.Events()[len(f.rec.Events())-1])
	assert.Equal(t, 3, f.stockOf(t, p.ID))
}

func TestVerifyPaymentAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	p := f.product(f.seller(), "200.00", 3)

	_, err := f.mgr.PlaceItem(ctx, buyer, p.ID, 1)
	require.NoError(t, err)
	res, err := f.mgr.Checkout(ctx, buyer, uuid.New(), "b@example.test")
	require.NoError(t, err)

	f.gw.MarkPaid(res.Reference)
	f.gw.SetAmount(res.Reference, decimal.NewFromInt(200))

	got, err := f.mgr.VerifyPayment(ctx, res.Reference)
	require.ErrorIs(t, err, domain.ErrGateway)
	assert.Contains(t, err.Error(), "expected 1700.00")
	assert.Equal(t, domain.OrderPending, got.Status)
	assert.Empty(t, f.rec.Events())
}
