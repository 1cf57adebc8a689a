package orders

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrderForAppliesReadRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, sa, _ := twoSellerOrder(t, f)

	for _, a := range []domain.Actor{customer(o.BuyerID), seller(sa), admin, domain.SystemActor} {
		v, err := f.mgr.GetOrderFor(ctx, a, o.ID)
		require.NoError(t, err, a.Role)
		assert.Equal(t, o.ID, v.ID)
	}

	_, err := f.mgr.GetOrderFor(ctx, customer(uuid.New()), o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.mgr.GetOrderFor(ctx, seller(f.seller()), o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.mgr.GetOrderFor(ctx, admin, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListOrdersIsScopedByActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sa, sb := f.seller(), f.seller()
	pa := f.product(sa, "1.00", 10)
	pb := f.product(sb, "1.00", 10)
	b1, b2 := uuid.New(), uuid.New()

	_, err := f.mgr.CreateOrder(ctx, b1, pa.ID, 1)
	require.NoError(t, err)
	_, err = f.mgr.CreateOrder(ctx, b2, pb.ID, 1)
	require.NoError(t, err)

	mine, err := f.mgr.ListOrders(ctx, customer(b1), domain.OrderFilter{BuyerID: &b2})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b1, mine[0].BuyerID)

	forB, err := f.mgr.ListOrders(ctx, seller(sb), domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, b2, forB[0].BuyerID)
	require.Len(t, forB[0].Items, 1)

	all, err := f.mgr.ListOrders(ctx, admin, domain.OrderFilter{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending := domain.OrderCancelled
	none, err := f.mgr.ListOrders(ctx, admin, domain.OrderFilter{Status: &pending})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSellerView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, sa, _ := twoSellerOrder(t, f)

	sv, err := f.mgr.SellerView(ctx, o.ID, sa)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemProcessing, sv.Status)
	assert.Equal(t, domain.OrderProcessing, sv.OrderStatus)
	assert.Equal(t, 2, sv.Units)
	assert.Equal(t, "1000.00", sv.Subtotal.StringFixed(2))
	assert.Equal(t, "950.00", sv.Earnings.Net.StringFixed(2))
	assert.Equal(t, []domain.ItemStatus{domain.ItemShipped}, sv.Allowed)

	_, err = f.mgr.SellerView(ctx, o.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
