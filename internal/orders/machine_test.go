package orders

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seller(id uuid.UUID) domain.Actor   { return domain.Actor{ID: id, Role: domain.RoleSeller} }
func customer(id uuid.UUID) domain.Actor { return domain.Actor{ID: id, Role: domain.RoleCustomer} }

var admin = domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

// twoSellerOrder places one line from each of two sellers and confirms payment.
func twoSellerOrder(t *testing.T, f *fixture) (OrderView, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	sa, sb := f.seller(), f.seller()
	pa := f.product(sa, "500.00", 10)
	pb := f.product(sb, "20.00", 10)
	buyer := uuid.New()

	_, err := f.mgr.PlaceItem(ctx, buyer, pa.ID, 2)
	require.NoError(t, err)
	v, err := f.mgr.PlaceItem(ctx, buyer, pb.ID, 1)
	require.NoError(t, err)

	tr, err := f.machine.ConfirmPayment(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderProcessing, tr.To)
	return tr.Order, sa, sb
}

func TestSellerMovesOnlyOwnItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, sa, sb := twoSellerOrder(t, f)

	tr, err := f.machine.UpdateSellerItemsStatus(ctx, seller(sa), o.ID, sa, domain.ItemShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderProcessing, tr.From)
	assert.Equal(t, domain.OrderPartiallyShipped, tr.To)
	assert.Equal(t, 1, tr.Changed)

	_, err = f.machine.UpdateSellerItemsStatus(ctx, seller(sb), o.ID, sa, domain.ItemDelivered)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.machine.UpdateSellerItemsStatus(ctx, seller(sa), o.ID, sa, domain.ItemCancelled)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.machine.UpdateSellerItemsStatus(ctx, seller(sa), o.ID, sa, domain.ItemProcessing)
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "shipped", te.From)
	assert.Equal(t, []domain.ItemStatus{domain.ItemDelivered}, te.Allowed)

	// order-level call from a seller is routed to its own items
	tr, err = f.machine.UpdateOrderStatus(ctx, seller(sb), o.ID, domain.ItemShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, tr.To)

	tr, err = f.machine.UpdateSellerItemsStatus(ctx, seller(sa), o.ID, sa, domain.ItemDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPartiallyDelivered, tr.To)

	// admins skip finished items
	tr, err = f.machine.UpdateOrderStatus(ctx, admin, o.ID, domain.ItemDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, tr.To)
	assert.Equal(t, 1, tr.Changed)
}

func TestSellerWithoutItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _, _ := twoSellerOrder(t, f)
	other := f.seller()

	_, err := f.machine.UpdateSellerItemsStatus(ctx, seller(other), o.ID, other, domain.ItemShipped)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.machine.UpdateSellerItemsStatus(ctx, admin, o.ID, other, domain.ItemShipped)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.machine.UpdateSellerItemsStatus(ctx, customer(o.BuyerID), o.ID, other, domain.ItemShipped)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSellerItemsMustMoveInLockStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.seller()
	a := f.product(s, "10.00", 5)
	b := f.product(s, "10.00", 5)
	buyer := uuid.New()

	_, err := f.mgr.PlaceItem(ctx, buyer, a.ID, 1)
	require.NoError(t, err)
	v, err := f.mgr.PlaceItem(ctx, buyer, b.ID, 1)
	require.NoError(t, err)
	_, err = f.machine.ConfirmPayment(ctx, v.ID)
	require.NoError(t, err)

	// push one line ahead behind the machine's back
	require.NoError(t, f.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		items, err := tx.ListItems(ctx, v.ID)
		if err != nil {
			return err
		}
		items[0].Status = domain.ItemShipped
		return tx.UpdateItem(ctx, items[0])
	}))

	_, err = f.machine.UpdateSellerItemsStatus(ctx, seller(s), v.ID, s, domain.ItemShipped)
	assert.ErrorIs(t, err, domain.ErrSellerItemsDiverged)
}

func TestCustomerCancelReleasesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(f.seller(), "8.00", 5)
	buyer := uuid.New()

	v, err := f.mgr.CreateOrder(ctx, buyer, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, p.ID))

	_, err = f.machine.UpdateOrderStatus(ctx, customer(uuid.New()), v.ID, domain.ItemCancelled)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.machine.UpdateOrderStatus(ctx, customer(buyer), v.ID, domain.ItemProcessing)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	tr, err := f.machine.UpdateOrderStatus(ctx, customer(buyer), v.ID, domain.ItemCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, tr.To)
	assert.Equal(t, 5, f.stockOf(t, p.ID))
	assert.Equal(t, []string{tasks.EventOrderStatusChanged}, f.rec.Events())

	// cancelling again finds nothing to move
	_, err = f.machine.UpdateOrderStatus(ctx, customer(buyer), v.ID, domain.ItemCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 5, f.stockOf(t, p.ID))
}

func TestCustomerCannotCancelShippedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _, _ := twoSellerOrder(t, f)

	tr, err := f.machine.UpdateOrderStatus(ctx, admin, o.ID, domain.ItemShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, tr.To)
	assert.Equal(t, 2, tr.Changed)

	_, err = f.machine.UpdateOrderStatus(ctx, customer(o.BuyerID), o.ID, domain.ItemCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.machine.UpdateOrderStatus(ctx, admin, o.ID, domain.ItemCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAdminCannotSkipStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(f.seller(), "1.00", 5)

	v, err := f.mgr.CreateOrder(ctx, uuid.New(), p.ID, 1)
	require.NoError(t, err)

	_, err = f.machine.UpdateOrderStatus(ctx, admin, v.ID, domain.ItemShipped)
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []domain.ItemStatus{domain.ItemProcessing, domain.ItemCancelled}, te.Allowed)

	_, err = f.machine.UpdateOrderStatus(ctx, domain.Actor{ID: uuid.New(), Role: "guest"}, v.ID, domain.ItemCancelled)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestPartialCancelReleasesOnlyThatSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, sa, sb := twoSellerOrder(t, f)

	tr, err := f.machine.UpdateSellerItemsStatus(ctx, admin, o.ID, sb, domain.ItemCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPartiallyCancelled, tr.To)
	for _, g := range tr.Order.Sellers {
		switch g.SellerID {
		case sa:
			assert.Equal(t, 8, f.stockOf(t, g.Items[0].ProductID))
		case sb:
			assert.Equal(t, 10, f.stockOf(t, g.Items[0].ProductID))
		}
	}
}

func TestBalancesFollowSellerStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, sa, sb := twoSellerOrder(t, f)

	// 2 x 500 at the default 5% fee
	s := f.sellerProfile(t, sa)
	assert.Equal(t, "950.00", s.PendingBalance.StringFixed(2))
	assert.True(t, s.AvailableBalance.IsZero())

	_, err := f.machine.UpdateSellerItemsStatus(ctx, seller(sa), o.ID, sa, domain.ItemShipped)
	require.NoError(t, err)
	_, err = f.machine.UpdateSellerItemsStatus(ctx, seller(sa), o.ID, sa, domain.ItemDelivered)
	require.NoError(t, err)

	s = f.sellerProfile(t, sa)
	assert.True(t, s.PendingBalance.IsZero())
	assert.Equal(t, "950.00", s.AvailableBalance.StringFixed(2))
	assert.Equal(t, "1000.00", s.TotalRevenue.StringFixed(2))

	// cancelling from processing takes the credit back
	assert.Equal(t, "19.00", f.sellerProfile(t, sb).PendingBalance.StringFixed(2))
	_, err = f.machine.UpdateSellerItemsStatus(ctx, admin, o.ID, sb, domain.ItemCancelled)
	require.NoError(t, err)
	b := f.sellerProfile(t, sb)
	assert.True(t, b.PendingBalance.IsZero())
	assert.True(t, b.AvailableBalance.IsZero())
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.seller()
	p := f.product(s, "100.00", 5)

	v, err := f.mgr.CreateOrder(ctx, uuid.New(), p.ID, 1)
	require.NoError(t, err)

	tr, err := f.machine.ConfirmPayment(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Changed)

	tr, err = f.machine.ConfirmPayment(ctx, v.ID)
	require.NoError(t, err)
	assert.Zero(t, tr.Changed)
	assert.Equal(t, domain.OrderProcessing, tr.From)
	assert.Equal(t, domain.OrderProcessing, tr.To)

	assert.Equal(t, "95.00", f.sellerProfile(t, s).PendingBalance.StringFixed(2))
	assert.Equal(t, []string{tasks.EventOrderStatusChanged}, f.rec.Events())
	assert.Equal(t, 4, f.stockOf(t, p.ID), "payment keeps the reservation")
}

func TestBulkUpdateCollectsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(f.seller(), "3.00", 10)

	v1, err := f.mgr.CreateOrder(ctx, uuid.New(), p.ID, 1)
	require.NoError(t, err)
	v2, err := f.mgr.CreateOrder(ctx, uuid.New(), p.ID, 2)
	require.NoError(t, err)
	missing := uuid.New()

	res := f.machine.BulkUpdateOrderStatus(ctx, admin, []uuid.UUID{v1.ID, missing, v2.ID}, domain.ItemCancelled)
	require.Len(t, res, 3)
	assert.Equal(t, domain.OrderCancelled, res[0].Status)
	assert.Empty(t, res[0].Error)
	assert.ErrorIs(t, res[1].Err, domain.ErrNotFound)
	assert.NotEmpty(t, res[1].Error)
	assert.Equal(t, domain.OrderCancelled, res[2].Status)
	assert.Equal(t, 10, f.stockOf(t, p.ID))
}

func TestTransitionsListsRoleMoves(t *testing.T) {
	sm := &StatusMachine{}
	assert.Equal(t, []domain.ItemStatus{domain.ItemCancelled}, sm.Transitions(domain.ItemPending, domain.RoleCustomer))
	assert.Equal(t, []domain.ItemStatus{domain.ItemProcessing}, sm.Transitions(domain.ItemPending, domain.RoleSeller))
}
