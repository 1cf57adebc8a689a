package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFeePolicySplit(t *testing.T) {
	fee, net := FeePolicy{}.Split(decimal.RequireFromString("1000.00"))
	assert.Equal(t, "50.00", fee.StringFixed(2))
	assert.Equal(t, "950.00", net.StringFixed(2))

	// fee rounds to cents; fee + net is always exactly gross
	gross := decimal.RequireFromString("33.33")
	fee, net = FeePolicy{Rate: decimal.RequireFromString("0.1")}.Split(gross)
	assert.Equal(t, "3.33", fee.StringFixed(2))
	assert.True(t, fee.Add(net).Equal(gross))
}

func TestComputeEarnings(t *testing.T) {
	s1, s2 := uuid.New(), uuid.New()
	items := []OrderItem{
		{SellerID: s1, Quantity: 2, Price: decimal.RequireFromString("250.00")},
		{SellerID: s2, Quantity: 1, Price: decimal.RequireFromString("99.99")},
		{SellerID: s1, Quantity: 1, Price: decimal.RequireFromString("500.00")},
	}

	e := ComputeEarnings(items, s1, FeePolicy{})
	assert.Equal(t, "1000.00", e.Gross.StringFixed(2))
	assert.Equal(t, "50.00", e.PlatformFee.StringFixed(2))
	assert.Equal(t, "950.00", e.Net.StringFixed(2))
	assert.Equal(t, 2, e.ItemCount)

	none := ComputeEarnings(items, uuid.New(), FeePolicy{})
	assert.True(t, none.Gross.IsZero())
	assert.True(t, none.Net.IsZero())
	assert.Zero(t, none.ItemCount)
}

func TestErrorKinds(t *testing.T) {
	pid := uuid.New()
	cases := []struct {
		err  error
		kind error
	}{
		{NotFound("product", pid), ErrNotFound},
		{&StockError{ProductID: pid, Requested: 5, Available: 2}, ErrInsufficientStock},
		{&UnavailableError{ProductID: pid, Status: ProductInactive}, ErrProductUnavailable},
		{&BalanceError{Requested: decimal.NewFromInt(10), Available: decimal.Zero}, ErrInsufficientBalance},
		{&TransitionError{From: "shipped", To: "cancelled"}, ErrInvalidTransition},
		{Forbidden("not yours"), ErrForbidden},
		{&GatewayError{Op: "verify", Err: context.DeadlineExceeded}, ErrGateway},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		assert.True(t, errors.Is(wrapped, tc.kind), "%v should be %v", tc.err, tc.kind)
	}

	// the gateway error keeps its cause
	assert.ErrorIs(t, &GatewayError{Op: "verify", Err: context.DeadlineExceeded}, context.DeadlineExceeded)

	var se *StockError
	assert.True(t, errors.As(fmt.Errorf("x: %w", &StockError{Requested: 5, Available: 2}), &se))
	assert.Equal(t, 3, se.Shortage())

	te := &TransitionError{From: "shipped", To: "cancelled", Allowed: []ItemStatus{ItemDelivered}}
	assert.Contains(t, te.Error(), "allowed: [delivered]")
}
