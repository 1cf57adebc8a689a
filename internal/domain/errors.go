package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinels for errors.Is. The detail types below match them.
var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrForbidden           = errors.New("forbidden")
	ErrConflictRace        = errors.New("lost a concurrent update, retry")
	ErrGateway             = errors.New("payment gateway error")

	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrOrderNotEditable    = errors.New("order can only be modified while pending")
	ErrPendingOrderExists  = errors.New("buyer already has a pending order")
	ErrSellerItemsDiverged = errors.New("seller items do not share one status")
	ErrPayoutSettled       = errors.New("payout already settled")
	ErrDuplicate           = errors.New("duplicate record")
)

type NotFoundError struct {
	Entity string
	ID     string
}

func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string { return e.Entity + " not found: " + e.ID }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type StockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

// Shortage is how many units are missing.
func (e *StockError) Shortage() int {
	if e.Requested > e.Available {
		return e.Requested - e.Available
	}
	return 0
}

type UnavailableError struct {
	ProductID uuid.UUID
	Status    ProductStatus
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %s is %s and not available for purchase", e.ProductID, e.Status)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrProductUnavailable }

// CartError lists the lines that keep a cart from being checked out.
type CartError struct {
	Problems []string
}

func (e *CartError) Error() string {
	return "cart has unavailable items: " + strings.Join(e.Problems, "; ")
}

func (e *CartError) Is(target error) bool { return target == ErrProductUnavailable }

type BalanceError struct {
	SellerID  uuid.UUID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for seller %s: requested %s, available %s",
		e.SellerID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *BalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

type TransitionError struct {
	From    string
	To      string
	Allowed []ItemStatus
}

func (e *TransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("invalid status transition from %s to %s, allowed: [%s]",
		e.From, e.To, strings.Join(allowed, ", "))
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type ForbiddenError struct {
	Reason string
}

func Forbidden(reason string) error { return &ForbiddenError{Reason: reason} }

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// GatewayError wraps a failure reported by, or while talking to, the payment
// gateway.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return "gateway " + e.Op + " failed"
	}
	return "gateway " + e.Op + ": " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }
