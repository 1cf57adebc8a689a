package domain

import (
	"context"

	"github.com/google/uuid"
)

// Store runs fn inside one transaction. fn's error (or a failed commit) rolls
// everything back; InTx must not be nested.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the row-level view of the store inside a transaction. Lock* methods
// take an exclusive row lock held until the transaction ends. Missing rows
// come back as *NotFoundError.
type Tx interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	LockProduct(ctx context.Context, id uuid.UUID) (Product, error)
	SetProductStock(ctx context.Context, id uuid.UUID, stock int, status ProductStatus) error
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, error)

	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	LockOrder(ctx context.Context, id uuid.UUID) (Order, error)
	// FindPendingOrder returns the buyer's cart, locked.
	FindPendingOrder(ctx context.Context, buyerID uuid.UUID) (Order, error)
	FindOrderByPaymentReference(ctx context.Context, ref string) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	// DeleteOrder removes the order and its items.
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)

	// ListItems returns the order's lines in insertion order, with SellerID
	// filled from the product.
	ListItems(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error)
	InsertItem(ctx context.Context, it *OrderItem) error
	UpdateItem(ctx context.Context, it OrderItem) error
	DeleteItem(ctx context.Context, id uuid.UUID) error

	GetSeller(ctx context.Context, id uuid.UUID) (SellerProfile, error)
	LockSeller(ctx context.Context, id uuid.UUID) (SellerProfile, error)
	UpdateSeller(ctx context.Context, s SellerProfile) error

	InsertPayout(ctx context.Context, p *SellerPayout) error
	LockPayout(ctx context.Context, id uuid.UUID) (SellerPayout, error)
	LockPayoutByReference(ctx context.Context, ref string) (SellerPayout, error)
	UpdatePayout(ctx context.Context, p SellerPayout) error
	ListPayouts(ctx context.Context, f PayoutFilter) ([]SellerPayout, error)
}

type ProductFilter struct {
	SellerID *uuid.UUID
	// MaxStock keeps products with stock_quantity <= *MaxStock.
	MaxStock *int
}

type OrderFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *OrderStatus
	Limit    int
	Offset   int
}

type PayoutFilter struct {
	SellerID *uuid.UUID
	Status   *PayoutStatus
	Limit    int
	Offset   int
}
