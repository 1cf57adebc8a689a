package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductActive     ProductStatus = "active"
	ProductInactive   ProductStatus = "inactive"
	ProductOutOfStock ProductStatus = "out_of_stock"
)

type Product struct {
	ID            uuid.UUID       `json:"id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Status        ProductStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	BuyerID           uuid.UUID       `json:"buyer_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Status            OrderStatus     `json:"status"`
	DeliveryAddressID *uuid.UUID      `json:"delivery_address_id,omitempty"`
	PaymentReference  string          `json:"payment_reference,omitempty"`
	PaymentURL        string          `json:"payment_url,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Items is filled by reads that load the line items; it is never persisted
	// as part of the order row.
	Items []OrderItem `json:"items,omitempty"`
}

// OrderItem is one line of an order. SellerID is projected from the product
// on read and is not stored on the line.
type OrderItem struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID uuid.UUID       `json:"product_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    ItemStatus      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Total is the exact sum of quantity x price over items.
func Total(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

type SellerProfile struct {
	ID                  uuid.UUID       `json:"id"`
	BusinessName        string          `json:"business_name"`
	AvailableBalance    decimal.Decimal `json:"available_balance"`
	PendingBalance      decimal.Decimal `json:"pending_balance"`
	TotalPaid           decimal.Decimal `json:"total_paid"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	PayoutRecipientCode string          `json:"-"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed || s == PayoutCancelled
}

type BankDetails struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
}

type SellerPayout struct {
	ID                  uuid.UUID       `json:"id"`
	SellerID            uuid.UUID       `json:"seller_id"`
	Amount              decimal.Decimal `json:"amount"`
	PlatformFee         decimal.Decimal `json:"platform_fee"`
	NetAmount           decimal.Decimal `json:"net_amount"`
	Status              PayoutStatus    `json:"status"`
	Bank                BankDetails     `json:"bank"`
	TransferReference   string          `json:"transfer_reference"`
	GatewayTransferCode string          `json:"gateway_transfer_code,omitempty"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
	// RoleSystem is used by the engine itself, e.g. when a verified charge
	// moves an order into processing.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is who is asking, as supplied by the auth collaborator.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}
