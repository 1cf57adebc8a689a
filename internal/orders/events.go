package orders

import (
	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---- payload notifikasi per event (lihat tasks.Event*) ----

type StatusChangedPayload struct {
	OrderID uuid.UUID          `json:"order_id"`
	From    domain.OrderStatus `json:"from"`
	To      domain.OrderStatus `json:"to"`
	// SellerID is set when one seller's items drove the change.
	SellerID *uuid.UUID `json:"seller_id,omitempty"`
}

type PaymentPayload struct {
	OrderID   uuid.UUID       `json:"order_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"` // status dari gateway, e.g. success / abandoned
}
