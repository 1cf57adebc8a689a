// Package gateway talks to the payment provider: charges for checkout and
// transfers for seller payouts.
package gateway

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/shopspring/decimal"
)

type Charge struct {
	Reference string
	Email     string
	Amount    decimal.Decimal
	Metadata  map[string]string
}

type ChargeSession struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
}

type Verification struct {
	Reference string
	Paid      bool
	Amount    decimal.Decimal
	Status    string
	Message   string
}

type Transfer struct {
	Reference     string
	Amount        decimal.Decimal
	RecipientCode string
	// AccountName and Bank are used to create a recipient when RecipientCode
	// is empty.
	AccountName string
	Bank        domain.BankDetails
	Reason      string
}

type TransferReceipt struct {
	TransferCode  string
	RecipientCode string
	// Status is the provider's immediate answer: pending, success, failed ...
	Status string
}

// Gateway errors are returned as *domain.GatewayError.
type Gateway interface {
	InitializeCharge(ctx context.Context, c Charge) (ChargeSession, error)
	VerifyCharge(ctx context.Context, reference string) (Verification, error)
	InitiateTransfer(ctx context.Context, t Transfer) (TransferReceipt, error)
}

// MinorUnits converts an amount to the provider's integer sub-unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
