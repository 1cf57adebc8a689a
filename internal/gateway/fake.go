package gateway

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fake is an in-memory Gateway. Charges are unpaid until MarkPaid.
type Fake struct {
	mu        sync.Mutex
	charges   map[string]decimal.Decimal
	paid      map[string]bool
	Transfers []Transfer

	// FailTransfers makes InitiateTransfer return a GatewayError.
	FailTransfers bool
	// FailCharges makes InitializeCharge and VerifyCharge fail.
	FailCharges bool
	// TransferStatus is reported by InitiateTransfer; default "pending".
	TransferStatus string
}

func NewFake() *Fake {
	return &Fake{charges: map[string]decimal.Decimal{}, paid: map[string]bool{}}
}

func (f *Fake) InitializeCharge(_ context.Context, c Charge) (ChargeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCharges {
		return ChargeSession{}, &domain.GatewayError{Op: "initialize charge"}
	}
	f.charges[c.Reference] = c.Amount
	return ChargeSession{
		Reference:        c.Reference,
		AuthorizationURL: "https://checkout.example.test/" + c.Reference,
	}, nil
}

func (f *Fake) MarkPaid(reference string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid[reference] = true
}

// SetAmount overrides what VerifyCharge reports as paid.
func (f *Fake) SetAmount(reference string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges[reference] = amount
}

func (f *Fake) VerifyCharge(_ context.Context, reference string) (Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCharges {
		return Verification{}, &domain.GatewayError{Op: "verify charge"}
	}
	amount, ok := f.charges[reference]
	if !ok {
		return Verification{}, &domain.GatewayError{Op: "verify charge", Err: domain.NotFound("charge", reference)}
	}
	v := Verification{Reference: reference, Amount: amount, Status: "abandoned"}
	if f.paid[reference] {
		v.Paid, v.Status = true, "success"
	}
	return v, nil
}

func (f *Fake) InitiateTransfer(_ context.Context, t Transfer) (TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTransfers {
		return TransferReceipt{}, &domain.GatewayError{Op: "initiate transfer"}
	}
	f.Transfers = append(f.Transfers, t)
	status := f.TransferStatus
	if status == "" {
		status = "pending"
	}
	recipient := t.RecipientCode
	if recipient == "" {
		recipient = "RCP_" + uuid.NewString()[:8]
	}
	return TransferReceipt{TransferCode: "TRF_" + uuid.NewString()[:8], RecipientCode: recipient, Status: status}, nil
}
