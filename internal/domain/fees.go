package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultFeeRate is the share of gross item revenue the marketplace keeps.
var DefaultFeeRate = decimal.RequireFromString("0.05")

type FeePolicy struct {
	Rate decimal.Decimal
}

func (p FeePolicy) rate() decimal.Decimal {
	if p.Rate.IsZero() {
		return DefaultFeeRate
	}
	return p.Rate
}

// Split returns the platform fee (rounded to cents) and the remainder.
func (p FeePolicy) Split(gross decimal.Decimal) (fee, net decimal.Decimal) {
	fee = gross.Mul(p.rate()).Round(2)
	return fee, gross.Sub(fee)
}

type Earnings struct {
	Gross       decimal.Decimal `json:"gross"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Net         decimal.Decimal `json:"net"`
	ItemCount   int             `json:"item_count"`
}

// ComputeEarnings sums sellerID's lines in items and applies the fee policy.
func ComputeEarnings(items []OrderItem, sellerID uuid.UUID, p FeePolicy) Earnings {
	e := Earnings{Gross: decimal.Zero}
	for _, it := range items {
		if it.SellerID != sellerID {
			continue
		}
		e.Gross = e.Gross.Add(it.Subtotal())
		e.ItemCount++
	}
	e.PlatformFee, e.Net = p.Split(e.Gross)
	return e
}
