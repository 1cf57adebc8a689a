package inventory

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StockReport struct {
	TotalProducts     int             `json:"total_products"`
	TotalUnits        int             `json:"total_stock_units"`
	OutOfStock        int             `json:"out_of_stock_count"`
	LowStock          int             `json:"low_stock_count"`
	AveragePerProduct decimal.Decimal `json:"average_stock_per_product"`
}

// LowStock lists products at or below threshold, optionally for one seller.
func (l *Ledger) LowStock(ctx context.Context, threshold int, sellerID *uuid.UUID) ([]domain.Product, error) {
	var out []domain.Product
	err := l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.ListProducts(ctx, domain.ProductFilter{SellerID: sellerID, MaxStock: &threshold})
		return err
	})
	return out, err
}

func (l *Ledger) Report(ctx context.Context, sellerID *uuid.UUID) (StockReport, error) {
	var products []domain.Product
	err := l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		products, err = tx.ListProducts(ctx, domain.ProductFilter{SellerID: sellerID})
		return err
	})
	if err != nil {
		return StockReport{}, err
	}

	r := StockReport{TotalProducts: len(products), AveragePerProduct: decimal.Zero}
	for _, p := range products {
		r.TotalUnits += p.StockQuantity
		switch {
		case p.StockQuantity == 0:
			r.OutOfStock++
		case p.StockQuantity <= LowStockLimit:
			r.LowStock++
		}
	}
	if r.TotalProducts > 0 {
		r.AveragePerProduct = decimal.NewFromInt(int64(r.TotalUnits)).
			Div(decimal.NewFromInt(int64(r.TotalProducts))).Round(2)
	}
	return r, nil
}
