package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LowStockLimit is the upper bound (inclusive) of the "low stock" band in
// reports.
const LowStockLimit = 10

// Ledger owns products' stock counters. Every mutating call runs inside the
// caller's transaction and locks the product row first.
type Ledger struct {
	Store domain.Store
	Log   *zap.Logger
}

type Availability struct {
	Available    bool `json:"available"`
	CurrentStock int  `json:"current_stock"`
	Shortage     int  `json:"shortage"`
}

// Line is a product and a quantity to reserve or release.
type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	Qty       int       `json:"quantity"`
}

func (l *Ledger) log() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

func (l *Ledger) CheckAvailability(ctx context.Context, tx domain.Tx, productID uuid.UUID, qty int) (Availability, error) {
	if qty <= 0 {
		return Availability{}, domain.ErrInvalidQuantity
	}
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return Availability{}, err
	}
	return availability(p, qty), nil
}

func availability(p domain.Product, qty int) Availability {
	a := Availability{CurrentStock: p.StockQuantity}
	if qty > p.StockQuantity {
		a.Shortage = qty - p.StockQuantity
	}
	a.Available = p.Status == domain.ProductActive && a.Shortage == 0
	return a
}

// Reserve locks the product, re-checks stock under the lock and decrements it.
func (l *Ledger) Reserve(ctx context.Context, tx domain.Tx, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	p, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p.Status == domain.ProductInactive {
		return &domain.UnavailableError{ProductID: p.ID, Status: p.Status}
	}
	if p.StockQuantity < qty {
		return &domain.StockError{ProductID: p.ID, Requested: qty, Available: p.StockQuantity}
	}

	stock := p.StockQuantity - qty
	status := p.Status
	if stock == 0 {
		status = domain.ProductOutOfStock
	}
	if err := tx.SetProductStock(ctx, p.ID, stock, status); err != nil {
		return err
	}
	l.log().Debug("stock reserved",
		zap.String("product_id", p.ID.String()), zap.Int("qty", qty), zap.Int("stock", stock))
	return nil
}

// Release gives qty back to the product. A product that no longer exists is
// logged and skipped.
func (l *Ledger) Release(ctx context.Context, tx domain.Tx, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	p, err := tx.LockProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		l.log().Warn("release for missing product ignored",
			zap.String("product_id", productID.String()), zap.Int("qty", qty))
		return nil
	}
	if err != nil {
		return err
	}

	stock := p.StockQuantity + qty
	status := p.Status
	if status == domain.ProductOutOfStock && stock > 0 {
		status = domain.ProductActive
	}
	if err := tx.SetProductStock(ctx, p.ID, stock, status); err != nil {
		return err
	}
	l.log().Debug("stock released",
		zap.String("product_id", p.ID.String()), zap.Int("qty", qty), zap.Int("stock", stock))
	return nil
}

// ReserveMany checks every line first and reserves only if all of them fit.
// Lines for the same product are checked against their combined quantity.
// A failure mid-way leaves earlier decrements to the caller's rollback.
func (l *Ledger) ReserveMany(ctx context.Context, tx domain.Tx, lines []Line) error {
	merged := mergeLines(lines)
	for _, ln := range merged {
		a, err := l.CheckAvailability(ctx, tx, ln.ProductID, ln.Qty)
		if err != nil {
			return err
		}
		if !a.Available {
			return unavailable(ctx, tx, ln, a)
		}
	}
	for _, ln := range merged {
		if err := l.Reserve(ctx, tx, ln.ProductID, ln.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) ReleaseMany(ctx context.Context, tx domain.Tx, lines []Line) error {
	for _, ln := range mergeLines(lines) {
		if err := l.Release(ctx, tx, ln.ProductID, ln.Qty); err != nil {
			return err
		}
	}
	return nil
}

// unavailable turns a negative availability into the matching error.
func unavailable(ctx context.Context, tx domain.Tx, ln Line, a Availability) error {
	p, err := tx.GetProduct(ctx, ln.ProductID)
	if err != nil {
		return err
	}
	if p.Status == domain.ProductInactive {
		return &domain.UnavailableError{ProductID: p.ID, Status: p.Status}
	}
	return &domain.StockError{ProductID: ln.ProductID, Requested: ln.Qty, Available: a.CurrentStock}
}

// mergeLines sums quantities per product and orders lines by product id, so
// concurrent batches take row locks in the same order.
func mergeLines(lines []Line) []Line {
	index := map[uuid.UUID]int{}
	out := make([]Line, 0, len(lines))
	for _, ln := range lines {
		if i, ok := index[ln.ProductID]; ok {
			out[i].Qty += ln.Qty
			continue
		}
		index[ln.ProductID] = len(out)
		out = append(out, ln)
	}
	slices.SortFunc(out, func(a, b Line) int { return bytes.Compare(a.ProductID[:], b.ProductID[:]) })
	return out
}

// ValidateLines reports, without mutating anything, every line that could not
// be reserved right now.
func (l *Ledger) ValidateLines(ctx context.Context, tx domain.Tx, lines []Line) ([]string, error) {
	problems := []string{}
	for _, ln := range lines {
		a, err := l.CheckAvailability(ctx, tx, ln.ProductID, ln.Qty)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			problems = append(problems, fmt.Sprintf("product %s: not found", ln.ProductID))
			continue
		case errors.Is(err, domain.ErrInvalidQuantity):
			problems = append(problems, fmt.Sprintf("product %s: %v", ln.ProductID, err))
			continue
		case err != nil:
			return nil, err
		}
		if !a.Available && a.Shortage == 0 {
			problems = append(problems, fmt.Sprintf("product %s: not available for purchase", ln.ProductID))
		} else if !a.Available {
			problems = append(problems, fmt.Sprintf("product %s: insufficient stock (available: %d, requested: %d)",
				ln.ProductID, a.CurrentStock, ln.Qty))
		}
	}
	return problems, nil
}
