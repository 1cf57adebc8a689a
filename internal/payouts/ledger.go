// Package payouts owns seller balances. UpdateBalance (driven by order status
// changes) and the payout operations are the only writers of the balance
// fields.
package payouts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/gateway"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-marketplace-orders/internal/payouts")

// recordTimeout bounds the transaction that records a transfer outcome.
const recordTimeout = 10 * time.Second

type Ledger struct {
	Store   domain.Store
	Gateway gateway.Gateway
	Tasks   tasks.Enqueuer
	Fees    domain.FeePolicy
	Log     *zap.Logger
}

func (l *Ledger) log() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

// Earnings is computed fresh from the order's current items.
func (l *Ledger) Earnings(ctx context.Context, tx domain.Tx, sellerID, orderID uuid.UUID) (domain.Earnings, error) {
	items, err := tx.ListItems(ctx, orderID)
	if err != nil {
		return domain.Earnings{}, err
	}
	return domain.ComputeEarnings(items, sellerID, l.Fees), nil
}

// UpdateBalance moves the seller's money for one order when the seller's
// derived status for it goes from -> to. It runs in the caller's transaction.
func (l *Ledger) UpdateBalance(ctx context.Context, tx domain.Tx, sellerID, orderID uuid.UUID, from, to domain.ItemStatus) error {
	if from == to {
		return nil
	}
	var (
		credit  = to == domain.ItemProcessing && (from == domain.ItemPending || from == domain.ItemPaid)
		settle  = to == domain.ItemDelivered
		reverse = to == domain.ItemCancelled && (from == domain.ItemProcessing || from == domain.ItemShipped)
	)
	if !credit && !settle && !reverse {
		return nil
	}

	e, err := l.Earnings(ctx, tx, sellerID, orderID)
	if err != nil {
		return err
	}
	s, err := tx.LockSeller(ctx, sellerID)
	if err != nil {
		return err
	}

	switch {
	case credit:
		s.PendingBalance = s.PendingBalance.Add(e.Net)
	case settle:
		s.PendingBalance = l.drainPending(s, e.Net, orderID)
		s.AvailableBalance = s.AvailableBalance.Add(e.Net)
		s.TotalRevenue = s.TotalRevenue.Add(e.Gross)
	case reverse:
		s.PendingBalance = l.drainPending(s, e.Net, orderID)
	}
	s.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateSeller(ctx, s); err != nil {
		return err
	}
	l.log().Info("seller balance updated",
		zap.String("seller_id", sellerID.String()), zap.String("order_id", orderID.String()),
		zap.String("from", string(from)), zap.String("to", string(to)),
		zap.String("net", e.Net.StringFixed(2)),
		zap.String("pending", s.PendingBalance.StringFixed(2)),
		zap.String("available", s.AvailableBalance.StringFixed(2)))
	return nil
}

// drainPending subtracts net from the pending balance, never below zero.
func (l *Ledger) drainPending(s domain.SellerProfile, net decimal.Decimal, orderID uuid.UUID) decimal.Decimal {
	left := s.PendingBalance.Sub(net)
	if left.IsNegative() {
		l.log().Warn("pending balance would go negative, clamped",
			zap.String("seller_id", s.ID.String()), zap.String("order_id", orderID.String()),
			zap.String("pending", s.PendingBalance.StringFixed(2)), zap.String("net", net.StringFixed(2)))
		return decimal.Zero
	}
	return left
}

func (l *Ledger) Balance(ctx context.Context, sellerID uuid.UUID) (domain.SellerProfile, error) {
	var s domain.SellerProfile
	err := l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		s, err = tx.GetSeller(ctx, sellerID)
		return err
	})
	return s, err
}

// NewTransferReference returns PAYOUT_ followed by 12 upper-case hex digits.
func NewTransferReference() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "PAYOUT_" + strings.ToUpper(hex[:12])
}

// RequestPayout records a pending payout. Balance moves when it is processed.
func (l *Ledger) RequestPayout(ctx context.Context, sellerID uuid.UUID, amount decimal.Decimal, bank domain.BankDetails) (domain.SellerPayout, error) {
	if !amount.IsPositive() {
		return domain.SellerPayout{}, domain.ErrInvalidAmount
	}
	var p domain.SellerPayout
	err := l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.LockSeller(ctx, sellerID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(s.AvailableBalance) {
			return &domain.BalanceError{SellerID: sellerID, Requested: amount, Available: s.AvailableBalance}
		}
		fee, net := l.Fees.Split(amount)
		p = domain.SellerPayout{
			ID:                uuid.New(),
			SellerID:          sellerID,
			Amount:            amount,
			PlatformFee:       fee,
			NetAmount:         net,
			Status:            domain.PayoutPending,
			Bank:              bank,
			TransferReference: NewTransferReference(),
			CreatedAt:         time.Now().UTC(),
		}
		return tx.InsertPayout(ctx, &p)
	})
	if err != nil {
		return domain.SellerPayout{}, err
	}
	l.log().Info("payout requested",
		zap.String("payout_id", p.ID.String()), zap.String("seller_id", sellerID.String()),
		zap.String("amount", amount.StringFixed(2)), zap.String("reference", p.TransferReference))
	tasks.Send(ctx, l.Tasks, l.log(), tasks.New(sellerID, tasks.EventPayoutRequested, payoutNotice(p)))
	return p, nil
}

// ProcessPayout debits the seller and asks the gateway for the transfer. The
// gateway call happens between two transactions so no row lock is held while
// waiting on the network. A rejected transfer fails the payout and refunds it.
func (l *Ledger) ProcessPayout(ctx context.Context, payoutID uuid.UUID) (domain.SellerPayout, error) {
	ctx, span := tracer.Start(ctx, "payouts.ProcessPayout")
	defer span.End()
	span.SetAttributes(attribute.String("payout.id", payoutID.String()))

	var (
		p      domain.SellerPayout
		seller domain.SellerProfile
	)
	err := l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if p, err = tx.LockPayout(ctx, payoutID); err != nil {
			return err
		}
		if p.Status != domain.PayoutPending {
			return domain.ErrPayoutSettled
		}
		if seller, err = tx.LockSeller(ctx, p.SellerID); err != nil {
			return err
		}
		if p.Amount.GreaterThan(seller.AvailableBalance) {
			return &domain.BalanceError{SellerID: seller.ID, Requested: p.Amount, Available: seller.AvailableBalance}
		}
		seller.AvailableBalance = seller.AvailableBalance.Sub(p.Amount)
		seller.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateSeller(ctx, seller); err != nil {
			return err
		}
		p.Status = domain.PayoutProcessing
		return tx.UpdatePayout(ctx, p)
	})
	if err != nil {
		return domain.SellerPayout{}, err
	}

	receipt, gwErr := l.Gateway.InitiateTransfer(ctx, gateway.Transfer{
		Reference:     p.TransferReference,
		Amount:        p.NetAmount,
		RecipientCode: seller.PayoutRecipientCode,
		AccountName:   seller.BusinessName,
		Bank:          p.Bank,
		Reason:        "Seller payout",
	})

	// The debit above is committed; the outcome must be recorded even when the
	// caller's context ended during the gateway call.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var followUp *tasks.Task
	err = l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cur, err := tx.LockPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if cur.Status != domain.PayoutProcessing {
			// a callback already settled it
			p = cur
			return nil
		}
		if gwErr != nil {
			if err := l.settle(ctx, tx, &cur, false, gwErr.Error()); err != nil {
				return err
			}
			p = cur
			t := tasks.New(cur.SellerID, tasks.EventPayoutFailed, payoutNotice(cur))
			followUp = &t
			return nil
		}

		cur.GatewayTransferCode = receipt.TransferCode
		if receipt.RecipientCode != "" && receipt.RecipientCode != seller.PayoutRecipientCode {
			s, err := tx.LockSeller(ctx, cur.SellerID)
			if err != nil {
				return err
			}
			s.PayoutRecipientCode = receipt.RecipientCode
			if err := tx.UpdateSeller(ctx, s); err != nil {
				return err
			}
		}
		switch receipt.Status {
		case "success":
			err = l.settle(ctx, tx, &cur, true, "")
			t := tasks.New(cur.SellerID, tasks.EventPayoutCompleted, payoutNotice(cur))
			followUp = &t
		case "failed", "reversed":
			err = l.settle(ctx, tx, &cur, false, "transfer "+receipt.Status)
			t := tasks.New(cur.SellerID, tasks.EventPayoutFailed, payoutNotice(cur))
			followUp = &t
		default:
			err = tx.UpdatePayout(ctx, cur)
		}
		p = cur
		return err
	})
	if err != nil {
		return domain.SellerPayout{}, err
	}
	if followUp != nil {
		tasks.Send(ctx, l.Tasks, l.log(), *followUp)
	}
	if gwErr != nil {
		span.RecordError(gwErr)
		l.log().Warn("payout transfer rejected",
			zap.String("payout_id", p.ID.String()), zap.Error(gwErr))
		return p, gwErr
	}
	l.log().Info("payout transfer initiated",
		zap.String("payout_id", p.ID.String()), zap.String("status", string(p.Status)),
		zap.String("transfer_code", p.GatewayTransferCode))
	return p, nil
}

// TransferOutcome is the gateway's final word on a transfer.
type TransferOutcome struct {
	Success       bool
	FailureReason string
	// Reversed marks money that came back after the transfer had completed.
	Reversed bool
}

// SettlePayout applies an asynchronous transfer result. A reversal of a
// completed payout refunds the seller; settling any other terminal payout
// returns ErrPayoutSettled.
func (l *Ledger) SettlePayout(ctx context.Context, reference string, out TransferOutcome) (domain.SellerPayout, error) {
	var p domain.SellerPayout
	err := l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if p, err = tx.LockPayoutByReference(ctx, reference); err != nil {
			return err
		}
		if p.Status == domain.PayoutCompleted && out.Reversed {
			return l.reverse(ctx, tx, &p, out.FailureReason)
		}
		if p.Status.Terminal() {
			return domain.ErrPayoutSettled
		}
		return l.settle(ctx, tx, &p, out.Success, out.FailureReason)
	})
	if err != nil {
		return domain.SellerPayout{}, err
	}

	event := tasks.EventPayoutCompleted
	if !out.Success {
		event = tasks.EventPayoutFailed
	}
	l.log().Info("payout settled",
		zap.String("payout_id", p.ID.String()), zap.String("reference", reference),
		zap.String("status", string(p.Status)), zap.String("failure_reason", p.FailureReason))
	tasks.Send(ctx, l.Tasks, l.log(), tasks.New(p.SellerID, event, payoutNotice(p)))
	return p, nil
}

// settle finishes a non-terminal payout. Success pays out the net amount (and
// debits the seller if that did not happen at initiation); failure refunds
// the amount if it had been debited.
func (l *Ledger) settle(ctx context.Context, tx domain.Tx, p *domain.SellerPayout, success bool, reason string) error {
	s, err := tx.LockSeller(ctx, p.SellerID)
	if err != nil {
		return err
	}
	debited := p.Status == domain.PayoutProcessing
	now := time.Now().UTC()

	if success {
		if !debited {
			if p.Amount.GreaterThan(s.AvailableBalance) {
				return &domain.BalanceError{SellerID: s.ID, Requested: p.Amount, Available: s.AvailableBalance}
			}
			s.AvailableBalance = s.AvailableBalance.Sub(p.Amount)
		}
		s.TotalPaid = s.TotalPaid.Add(p.NetAmount)
		p.Status = domain.PayoutCompleted
		p.FailureReason = ""
	} else {
		if debited {
			s.AvailableBalance = s.AvailableBalance.Add(p.Amount)
		}
		if reason == "" {
			reason = "transfer failed"
		}
		p.Status = domain.PayoutFailed
		p.FailureReason = reason
	}
	p.ProcessedAt = &now
	s.UpdatedAt = now
	if err := tx.UpdateSeller(ctx, s); err != nil {
		return err
	}
	return tx.UpdatePayout(ctx, *p)
}

// reverse undoes a completed payout whose transfer bounced: the amount goes
// back to available and total_paid drops by the net that was paid.
func (l *Ledger) reverse(ctx context.Context, tx domain.Tx, p *domain.SellerPayout, reason string) error {
	s, err := tx.LockSeller(ctx, p.SellerID)
	if err != nil {
		return err
	}
	s.TotalPaid = s.TotalPaid.Sub(p.NetAmount)
	if s.TotalPaid.IsNegative() {
		l.log().Warn("total paid would go negative, clamped",
			zap.String("payout_id", p.ID.String()), zap.String("seller_id", s.ID.String()))
		s.TotalPaid = decimal.Zero
	}
	s.AvailableBalance = s.AvailableBalance.Add(p.Amount)

	now := time.Now().UTC()
	if reason == "" {
		reason = "transfer reversed"
	}
	p.Status = domain.PayoutFailed
	p.FailureReason = reason
	p.ProcessedAt = &now
	s.UpdatedAt = now
	if err := tx.UpdateSeller(ctx, s); err != nil {
		return err
	}
	return tx.UpdatePayout(ctx, *p)
}

func (l *Ledger) Payouts(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]domain.SellerPayout, error) {
	return l.list(ctx, domain.PayoutFilter{SellerID: &sellerID, Limit: limit, Offset: offset})
}

func (l *Ledger) PendingPayouts(ctx context.Context, limit int) ([]domain.SellerPayout, error) {
	st := domain.PayoutPending
	return l.list(ctx, domain.PayoutFilter{Status: &st, Limit: limit})
}

func (l *Ledger) list(ctx context.Context, f domain.PayoutFilter) ([]domain.SellerPayout, error) {
	var out []domain.SellerPayout
	err := l.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.ListPayouts(ctx, f)
		return err
	})
	return out, err
}

// BatchResult is one payout's outcome in ProcessPending.
type BatchResult struct {
	Payout domain.SellerPayout
	Err    error
}

// ProcessPending processes up to limit pending payouts, newest first,
// and reports each one. It stops early only when ctx is done.
func (l *Ledger) ProcessPending(ctx context.Context, limit int) ([]BatchResult, error) {
	pending, err := l.PendingPayouts(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]BatchResult, 0, len(pending))
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		done, err := l.ProcessPayout(ctx, p.ID)
		if errors.Is(err, domain.ErrPayoutSettled) {
			continue
		}
		if done.ID == uuid.Nil {
			done = p
		}
		out = append(out, BatchResult{Payout: done, Err: err})
	}
	return out, nil
}

type notice struct {
	PayoutID      uuid.UUID           `json:"payout_id"`
	Reference     string              `json:"reference"`
	Amount        decimal.Decimal     `json:"amount"`
	NetAmount     decimal.Decimal     `json:"net_amount"`
	Status        domain.PayoutStatus `json:"status"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

func payoutNotice(p domain.SellerPayout) notice {
	return notice{
		PayoutID:      p.ID,
		Reference:     p.TransferReference,
		Amount:        p.Amount,
		NetAmount:     p.NetAmount,
		Status:        p.Status,
		FailureReason: p.FailureReason,
	}
}
