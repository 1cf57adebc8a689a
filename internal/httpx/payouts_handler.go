package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/gateway"
	"github.com/ariefcatur/go-marketplace-orders/internal/payouts"
	"github.com/ariefcatur/go-marketplace-orders/internal/retry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransferSink receives verified transfer callbacks: CallbackQueue.Publish in
// production, CallbackHandler.Apply when no broker is configured.
type TransferSink func(ctx context.Context, r payouts.TransferResult) error

type PayoutsHandler struct {
	Ledger        *payouts.Ledger
	Transfers     TransferSink
	WebhookSecret string
	Retry         retry.Config
	Log           *zap.Logger
}

type PayoutReq struct {
	Amount decimal.Decimal    `json:"amount"`
	Bank   domain.BankDetails `json:"bank"`
}

type BalanceResp struct {
	SellerID         uuid.UUID       `json:"seller_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
}

type BatchItem struct {
	Payout domain.SellerPayout `json:"payout"`
	Error  string              `json:"error,omitempty"`
}

func (h *PayoutsHandler) Register(r chi.Router) {
	r.Get("/payouts/balance", h.balance)
	r.Get("/payouts", h.list)
	r.Post("/payouts", h.request)
	r.Post("/payouts/process", h.processPending)
	r.Post("/payouts/{id}/process", h.process)
}

// RegisterWebhooks mounts routes that authenticate by signature instead of
// actor headers.
func (h *PayoutsHandler) RegisterWebhooks(r chi.Router) {
	r.Post("/webhooks/transfer", h.transferWebhook)
}

func (h *PayoutsHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// sellerID is the seller a request acts on: the caller itself, or for an
// admin the ?seller_id query parameter.
func sellerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor := actorFrom(r.Context())
	switch actor.Role {
	case domain.RoleSeller:
		return actor.ID, true
	case domain.RoleAdmin:
		id, err := uuid.Parse(r.URL.Query().Get("seller_id"))
		if err != nil {
			badRequest(w, "invalid seller_id")
			return uuid.Nil, false
		}
		return id, true
	}
	writeJSON(w, http.StatusForbidden, errorBody{Error: "sellers only"})
	return uuid.Nil, false
}

func adminOnly(w http.ResponseWriter, r *http.Request) bool {
	if actorFrom(r.Context()).Role != domain.RoleAdmin {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "admin only"})
		return false
	}
	return true
}

func (h *PayoutsHandler) balance(w http.ResponseWriter, r *http.Request) {
	id, ok := sellerID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Ledger.Balance(ctx, id)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResp{
		SellerID:         s.ID,
		AvailableBalance: s.AvailableBalance,
		PendingBalance:   s.PendingBalance,
		TotalPaid:        s.TotalPaid,
		TotalRevenue:     s.TotalRevenue,
	})
}

func (h *PayoutsHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	limit, offset := page(r)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	actor := actorFrom(ctx)
	if actor.Role == domain.RoleAdmin && r.URL.Query().Get("status") == string(domain.PayoutPending) {
		out, err := h.Ledger.PendingPayouts(ctx, limit)
		if err != nil {
			writeError(w, h.log(), err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	id, ok := sellerID(w, r)
	if !ok {
		return
	}
	out, err := h.Ledger.Payouts(ctx, id, limit, offset)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PayoutsHandler) request(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != domain.RoleSeller {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "sellers only"})
		return
	}
	var req PayoutReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Bank.AccountNumber == "" || req.Bank.BankCode == "" {
		badRequest(w, "bank.account_number and bank.bank_code are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var p domain.SellerPayout
	err := retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		p, err = h.Ledger.RequestPayout(ctx, actor.ID, req.Amount, req.Bank)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PayoutsHandler) process(w http.ResponseWriter, r *http.Request) {
	if !adminOnly(w, r) {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	p, err := h.Ledger.ProcessPayout(ctx, id)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PayoutsHandler) processPending(w http.ResponseWriter, r *http.Request) {
	if !adminOnly(w, r) {
		return
	}
	limit, _ := page(r)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	res, err := h.Ledger.ProcessPending(ctx, limit)
	out := make([]BatchItem, 0, len(res))
	for _, b := range res {
		item := BatchItem{Payout: b.Payout}
		if b.Err != nil {
			item.Error = b.Err.Error()
		}
		out = append(out, item)
	}
	if err != nil {
		h.log().Warn("payout batch interrupted", zap.Int("done", len(out)), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, out)
}

// transferWebhook acks the gateway quickly; settlement happens in the sink.
func (h *PayoutsHandler) transferWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	if !gateway.VerifySignature(h.WebhookSecret, body, r.Header.Get(gateway.HeaderSignature)) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "bad signature"})
		return
	}
	ev, err := gateway.ParseTransferEvent(body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res := payouts.TransferResult{Reference: ev.Reference, Status: ev.Status, FailureReason: ev.Reason}
	if err := h.Transfers(ctx, res); err != nil {
		h.log().Error("forward transfer callback", zap.String("reference", ev.Reference), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "try again"})
		return
	}
	w.WriteHeader(http.StatusOK)
}
