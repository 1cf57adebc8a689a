package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	Stock *inventory.Ledger
	Log   *zap.Logger
}

type ValidateReq struct {
	Items []inventory.Line `json:"items"`
}

type ValidateResp struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/inventory/low-stock", h.lowStock)
	r.Get("/inventory/report", h.report)
	r.Post("/inventory/validate", h.validate)
	r.Get("/products/{id}/availability", h.availability)
}

func (h *InventoryHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// scope is the seller a stock query is limited to. Sellers always see their
// own products; admins may pass ?seller_id or see everything.
func scope(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	actor := actorFrom(r.Context())
	switch actor.Role {
	case domain.RoleSeller:
		id := actor.ID
		return &id, true
	case domain.RoleAdmin:
		s := r.URL.Query().Get("seller_id")
		if s == "" {
			return nil, true
		}
		id, err := uuid.Parse(s)
		if err != nil {
			badRequest(w, "invalid seller_id")
			return nil, false
		}
		return &id, true
	}
	writeJSON(w, http.StatusForbidden, errorBody{Error: "sellers and admins only"})
	return nil, false
}

func (h *InventoryHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	seller, ok := scope(w, r)
	if !ok {
		return
	}
	threshold := inventory.LowStockLimit
	if s := r.URL.Query().Get("threshold"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(w, "invalid threshold")
			return
		}
		threshold = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Stock.LowStock(ctx, threshold, seller)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *InventoryHandler) report(w http.ResponseWriter, r *http.Request) {
	seller, ok := scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rep, err := h.Stock.Report(ctx, seller)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *InventoryHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var problems []string
	err := h.Stock.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		problems, err = h.Stock.ValidateLines(ctx, tx, req.Items)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResp{Valid: len(problems) == 0, Problems: problems})
}

func (h *InventoryHandler) availability(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	qty := 1
	if s := r.URL.Query().Get("qty"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			badRequest(w, "invalid qty")
			return
		}
		qty = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var a inventory.Availability
	err := h.Stock.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		a, err = h.Stock.CheckAvailability(ctx, tx, id, qty)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
