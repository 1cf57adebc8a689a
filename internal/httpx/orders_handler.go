package httpx

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/retry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"net/http"
	"time"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Orders  *orders.Manager
	Machine *orders.StatusMachine
	Redis   *redis.Client
	Retry   retry.Config
	Log     *zap.Logger
}

type ItemReq struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type QuantityReq struct {
	Quantity int `json:"quantity"`
}

type StatusReq struct {
	Status string `json:"status"`
}

type BulkStatusReq struct {
	OrderIDs []uuid.UUID `json:"order_ids"`
	Status   string      `json:"status"`
}

type CheckoutReq struct {
	AddressID uuid.UUID `json:"address_id"`
	Email     string    `json:"email"`
}

type PlaceResp struct {
	Order      orders.OrderView `json:"order"`
	Idempotent bool             `json:"idempotent"`
}

type DeleteItemResp struct {
	Order        *orders.OrderView `json:"order,omitempty"`
	OrderDeleted bool              `json:"order_deleted"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Post("/orders/place", h.placeItem)
	r.Get("/orders", h.listOrders)
	r.Post("/orders/status", h.bulkStatus)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Post("/orders/{id}/items", h.addItem)
	r.Patch("/orders/{id}/items/{itemID}", h.updateItem)
	r.Delete("/orders/{id}/items/{itemID}", h.deleteItem)
	r.Get("/orders/{id}/sellers/{sellerID}", h.sellerView)
	r.Patch("/orders/{id}/sellers/{sellerID}/status", h.updateSellerStatus)

	r.Get("/checkout", h.checkoutSummary)
	r.Post("/checkout", h.checkout)
	r.Post("/payments/{reference}/verify", h.verifyPayment)
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *OrdersHandler) cache(ctx context.Context, v orders.OrderView) {
	redisx.CacheOrderStatus(ctx, h.Redis, redisx.StatusEntry{
		OrderID:   v.ID.String(),
		BuyerID:   v.BuyerID.String(),
		Status:    string(v.Status),
		UpdatedAt: v.UpdatedAt,
	})
}

// editable checks the actor may change the order's items: the buyer who owns
// it, or an admin.
func (h *OrdersHandler) editable(ctx context.Context, actor domain.Actor, orderID uuid.UUID) error {
	v, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleCustomer:
		if v.BuyerID == actor.ID {
			return nil
		}
	}
	return domain.Forbidden("only the buyer can change this order")
}

func customerOnly(w http.ResponseWriter, actor domain.Actor) bool {
	if actor.Role != domain.RoleCustomer {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "only customers can place orders"})
		return false
	}
	return true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !customerOnly(w, actor) {
		return
	}
	var req ItemReq
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var v orders.OrderView
	err := retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		v, err = h.Orders.CreateOrder(ctx, actor.ID, req.ProductID, req.Quantity)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cache(ctx, v)
	writeJSON(w, http.StatusCreated, v)
}

// placeItem adds to the buyer's cart. A repeated Idempotency-Key returns the
// order created the first time instead of adding the item again.
func (h *OrdersHandler) placeItem(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !customerOnly(w, actor) {
		return
	}
	var req ItemReq
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis (DB tetap jadi kebenaran)
	key := r.Header.Get(HeaderIdempotencyKey)
	if id, ok := redisx.PlacedOrder(ctx, h.Redis, actor.ID.String(), key); ok {
		if orderID, err := uuid.Parse(id); err == nil {
			if v, err := h.Orders.GetOrderFor(ctx, actor, orderID); err == nil {
				writeJSON(w, http.StatusOK, PlaceResp{Order: v, Idempotent: true})
				return
			}
		}
	}

	var v orders.OrderView
	err := retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		v, err = h.Orders.PlaceItem(ctx, actor.ID, req.ProductID, req.Quantity)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	redisx.RememberPlacement(ctx, h.Redis, actor.ID.String(), key, v.ID.String())
	h.cache(ctx, v)
	writeJSON(w, http.StatusOK, PlaceResp{Order: v})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	var f domain.OrderFilter
	f.Limit, f.Offset = page(r)

	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseOrderStatus(s)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		f.Status = &st
	}
	if actor.Role == domain.RoleAdmin {
		if s := q.Get("buyer_id"); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				badRequest(w, "invalid buyer_id")
				return
			}
			f.BuyerID = &id
		}
		if s := q.Get("seller_id"); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				badRequest(w, "invalid seller_id")
				return
			}
			f.SellerID = &id
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Orders.ListOrders(ctx, actor, f)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Orders.GetOrderFor(ctx, actorFrom(ctx), orderID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	actor := actorFrom(ctx)

	// 1) coba cache
	if e, ok := redisx.CachedOrderStatus(ctx, h.Redis, orderID.String()); ok {
		if actor.Role == domain.RoleAdmin || (actor.Role == domain.RoleCustomer && e.BuyerID == actor.ID.String()) {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	// 2) fallback DB
	v, err := h.Orders.GetOrderFor(ctx, actor, orderID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cache(ctx, v)
	writeJSON(w, http.StatusOK, redisx.StatusEntry{
		OrderID: v.ID.String(), BuyerID: v.BuyerID.String(), Status: string(v.Status), UpdatedAt: v.UpdatedAt,
	})
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.editable(ctx, actorFrom(ctx), orderID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	err := retry.Do(ctx, h.Retry, func(ctx context.Context) error {
		return h.Orders.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	redisx.DropOrderStatus(ctx, h.Redis, orderID.String())
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req ItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.editable(ctx, actorFrom(ctx), orderID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	var v orders.OrderView
	err := retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		v, err = h.Orders.AddOrUpdateItem(ctx, orderID, req.ProductID, req.Quantity)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := uuidParam(w, r, "itemID")
	if !ok {
		return
	}
	var req QuantityReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.editable(ctx, actorFrom(ctx), orderID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	var v orders.OrderView
	err := retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		v, err = h.Orders.UpdateItemQuantity(ctx, orderID, itemID, req.Quantity)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := uuidParam(w, r, "itemID")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.editable(ctx, actorFrom(ctx), orderID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	var (
		v       orders.OrderView
		deleted bool
	)
	err := retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		v, deleted, err = h.Orders.DeleteItem(ctx, orderID, itemID)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	if deleted {
		redisx.DropOrderStatus(ctx, h.Redis, orderID.String())
		writeJSON(w, http.StatusOK, DeleteItemResp{OrderDeleted: true})
		return
	}
	writeJSON(w, http.StatusOK, DeleteItemResp{Order: &v})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req StatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := domain.ParseItemStatus(req.Status)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	actor := actorFrom(ctx)
	var tr orders.Transition
	err = retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		tr, err = h.Machine.UpdateOrderStatus(ctx, actor, orderID, to)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cache(ctx, tr.Order)
	writeJSON(w, http.StatusOK, tr)
}

func (h *OrdersHandler) updateSellerStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	sellerID, ok := uuidParam(w, r, "sellerID")
	if !ok {
		return
	}
	var req StatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := domain.ParseItemStatus(req.Status)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	actor := actorFrom(ctx)
	var tr orders.Transition
	err = retry.Do(ctx, h.Retry, func(ctx context.Context) (err error) {
		tr, err = h.Machine.UpdateSellerItemsStatus(ctx, actor, orderID, sellerID, to)
		return err
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cache(ctx, tr.Order)
	writeJSON(w, http.StatusOK, tr)
}

func (h *OrdersHandler) bulkStatus(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != domain.RoleAdmin {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "bulk updates are admin only"})
		return
	}
	var req BulkStatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.OrderIDs) == 0 {
		badRequest(w, "order_ids is empty")
		return
	}
	to, err := domain.ParseItemStatus(req.Status)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	out := h.Machine.BulkUpdateOrderStatus(ctx, actor, req.OrderIDs, to)
	for _, res := range out {
		if res.Err == nil {
			redisx.DropOrderStatus(ctx, h.Redis, res.OrderID.String())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) sellerView(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	sellerID, ok := uuidParam(w, r, "sellerID")
	if !ok {
		return
	}
	actor := actorFrom(r.Context())
	if actor.Role != domain.RoleAdmin && !(actor.Role == domain.RoleSeller && actor.ID == sellerID) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden: not this seller"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Orders.SellerView(ctx, orderID, sellerID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) checkoutSummary(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !customerOnly(w, actor) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Orders.Summary(ctx, actor.ID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !customerOnly(w, actor) {
		return
	}
	var req CheckoutReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AddressID == uuid.Nil || req.Email == "" {
		badRequest(w, "address_id and email are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	res, err := h.Orders.Checkout(ctx, actor.ID, req.AddressID, req.Email)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// verifyPayment is hit by the buyer's redirect after paying; it is safe to
// call more than once.
func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	if ref == "" {
		badRequest(w, "missing reference")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	v, err := h.Orders.VerifyPayment(ctx, ref)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	if err := canView(actorFrom(ctx), v); err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cache(ctx, v)
	writeJSON(w, http.StatusOK, v)
}

func canView(actor domain.Actor, v orders.OrderView) error {
	if actor.Role == domain.RoleAdmin || v.BuyerID == actor.ID {
		return nil
	}
	return domain.Forbidden("order belongs to another buyer")
}
