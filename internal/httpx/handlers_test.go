package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/gateway"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payouts"
	"github.com/ariefcatur/go-marketplace-orders/internal/retry"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const webhookSecret = "sk_test_webhook"

type api struct {
	t         *testing.T
	router    http.Handler
	store     *memstore.Store
	gw        *gateway.Fake
	transfers []payouts.TransferResult
	sinkErr   error
}

func newAPI(t *testing.T) *api {
	t.Helper()
	a := &api{t: t, store: memstore.New(), gw: gateway.NewFake()}
	log := zap.NewNop()
	rec := &tasks.Recorder{}
	stock := &inventory.Ledger{Store: a.store, Log: log}
	ledger := &payouts.Ledger{Store: a.store, Gateway: a.gw, Tasks: rec, Log: log}
	machine := &orders.StatusMachine{Store: a.store, Stock: stock, Balances: ledger, Tasks: rec, Log: log}
	mgr := &orders.Manager{Store: a.store, Stock: stock, Machine: machine, Gateway: a.gw, Tasks: rec,
		ShippingFee: decimal.NewFromInt(1500), Log: log}
	rc := retry.Config{MaxAttempts: 1}

	ph := &PayoutsHandler{
		Ledger: ledger,
		Transfers: func(_ context.Context, r payouts.TransferResult) error {
			if a.sinkErr != nil {
				return a.sinkErr
			}
			a.transfers = append(a.transfers, r)
			return nil
		},
		WebhookSecret: webhookSecret,
		Retry:         rc,
		Log:           log,
	}
	r := NewRouter(log)
	ph.RegisterWebhooks(r)
	r.Group(func(r chi.Router) {
		r.Use(RequireActor)
		(&OrdersHandler{Orders: mgr, Machine: machine, Retry: rc, Log: log}).Register(r)
		ph.Register(r)
		(&InventoryHandler{Stock: stock, Log: log}).Register(r)
	})
	a.router = r
	return a
}

func (a *api) seller(available string) uuid.UUID {
	id := uuid.New()
	a.store.PutSeller(domain.SellerProfile{ID: id, BusinessName: "shop", AvailableBalance: decimal.RequireFromString(available)})
	return id
}

func (a *api) product(seller uuid.UUID, price string, stock int) uuid.UUID {
	id := uuid.New()
	a.store.PutProduct(domain.Product{ID: id, SellerID: seller, Name: "item", Price: decimal.RequireFromString(price), StockQuantity: stock})
	return id
}

func (a *api) do(method, path string, actor *domain.Actor, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(HeaderActorID, actor.ID.String())
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func as(id uuid.UUID, role domain.Role) *domain.Actor { return &domain.Actor{ID: id, Role: role} }

func TestRequireActor(t *testing.T) {
	a := newAPI(t)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/orders", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/orders", as(uuid.Nil, domain.RoleSystem), nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/orders", as(uuid.New(), "guest"), nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/orders", as(uuid.New(), domain.RoleCustomer), nil).Code)
}

func TestPlaceAndReadOrder(t *testing.T) {
	a := newAPI(t)
	p := a.product(a.seller("0"), "100.00", 3)
	buyer := as(uuid.New(), domain.RoleCustomer)

	w := a.do(http.MethodPost, "/orders/place", buyer, ItemReq{ProductID: p, Quantity: 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	placed := decode[PlaceResp](t, w)
	assert.False(t, placed.Idempotent)
	assert.Equal(t, "200.00", placed.Order.TotalAmount.StringFixed(2))

	path := "/orders/" + placed.Order.ID.String()
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, path, buyer, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, path, as(uuid.New(), domain.RoleAdmin), nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, path, as(uuid.New(), domain.RoleCustomer), nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/orders/"+uuid.NewString(), buyer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/orders/not-a-uuid", buyer, nil).Code)

	w = a.do(http.MethodGet, path+"/status", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[map[string]any](t, w)
	assert.Equal(t, "pending", st["status"])
	assert.Equal(t, buyer.ID.String(), st["buyer_id"])

	list := decode[[]orders.OrderView](t, a.do(http.MethodGet, "/orders?status=pending", buyer, nil))
	assert.Len(t, list, 1)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/orders?status=bogus", buyer, nil).Code)
}

func TestPlaceErrors(t *testing.T) {
	a := newAPI(t)
	p := a.product(a.seller("0"), "10.00", 2)
	buyer := as(uuid.New(), domain.RoleCustomer)

	w := a.do(http.MethodPost, "/orders/place", buyer, ItemReq{ProductID: p, Quantity: 3})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[map[string]any](t, w)
	details := body["details"].(map[string]any)
	assert.EqualValues(t, 1, details["shortage"])
	assert.EqualValues(t, 2, details["available"])

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/orders/place", buyer, ItemReq{ProductID: p}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/orders/place", buyer, "{").Code)
	assert.Equal(t, http.StatusForbidden,
		a.do(http.MethodPost, "/orders/place", as(uuid.New(), domain.RoleSeller), ItemReq{ProductID: p, Quantity: 1}).Code)

	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/orders", buyer, ItemReq{ProductID: p, Quantity: 1}).Code)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/orders", buyer, ItemReq{ProductID: p, Quantity: 1}).Code)
}

func TestItemEndpoints(t *testing.T) {
	a := newAPI(t)
	s := a.seller("0")
	p1, p2 := a.product(s, "5.00", 10), a.product(s, "7.00", 10)
	buyer := as(uuid.New(), domain.RoleCustomer)

	w := a.do(http.MethodPost, "/orders", buyer, ItemReq{ProductID: p1, Quantity: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	o := decode[orders.OrderView](t, w)
	base := "/orders/" + o.ID.String()

	w = a.do(http.MethodPost, base+"/items", buyer, ItemReq{ProductID: p2, Quantity: 2})
	require.Equal(t, http.StatusOK, w.Code)
	o = decode[orders.OrderView](t, w)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "19.00", o.TotalAmount.StringFixed(2))

	assert.Equal(t, http.StatusForbidden,
		a.do(http.MethodPost, base+"/items", as(uuid.New(), domain.RoleCustomer), ItemReq{ProductID: p2, Quantity: 1}).Code)

	w = a.do(http.MethodPatch, base+"/items/"+o.Items[1].ID.String(), buyer, QuantityReq{Quantity: 4})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "33.00", decode[orders.OrderView](t, w).TotalAmount.StringFixed(2))

	w = a.do(http.MethodDelete, base+"/items/"+o.Items[0].ID.String(), buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	del := decode[DeleteItemResp](t, w)
	assert.False(t, del.OrderDeleted)
	require.NotNil(t, del.Order)

	w = a.do(http.MethodDelete, base+"/items/"+o.Items[1].ID.String(), buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[DeleteItemResp](t, w).OrderDeleted)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, base, buyer, nil).Code)
}

func TestStatusEndpoints(t *testing.T) {
	a := newAPI(t)
	s := a.seller("0")
	p := a.product(s, "10.00", 5)
	buyer := as(uuid.New(), domain.RoleCustomer)
	admin := as(uuid.New(), domain.RoleAdmin)

	o := decode[orders.OrderView](t, a.do(http.MethodPost, "/orders", buyer, ItemReq{ProductID: p, Quantity: 1}))
	base := "/orders/" + o.ID.String()

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPatch, base+"/status", admin, StatusReq{Status: "teleported"}).Code)

	w := a.do(http.MethodPatch, base+"/status", admin, StatusReq{Status: "shipped"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	details := decode[map[string]any](t, w)["details"].(map[string]any)
	assert.Equal(t, []any{"processing", "cancelled"}, details["allowed"])

	w = a.do(http.MethodPatch, base+"/status", admin, StatusReq{Status: "processing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.OrderProcessing, decode[orders.Transition](t, w).To)

	sellerPath := fmt.Sprintf("%s/sellers/%s", base, s)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, sellerPath, as(uuid.New(), domain.RoleSeller), nil).Code)
	w = a.do(http.MethodGet, sellerPath, as(s, domain.RoleSeller), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ItemProcessing, decode[orders.SellerOrderView](t, w).Status)

	w = a.do(http.MethodPatch, sellerPath+"/status", as(s, domain.RoleSeller), StatusReq{Status: "shipped"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.OrderShipped, decode[orders.Transition](t, w).To)

	assert.Equal(t, http.StatusUnprocessableEntity,
		a.do(http.MethodPatch, base+"/status", buyer, StatusReq{Status: "cancelled"}).Code)

	// bulk is admin only and reports per order
	other := decode[orders.OrderView](t, a.do(http.MethodPost, "/orders", as(uuid.New(), domain.RoleCustomer), ItemReq{ProductID: p, Quantity: 1}))
	bulk := BulkStatusReq{OrderIDs: []uuid.UUID{other.ID, uuid.New()}, Status: "cancelled"}
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/orders/status", buyer, bulk).Code)
	w = a.do(http.MethodPost, "/orders/status", admin, bulk)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[[]orders.BulkResult](t, w)
	require.Len(t, res, 2)
	assert.Equal(t, domain.OrderCancelled, res[0].Status)
	assert.NotEmpty(t, res[1].Error)
}

func TestCheckoutAndVerify(t *testing.T) {
	a := newAPI(t)
	p := a.product(a.seller("0"), "100.00", 5)
	buyer := as(uuid.New(), domain.RoleCustomer)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/checkout", buyer, nil).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/orders/place", buyer, ItemReq{ProductID: p, Quantity: 1}).Code)

	sum := decode[orders.CheckoutSummary](t, a.do(http.MethodGet, "/checkout", buyer, nil))
	assert.Equal(t, "1600.00", sum.Total.StringFixed(2))

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/checkout", buyer, CheckoutReq{AddressID: uuid.New()}).Code)
	w := a.do(http.MethodPost, "/checkout", buyer, CheckoutReq{AddressID: uuid.New(), Email: "b@example.test"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[orders.CheckoutResult](t, w)
	require.NotEmpty(t, res.Reference)

	verify := "/payments/" + res.Reference + "/verify"
	assert.Equal(t, http.StatusBadGateway, a.do(http.MethodPost, verify, buyer, nil).Code)

	a.gw.MarkPaid(res.Reference)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, verify, as(uuid.New(), domain.RoleCustomer), nil).Code)
	w = a.do(http.MethodPost, verify, buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.OrderProcessing, decode[orders.OrderView](t, w).Status)
}

func TestPayoutEndpoints(t *testing.T) {
	a := newAPI(t)
	s := a.seller("1000.00")
	seller := as(s, domain.RoleSeller)
	admin := as(uuid.New(), domain.RoleAdmin)
	bank := domain.BankDetails{AccountNumber: "0123456789", BankCode: "058"}

	w := a.do(http.MethodGet, "/payouts/balance", seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000.00", decode[BalanceResp](t, w).AvailableBalance.StringFixed(2))
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/payouts/balance", as(uuid.New(), domain.RoleCustomer), nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/payouts/balance", admin, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/payouts/balance?seller_id="+s.String(), admin, nil).Code)

	assert.Equal(t, http.StatusBadRequest,
		a.do(http.MethodPost, "/payouts", seller, PayoutReq{Amount: decimal.NewFromInt(10)}).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(http.MethodPost, "/payouts", seller, PayoutReq{Amount: decimal.Zero, Bank: bank}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		a.do(http.MethodPost, "/payouts", seller, PayoutReq{Amount: decimal.NewFromInt(5000), Bank: bank}).Code)

	w = a.do(http.MethodPost, "/payouts", seller, PayoutReq{Amount: decimal.NewFromInt(400), Bank: bank})
	require.Equal(t, http.StatusCreated, w.Code)
	p := decode[domain.SellerPayout](t, w)
	assert.Equal(t, domain.PayoutPending, p.Status)

	pending := decode[[]domain.SellerPayout](t, a.do(http.MethodGet, "/payouts?status=pending", admin, nil))
	assert.Len(t, pending, 1)

	process := "/payouts/" + p.ID.String() + "/process"
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, process, seller, nil).Code)
	w = a.do(http.MethodPost, process, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.PayoutProcessing, decode[domain.SellerPayout](t, w).Status)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, process, admin, nil).Code)

	mine := decode[[]domain.SellerPayout](t, a.do(http.MethodGet, "/payouts", seller, nil))
	require.Len(t, mine, 1)
	assert.Equal(t, p.ID, mine[0].ID)

	batch := decode[[]BatchItem](t, a.do(http.MethodPost, "/payouts/process", admin, nil))
	assert.Empty(t, batch)
}

func signWith(secret, body string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func signed(body string) (string, string) { return body, signWith(webhookSecret, body) }

func TestTransferWebhook(t *testing.T) {
	a := newAPI(t)
	post := func(body, sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/transfer", bytes.NewBufferString(body))
		if sig != "" {
			req.Header.Set(gateway.HeaderSignature, sig)
		}
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, req)
		return w.Code
	}

	body, sig := signed(`{"event":"transfer.success","data":{"reference":"PAYOUT_ABC","status":"success"}}`)
	assert.Equal(t, http.StatusUnauthorized, post(body, ""))
	assert.Equal(t, http.StatusUnauthorized, post(body, signWith("sk_other", body)))

	assert.Equal(t, http.StatusOK, post(body, sig))
	require.Len(t, a.transfers, 1)
	assert.Equal(t, payouts.TransferResult{Reference: "PAYOUT_ABC", Status: "success"}, a.transfers[0])

	charge, csig := signed(`{"event":"charge.success","data":{"reference":"ORD_1"}}`)
	assert.Equal(t, http.StatusBadRequest, post(charge, csig))

	a.sinkErr = errors.New("broker down")
	assert.Equal(t, http.StatusServiceUnavailable, post(body, sig))
}

func TestInventoryEndpoints(t *testing.T) {
	a := newAPI(t)
	s := a.seller("0")
	low := a.product(s, "1.00", 2)
	a.product(s, "1.00", 50)
	seller := as(s, domain.RoleSeller)

	w := a.do(http.MethodGet, "/products/"+low.String()+"/availability?qty=3", seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, inventory.Availability{Available: false, CurrentStock: 2, Shortage: 1}, decode[inventory.Availability](t, w))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/products/"+low.String()+"/availability?qty=x", seller, nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/products/"+low.String()+"/availability?qty=0", seller, nil).Code)

	w = a.do(http.MethodGet, "/inventory/low-stock", seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.Product](t, w), 1)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/inventory/report", as(uuid.New(), domain.RoleCustomer), nil).Code)

	rep := decode[inventory.StockReport](t, a.do(http.MethodGet, "/inventory/report", seller, nil))
	assert.Equal(t, 2, rep.TotalProducts)

	w = a.do(http.MethodPost, "/inventory/validate", seller, ValidateReq{Items: []inventory.Line{{ProductID: low, Qty: 5}}})
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[ValidateResp](t, w)
	assert.False(t, v.Valid)
	assert.Len(t, v.Problems, 1)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.NotFound("order", uuid.New()), http.StatusNotFound},
		{domain.Forbidden("x"), http.StatusForbidden},
		{&domain.StockError{}, http.StatusUnprocessableEntity},
		{domain.ErrSellerItemsDiverged, http.StatusUnprocessableEntity},
		{domain.ErrOrderNotEditable, http.StatusUnprocessableEntity},
		{&domain.CartError{Problems: []string{"x"}}, http.StatusUnprocessableEntity},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{fmt.Errorf("tx: %w", domain.ErrConflictRace), http.StatusConflict},
		{domain.ErrPendingOrderExists, http.StatusConflict},
		{&domain.GatewayError{Op: "verify"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, statusOf(tc.err), tc.err.Error())
	}
}

func TestWriteErrorHidesInternals(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := httptest.NewRecorder()
	writeError(w, zap.New(core), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "request failed", logs.All()[0].Message)
}
