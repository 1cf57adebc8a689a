package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// RequireActor trusts the identity headers set by the auth proxy in front of
// the API. Requests without a valid pair are rejected.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(HeaderActorID))
		role := domain.Role(r.Header.Get(HeaderActorRole))
		if err != nil || !role.Valid() || role == domain.RoleSystem {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid actor"})
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, domain.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(actorKey{}).(domain.Actor)
	return a
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// statusOf maps a domain error kind to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSellerItemsDiverged),
		errors.Is(err, domain.ErrOrderNotEditable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflictRace),
		errors.Is(err, domain.ErrPendingOrderExists),
		errors.Is(err, domain.ErrPayoutSettled),
		errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError renders err. Detail structs are echoed back; anything that maps
// to 500 is logged and hidden.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeJSON(w, code, errorBody{Error: "internal error"})
		return
	}
	body := errorBody{Error: err.Error()}
	var (
		stock *domain.StockError
		bal   *domain.BalanceError
		tr    *domain.TransitionError
		cart  *domain.CartError
	)
	switch {
	case errors.As(err, &stock):
		body.Details = map[string]any{
			"product_id": stock.ProductID, "requested": stock.Requested,
			"available": stock.Available, "shortage": stock.Shortage(),
		}
	case errors.As(err, &bal):
		body.Details = map[string]any{"requested": bal.Requested, "available": bal.Available}
	case errors.As(err, &tr):
		body.Details = map[string]any{"from": tr.From, "to": tr.To, "allowed": tr.Allowed}
	case errors.As(err, &cart):
		body.Details = map[string]any{"problems": cart.Problems}
	}
	writeJSON(w, code, body)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// page reads limit/offset query params; missing or bad values become zero.
func page(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
