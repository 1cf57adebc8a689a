package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is a Paystack-style REST client.
type Client struct {
	BaseURL  string
	Secret   string
	Currency string
	HTTP     *http.Client
	Limiter  *rate.Limiter
	Log      *zap.Logger
}

func NewClient(baseURL, secret string, rps float64, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Client{
		BaseURL:  baseURL,
		Secret:   secret,
		Currency: "NGN",
		HTTP: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Limiter: lim,
		Log:     log,
	}
}

type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return &domain.GatewayError{Op: op, Err: err}
		}
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode gateway request")
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &domain.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return &domain.GatewayError{Op: op, Err: fmt.Errorf("status %d: undecodable body: %w", resp.StatusCode, err)}
	}
	if resp.StatusCode >= 300 || !ar.Status {
		c.Log.Warn("gateway call rejected",
			zap.String("op", op), zap.Int("http_status", resp.StatusCode), zap.String("message", ar.Message))
		return &domain.GatewayError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, ar.Message)}
	}
	if out != nil && len(ar.Data) > 0 {
		if err := json.Unmarshal(ar.Data, out); err != nil {
			return &domain.GatewayError{Op: op, Err: errors.Wrap(err, "decode data")}
		}
	}
	return nil
}

func (c *Client) InitializeCharge(ctx context.Context, ch Charge) (ChargeSession, error) {
	body := map[string]any{
		"email":     ch.Email,
		"amount":    MinorUnits(ch.Amount),
		"reference": ch.Reference,
		"currency":  c.Currency,
	}
	if len(ch.Metadata) > 0 {
		body["metadata"] = ch.Metadata
	}
	var s ChargeSession
	if err := c.call(ctx, "initialize charge", http.MethodPost, "/transaction/initialize", body, &s); err != nil {
		return ChargeSession{}, err
	}
	if s.Reference == "" {
		s.Reference = ch.Reference
	}
	return s, nil
}

func (c *Client) VerifyCharge(ctx context.Context, reference string) (Verification, error) {
	var data struct {
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		GatewayResponse string `json:"gateway_response"`
	}
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.call(ctx, "verify charge", http.MethodGet, path, nil, &data); err != nil {
		return Verification{}, err
	}
	return Verification{
		Reference: reference,
		Paid:      data.Status == "success",
		Amount:    FromMinorUnits(data.Amount),
		Status:    data.Status,
		Message:   data.GatewayResponse,
	}, nil
}

func (c *Client) createRecipient(ctx context.Context, t Transfer) (string, error) {
	body := map[string]any{
		"type":           "nuban",
		"name":           t.AccountName,
		"account_number": t.Bank.AccountNumber,
		"bank_code":      t.Bank.BankCode,
		"currency":       c.Currency,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.call(ctx, "create recipient", http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

func (c *Client) InitiateTransfer(ctx context.Context, t Transfer) (TransferReceipt, error) {
	recipient := t.RecipientCode
	if recipient == "" {
		var err error
		if recipient, err = c.createRecipient(ctx, t); err != nil {
			return TransferReceipt{}, err
		}
	}
	body := map[string]any{
		"source":    "balance",
		"amount":    MinorUnits(t.Amount),
		"recipient": recipient,
		"reference": t.Reference,
		"reason":    t.Reason,
	}
	var data struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	if err := c.call(ctx, "initiate transfer", http.MethodPost, "/transfer", body, &data); err != nil {
		return TransferReceipt{}, err
	}
	return TransferReceipt{TransferCode: data.TransferCode, RecipientCode: recipient, Status: data.Status}, nil
}
