package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const HeaderSignature = "X-Paystack-Signature"

// VerifySignature checks the hex HMAC-SHA512 of body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// TransferEvent is a transfer.* webhook reduced to what settlement needs.
type TransferEvent struct {
	Event     string
	Reference string
	Status    string
	Reason    string
}

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Reason    string `json:"reason"`
	} `json:"data"`
}

// ParseTransferEvent decodes a transfer webhook. When data.status is missing
// the status is taken from the event name (transfer.success -> success).
func ParseTransferEvent(body []byte) (TransferEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return TransferEvent{}, errors.Wrap(err, "decode webhook")
	}
	if !strings.HasPrefix(wb.Event, "transfer.") {
		return TransferEvent{}, errors.Errorf("not a transfer event: %q", wb.Event)
	}
	if wb.Data.Reference == "" {
		return TransferEvent{}, errors.New("webhook without reference")
	}
	status := wb.Data.Status
	if status == "" {
		status = strings.TrimPrefix(wb.Event, "transfer.")
	}
	return TransferEvent{Event: wb.Event, Reference: wb.Data.Reference, Status: status, Reason: wb.Data.Reason}, nil
}
