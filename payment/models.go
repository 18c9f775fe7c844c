// Package payment defines the payment model and its idempotency rules.
package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/types"
)

// Status is the payment state machine: Pending is the only non-terminal
// state; Confirmed and Failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Payment records one participant paying for a set of items they claimed.
// Payments live inside the receipt aggregate so that confirming a payment
// and marking its items paid is a single atomic store mutation.
type Payment struct {
	ID        id.PaymentID `json:"id"`
	ReceiptID id.ReceiptID `json:"receipt_id"`
	PayerID   string       `json:"payer_id"`
	ItemIDs   []id.ItemID  `json:"item_ids"`
	Amount    types.Money  `json:"amount"`
	Status    Status       `json:"status"`

	// IdempotencyKey is derived from (receipt, payer, sorted items) so a
	// client retry of the same submission collapses onto the in-flight
	// payment instead of creating a duplicate.
	IdempotencyKey string `json:"idempotency_key"`

	// ProviderRef is the external payment processor's reference
	// (e.g. a payment-intent id). Webhook deliveries are matched on it.
	ProviderRef string `json:"provider_ref,omitempty"`

	// ClientSecret is handed to the paying client to complete the
	// provider-side flow. Never persisted into projections.
	ClientSecret string `json:"-"`

	FailReason  string     `json:"fail_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// IsTerminal reports whether the payment has reached Confirmed or Failed.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusConfirmed || p.Status == StatusFailed
}

// References reports whether the payment includes the given item.
func (p *Payment) References(itemID id.ItemID) bool {
	for _, i := range p.ItemIDs {
		if i.String() == itemID.String() {
			return true
		}
	}
	return false
}

// IdempotencyKey derives the deterministic key for a payment submission.
// Identical (receipt, payer, item set) always produces the same key,
// regardless of item order, so duplicate submissions from network retries
// are detectable without any client-supplied token.
func IdempotencyKey(receiptID id.ReceiptID, payerID string, itemIDs []id.ItemID) string {
	ids := make([]string, len(itemIDs))
	for i, itemID := range itemIDs {
		ids[i] = itemID.String()
	}
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(receiptID.String()))
	h.Write([]byte{0})
	h.Write([]byte(payerID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
