// Package audithook bridges Settle lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/plugin"
	"github.com/billsplit/settle/receipt"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnReceiptCreated     = (*Extension)(nil)
	_ plugin.OnReceiptSettled     = (*Extension)(nil)
	_ plugin.OnReceiptDeleted     = (*Extension)(nil)
	_ plugin.OnParticipantAdded   = (*Extension)(nil)
	_ plugin.OnParticipantRemoved = (*Extension)(nil)
	_ plugin.OnItemClaimed        = (*Extension)(nil)
	_ plugin.OnItemUnclaimed      = (*Extension)(nil)
	_ plugin.OnPaymentInitiated   = (*Extension)(nil)
	_ plugin.OnPaymentConfirmed   = (*Extension)(nil)
	_ plugin.OnPaymentFailed      = (*Extension)(nil)
	_ plugin.OnWebhookReceived    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Settle lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Receipt lifecycle hooks
// ──────────────────────────────────────────────────

// OnReceiptCreated implements plugin.OnReceiptCreated.
func (e *Extension) OnReceiptCreated(ctx context.Context, r interface{}) error {
	return e.record(ctx, ActionReceiptCreated, SeverityInfo, OutcomeSuccess,
		ResourceReceipt, receiptID(r), CategoryReceipt, nil,
		"event", "receipt_created",
	)
}

// OnReceiptSettled implements plugin.OnReceiptSettled.
func (e *Extension) OnReceiptSettled(ctx context.Context, r interface{}) error {
	return e.record(ctx, ActionReceiptSettled, SeverityInfo, OutcomeSuccess,
		ResourceReceipt, receiptID(r), CategoryReceipt, nil,
		"event", "receipt_settled",
	)
}

// OnReceiptDeleted implements plugin.OnReceiptDeleted.
func (e *Extension) OnReceiptDeleted(ctx context.Context, id string, forced bool) error {
	severity := SeverityInfo
	if forced {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionReceiptDeleted, severity, OutcomeSuccess,
		ResourceReceipt, id, CategoryReceipt, nil,
		"forced", forced,
	)
}

// OnParticipantAdded implements plugin.OnParticipantAdded.
func (e *Extension) OnParticipantAdded(ctx context.Context, receiptID, userID string) error {
	return e.record(ctx, ActionParticipantAdded, SeverityInfo, OutcomeSuccess,
		ResourceParticipant, receiptID, CategoryReceipt, nil,
		"user_id", userID,
	)
}

// OnParticipantRemoved implements plugin.OnParticipantRemoved.
func (e *Extension) OnParticipantRemoved(ctx context.Context, receiptID, userID string) error {
	return e.record(ctx, ActionParticipantRemoved, SeverityInfo, OutcomeSuccess,
		ResourceParticipant, receiptID, CategoryReceipt, nil,
		"user_id", userID,
	)
}

// ──────────────────────────────────────────────────
// Claim hooks
// ──────────────────────────────────────────────────

// OnItemClaimed implements plugin.OnItemClaimed.
func (e *Extension) OnItemClaimed(ctx context.Context, receiptID, itemID, userID string) error {
	return e.record(ctx, ActionItemClaimed, SeverityInfo, OutcomeSuccess,
		ResourceItem, itemID, CategoryClaim, nil,
		"receipt_id", receiptID,
		"user_id", userID,
	)
}

// OnItemUnclaimed implements plugin.OnItemUnclaimed.
func (e *Extension) OnItemUnclaimed(ctx context.Context, receiptID, itemID, userID string) error {
	return e.record(ctx, ActionItemUnclaimed, SeverityInfo, OutcomeSuccess,
		ResourceItem, itemID, CategoryClaim, nil,
		"receipt_id", receiptID,
		"user_id", userID,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentInitiated implements plugin.OnPaymentInitiated.
func (e *Extension) OnPaymentInitiated(ctx context.Context, p interface{}) error {
	id, kv := paymentFields(p)
	return e.record(ctx, ActionPaymentInitiated, SeverityInfo, OutcomeSuccess,
		ResourcePayment, id, CategoryPayment, nil, kv...)
}

// OnPaymentConfirmed implements plugin.OnPaymentConfirmed.
func (e *Extension) OnPaymentConfirmed(ctx context.Context, p interface{}) error {
	id, kv := paymentFields(p)
	return e.record(ctx, ActionPaymentConfirmed, SeverityInfo, OutcomeSuccess,
		ResourcePayment, id, CategoryPayment, nil, kv...)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, p interface{}, reason string) error {
	id, kv := paymentFields(p)
	kv = append(kv, "reason", reason)
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourcePayment, id, CategoryPayment, nil, kv...)
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, providerRef string, _ []byte) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, providerRef, CategoryIntegration, nil,
		"provider_ref", providerRef,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func receiptID(r interface{}) string {
	if rr, ok := r.(*receipt.Receipt); ok {
		return rr.ID.String()
	}
	return ""
}

func paymentFields(p interface{}) (string, []any) {
	pp, ok := p.(*payment.Payment)
	if !ok {
		return "", nil
	}
	return pp.ID.String(), []any{
		"receipt_id", pp.ReceiptID.String(),
		"payer_id", pp.PayerID,
		"amount", pp.Amount.Amount,
		"currency", pp.Amount.Currency,
		"provider_ref", pp.ProviderRef,
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
