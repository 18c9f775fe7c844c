package settle

import (
	"context"
	"fmt"

	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/processor"
	"github.com/billsplit/settle/receipt"
	"github.com/billsplit/settle/settlement"
)

// InitiatePayment opens a payment intent for a set of the caller's claimed
// items. The amount is computed server-side (item subtotal plus the
// caller's proportional tax and service share for those items) — clients
// never supply it. The referenced items are locked against unclaim until
// the payment reaches a terminal state.
//
// A payment for the same (receipt, payer, item set) that is still pending
// is rejected with ErrPaymentPending; the idempotency key makes the
// duplicate cheap to detect.
func (e *Engine) InitiatePayment(ctx context.Context, payerID string, receiptID id.ReceiptID, itemIDs []id.ItemID) (*payment.Payment, error) {
	if e.provider == nil {
		return nil, ErrProviderNotConfigured
	}
	if len(itemIDs) == 0 {
		return nil, ValidationError{Field: "item_ids", Message: "at least one item is required"}
	}
	seen := make(map[string]bool, len(itemIDs))
	for _, itemID := range itemIDs {
		if seen[itemID.String()] {
			return nil, ValidationError{Field: "item_ids", Message: "duplicate item id " + itemID.String()}
		}
		seen[itemID.String()] = true
	}

	r, err := e.loadForMutation(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(payerID) {
		return nil, ErrNotParticipant
	}

	// The idempotency key resolves a retried identical submission before
	// the item locks taken by the first attempt get a chance to reject it.
	key := payment.IdempotencyKey(r.ID, payerID, itemIDs)
	if existing := r.PaymentByKey(key); existing != nil && existing.Status == payment.StatusPending {
		return nil, ErrPaymentPending
	}

	for _, itemID := range itemIDs {
		it := r.Item(itemID)
		if it == nil {
			return nil, ErrItemNotFound
		}
		switch {
		case it.State == receipt.ItemPaid:
			return nil, ErrItemPaid
		case it.State == receipt.ItemUnclaimed:
			return nil, ErrNotClaimed
		case it.ClaimedBy != payerID:
			return nil, ErrForbidden
		case it.Locked:
			return nil, ErrItemLocked
		}
	}

	amount, err := settlement.AmountDue(r, payerID, itemIDs)
	if err != nil {
		return nil, err
	}

	intent, err := e.provider.CreateIntent(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("settle: create payment intent: %w", err)
	}

	now := e.now()
	p := payment.Payment{
		ID:             id.NewPaymentID(),
		ReceiptID:      r.ID,
		PayerID:        payerID,
		ItemIDs:        append([]id.ItemID(nil), itemIDs...),
		Amount:         amount,
		Status:         payment.StatusPending,
		IdempotencyKey: key,
		ProviderRef:    intent.ProviderRef,
		ClientSecret:   intent.ClientSecret,
		CreatedAt:      now,
	}

	for _, itemID := range itemIDs {
		r.Item(itemID).Locked = true
	}
	// The stored copy never carries the client secret; it rides only on
	// the value returned to the initiating caller.
	stored := p
	stored.ClientSecret = ""
	r.Payments = append(r.Payments, stored)

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return nil, err
	}

	e.logger.Info("payment initiated",
		"receipt_id", r.ID,
		"payment_id", p.ID,
		"payer_id", payerID,
		"amount", amount,
		"provider_ref", p.ProviderRef,
	)
	e.plugins.EmitPaymentInitiated(ctx, &p)
	return &p, nil
}

// ConfirmPayment moves a pending payment to confirmed and its items to
// paid in one atomic write, settling the receipt when the last item is
// covered. Confirming an already-confirmed payment is a no-op, which is
// what makes duplicate webhook deliveries harmless.
func (e *Engine) ConfirmPayment(ctx context.Context, receiptID id.ReceiptID, paymentID id.PaymentID) error {
	r, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	p := r.Payment(paymentID)
	if p == nil {
		return ErrPaymentNotFound
	}

	switch p.Status {
	case payment.StatusConfirmed:
		return nil
	case payment.StatusFailed:
		return ErrPaymentSettled
	}

	// The locks should have held every referenced item in place; a claim
	// that shifted anyway means the stored state diverged from what the
	// payer agreed to pay for. The payment fails for operator
	// reconciliation rather than being silently fixed up.
	for _, itemID := range p.ItemIDs {
		it := r.Item(itemID)
		if it == nil || it.State != receipt.ItemClaimed || it.ClaimedBy != p.PayerID {
			if failErr := e.FailPayment(ctx, receiptID, paymentID, "stale claim at confirmation"); failErr != nil {
				return failErr
			}
			return ErrStaleClaim
		}
	}

	now := e.now()
	p.Status = payment.StatusConfirmed
	p.ConfirmedAt = &now
	for _, itemID := range p.ItemIDs {
		it := r.Item(itemID)
		it.State = receipt.ItemPaid
		it.Locked = false
		it.PaymentRef = p.ProviderRef
	}

	settled := r.AllItemsPaid()
	if settled {
		r.Status = receipt.StatusSettled
	}

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return err
	}

	e.logger.Info("payment confirmed",
		"receipt_id", r.ID,
		"payment_id", p.ID,
		"amount", p.Amount,
		"settled", settled,
	)
	e.plugins.EmitPaymentConfirmed(ctx, p)
	if settled {
		e.plugins.EmitReceiptSettled(ctx, r)
	}
	return nil
}

// FailPayment moves a pending payment to failed and unlocks its items.
// Claims are kept: a failed charge does not release what the payer chose
// to cover. Failing an already-failed payment is a no-op.
func (e *Engine) FailPayment(ctx context.Context, receiptID id.ReceiptID, paymentID id.PaymentID, reason string) error {
	r, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	p := r.Payment(paymentID)
	if p == nil {
		return ErrPaymentNotFound
	}

	switch p.Status {
	case payment.StatusFailed:
		return nil
	case payment.StatusConfirmed:
		return ErrPaymentSettled
	}

	now := e.now()
	p.Status = payment.StatusFailed
	p.FailedAt = &now
	p.FailReason = reason
	for _, itemID := range p.ItemIDs {
		if it := r.Item(itemID); it != nil {
			it.Locked = false
		}
	}

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return err
	}

	e.logger.Info("payment failed",
		"receipt_id", r.ID,
		"payment_id", p.ID,
		"reason", reason,
	)
	e.plugins.EmitPaymentFailed(ctx, p, reason)
	return nil
}

// HandleWebhook consumes a processor confirmation event. The processor may
// deliver the same event zero, one, or many times and in any order
// relative to other events; resolution by provider ref plus terminal-state
// no-ops make every replay converge to the same stored state.
func (e *Engine) HandleWebhook(ctx context.Context, ev processor.Event) error {
	e.plugins.EmitWebhookReceived(ctx, ev.ProviderRef, nil)

	if ev.ProviderRef == "" {
		return ValidationError{Field: "provider_ref", Message: "provider ref is required"}
	}

	r, err := e.store.FindReceiptByProviderRef(ctx, ev.ProviderRef)
	if err != nil {
		return err
	}
	p := r.PaymentByProviderRef(ev.ProviderRef)
	if p == nil {
		return ErrPaymentNotFound
	}

	switch ev.Status {
	case processor.EventSucceeded:
		return e.ConfirmPayment(ctx, r.ID, p.ID)
	case processor.EventFailed:
		return e.FailPayment(ctx, r.ID, p.ID, ev.Reason)
	default:
		return ValidationError{Field: "status", Message: fmt.Sprintf("unknown event status %q", ev.Status)}
	}
}

// PaymentAmountDue reports the exact amount a payment for the given items
// would carry, without creating an intent. Lets clients render the charge
// before committing.
func (e *Engine) PaymentAmountDue(ctx context.Context, payerID string, receiptID id.ReceiptID, itemIDs []id.ItemID) (money Money, err error) {
	r, err := e.GetReceipt(ctx, payerID, receiptID)
	if err != nil {
		return Money{}, err
	}
	return settlement.AmountDue(r, payerID, itemIDs)
}
