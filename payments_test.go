package settle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/billsplit/settle"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/processor"
	"github.com/billsplit/settle/receipt"
	"github.com/billsplit/settle/store/memory"
)

// claimAll claims every item on the receipt for the given user and returns
// the item ids.
func claimAll(t *testing.T, eng *settle.Engine, userID string, r *receipt.Receipt) []id.ItemID {
	t.Helper()
	ids := make([]id.ItemID, 0, len(r.Items))
	for _, it := range r.Items {
		if _, err := eng.ClaimItem(context.Background(), userID, r.ID, it.ID); err != nil {
			t.Fatalf("claim %s: %v", it.Name, err)
		}
		ids = append(ids, it.ID)
	}
	return ids
}

func TestInitiatePayment(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	pastaID := r.Items[0].ID

	if _, err := eng.ClaimItem(ctx, "bob", r.ID, pastaID); err != nil {
		t.Fatal(err)
	}

	want, err := eng.PaymentAmountDue(ctx, "bob", r.ID, []id.ItemID{pastaID})
	if err != nil {
		t.Fatal(err)
	}

	pay, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if !pay.Amount.Equal(want) {
		t.Errorf("amount: got %v, want %v", pay.Amount, want)
	}
	if pay.Status != payment.StatusPending {
		t.Errorf("status: got %q", pay.Status)
	}
	if pay.ProviderRef == "" || pay.ClientSecret == "" {
		t.Errorf("provider fields missing: ref %q secret %q", pay.ProviderRef, pay.ClientSecret)
	}

	// The item is locked for the duration of the pending payment.
	got, err := eng.GetReceipt(ctx, "bob", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Item(pastaID).Locked {
		t.Error("item not locked after initiate")
	}
	// The client secret never survives the round trip through the store.
	if stored := got.Payment(pay.ID); stored == nil || stored.ClientSecret != "" {
		t.Error("client secret leaked into the stored document")
	}

	// Same payer, same items, still pending: duplicate.
	if _, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID}); !errors.Is(err, settle.ErrPaymentPending) {
		t.Errorf("duplicate initiate: got %v, want ErrPaymentPending", err)
	}
}

func TestInitiatePaymentRejections(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	pastaID, steakID := r.Items[0].ID, r.Items[1].ID

	if _, err := eng.InitiatePayment(ctx, "bob", r.ID, nil); !errors.Is(err, settle.ErrInvalidInput) {
		t.Errorf("empty item set: got %v, want ErrInvalidInput", err)
	}
	if _, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID}); !errors.Is(err, settle.ErrNotClaimed) {
		t.Errorf("unclaimed item: got %v, want ErrNotClaimed", err)
	}

	// Listing an item twice must not double its share in the charge.
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, pastaID); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID, pastaID}); !errors.Is(err, settle.ErrInvalidInput) {
		t.Errorf("duplicate item ids: got %v, want ErrInvalidInput", err)
	}
	if _, err := eng.UnclaimItem(ctx, "bob", r.ID, pastaID); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.ClaimItem(ctx, "alice", r.ID, steakID); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{steakID}); !errors.Is(err, settle.ErrForbidden) {
		t.Errorf("someone else's claim: got %v, want ErrForbidden", err)
	}

	if _, err := eng.InitiatePayment(ctx, "mallory", r.ID, []id.ItemID{pastaID}); !errors.Is(err, settle.ErrNotParticipant) {
		t.Errorf("outsider: got %v, want ErrNotParticipant", err)
	}
	if _, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{id.NewItemID()}); !errors.Is(err, settle.ErrItemNotFound) {
		t.Errorf("unknown item: got %v, want ErrItemNotFound", err)
	}
}

func TestInitiatePaymentWithoutProvider(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{r.Items[0].ID}); !errors.Is(err, settle.ErrProviderNotConfigured) {
		t.Errorf("got %v, want ErrProviderNotConfigured", err)
	}
}

func TestWebhookConfirmSettlesReceipt(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	itemIDs := claimAll(t, eng, "bob", r)

	pay, err := eng.InitiatePayment(ctx, "bob", r.ID, itemIDs)
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: pay.ProviderRef, Status: processor.EventSucceeded}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	got, err := eng.GetReceipt(ctx, "alice", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != receipt.StatusSettled {
		t.Errorf("receipt status: got %q, want settled", got.Status)
	}
	for _, it := range got.Items {
		if it.State != receipt.ItemPaid || it.Locked {
			t.Errorf("item %s: state %q locked %v", it.Name, it.State, it.Locked)
		}
		if it.PaymentRef != pay.ProviderRef {
			t.Errorf("item %s payment ref: got %q", it.Name, it.PaymentRef)
		}
	}
	stored := got.Payment(pay.ID)
	if stored.Status != payment.StatusConfirmed || stored.ConfirmedAt == nil {
		t.Errorf("payment: status %q confirmed_at %v", stored.Status, stored.ConfirmedAt)
	}

	// Redelivery of the same event is a no-op.
	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: pay.ProviderRef, Status: processor.EventSucceeded}); err != nil {
		t.Errorf("duplicate webhook: %v", err)
	}

	// A settled receipt rejects further mutation.
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, itemIDs[0]); !errors.Is(err, settle.ErrReceiptSettled) {
		t.Errorf("claim on settled receipt: got %v, want ErrReceiptSettled", err)
	}
}

func TestWebhookFailureUnlocksItems(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	pastaID := r.Items[0].ID
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, pastaID); err != nil {
		t.Fatal(err)
	}
	pay, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID})
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: pay.ProviderRef, Status: processor.EventFailed, Reason: "insufficient funds"}); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}

	got, err := eng.GetReceipt(ctx, "bob", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	it := got.Item(pastaID)
	if it.Locked {
		t.Error("item still locked after failure")
	}
	if it.State != receipt.ItemClaimed || it.ClaimedBy != "bob" {
		t.Errorf("claim lost on failure: state %q claimed_by %q", it.State, it.ClaimedBy)
	}
	stored := got.Payment(pay.ID)
	if stored.Status != payment.StatusFailed || stored.FailReason != "insufficient funds" || stored.FailedAt == nil {
		t.Errorf("payment: status %q reason %q failed_at %v", stored.Status, stored.FailReason, stored.FailedAt)
	}

	// Redelivered failure is a no-op; a success after failure is rejected.
	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: pay.ProviderRef, Status: processor.EventFailed}); err != nil {
		t.Errorf("duplicate failure webhook: %v", err)
	}
	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: pay.ProviderRef, Status: processor.EventSucceeded}); !errors.Is(err, settle.ErrPaymentSettled) {
		t.Errorf("success after failure: got %v, want ErrPaymentSettled", err)
	}

	// The payer can open a fresh payment for the same items.
	retry, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID})
	if err != nil {
		t.Fatalf("retry initiate: %v", err)
	}
	if retry.ProviderRef == pay.ProviderRef {
		t.Error("retry reused the failed intent")
	}
}

func TestWebhookUnknownRef(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: "pi_unknown", Status: processor.EventSucceeded}); !errors.Is(err, settle.ErrPaymentNotFound) {
		t.Errorf("unknown ref: got %v, want ErrPaymentNotFound", err)
	}
	if err := eng.HandleWebhook(ctx, processor.Event{Status: processor.EventSucceeded}); !errors.Is(err, settle.ErrInvalidInput) {
		t.Errorf("empty ref: got %v, want ErrInvalidInput", err)
	}
}

func TestConfirmAfterClaimDrift(t *testing.T) {
	provider := &processor.Fake{}
	st := memory.New()
	eng := settle.New(st, settle.WithPaymentProvider(provider))
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Stop() })

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	pastaID := r.Items[0].ID
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, pastaID); err != nil {
		t.Fatal(err)
	}
	pay, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID})
	if err != nil {
		t.Fatal(err)
	}

	// Force the drift the lock normally prevents.
	raw, err := st.GetReceipt(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	it := raw.Item(pastaID)
	it.ClaimedBy = "alice"
	it.Locked = false
	if err := st.UpdateReceipt(ctx, raw); err != nil {
		t.Fatal(err)
	}

	if err := eng.ConfirmPayment(ctx, r.ID, pay.ID); !errors.Is(err, settle.ErrStaleClaim) {
		t.Errorf("confirm after drift: got %v, want ErrStaleClaim", err)
	}

	// The drifted payment lands in failed for operator reconciliation
	// instead of staying pending forever.
	got, err := st.GetReceipt(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	stored := got.Payment(pay.ID)
	if stored.Status != payment.StatusFailed {
		t.Errorf("payment after drift: got %q, want failed", stored.Status)
	}
}

func TestPartialPayments(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	pastaID, steakID := r.Items[0].ID, r.Items[1].ID
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, pastaID); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ClaimItem(ctx, "alice", r.ID, steakID); err != nil {
		t.Fatal(err)
	}

	bobPay, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{pastaID})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: bobPay.ProviderRef, Status: processor.EventSucceeded}); err != nil {
		t.Fatal(err)
	}

	got, err := eng.GetReceipt(ctx, "alice", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != receipt.StatusOpen {
		t.Errorf("receipt settled early: status %q", got.Status)
	}

	alicePay, err := eng.InitiatePayment(ctx, "alice", r.ID, []id.ItemID{steakID})
	if err != nil {
		t.Fatal(err)
	}
	if !bobPay.Amount.Add(alicePay.Amount).Equal(got.Total()) {
		t.Errorf("amounts %v + %v do not cover total %v", bobPay.Amount, alicePay.Amount, got.Total())
	}
	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: alicePay.ProviderRef, Status: processor.EventSucceeded}); err != nil {
		t.Fatal(err)
	}

	got, err = eng.GetReceipt(ctx, "alice", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != receipt.StatusSettled {
		t.Errorf("receipt status: got %q, want settled", got.Status)
	}
}
