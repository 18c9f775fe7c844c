package settle_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/billsplit/settle"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/processor"
	"github.com/billsplit/settle/receipt"
)

func TestClaimItem(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	itemID := r.Items[0].ID

	updated, err := eng.ClaimItem(ctx, "bob", r.ID, itemID)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	it := updated.Item(itemID)
	if it.State != receipt.ItemClaimed || it.ClaimedBy != "bob" {
		t.Errorf("item after claim: state %q claimed_by %q", it.State, it.ClaimedBy)
	}

	// Re-claiming your own item converges instead of erroring.
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, itemID); err != nil {
		t.Errorf("idempotent re-claim: %v", err)
	}

	// Someone else hits the at-most-one-claimant rule.
	if _, err := eng.ClaimItem(ctx, "alice", r.ID, itemID); !errors.Is(err, settle.ErrAlreadyClaimed) {
		t.Errorf("second claimant: got %v, want ErrAlreadyClaimed", err)
	}

	if _, err := eng.ClaimItem(ctx, "mallory", r.ID, itemID); !errors.Is(err, settle.ErrNotParticipant) {
		t.Errorf("outsider claim: got %v, want ErrNotParticipant", err)
	}
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, id.NewItemID()); !errors.Is(err, settle.ErrItemNotFound) {
		t.Errorf("unknown item: got %v, want ErrItemNotFound", err)
	}
}

func TestClaimRace(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	in := dinnerInput()
	in.ParticipantIDs = []string{"bob", "carol", "dave", "erin"}
	r, err := eng.CreateReceipt(ctx, "alice", in)
	if err != nil {
		t.Fatal(err)
	}
	itemID := r.Items[0].ID

	users := []string{"alice", "bob", "carol", "dave", "erin"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := make([]string, 0, 1)

	for _, u := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			// One claim attempt per user; losers of the version race or
			// of the claim rule just give up, like a client would after
			// re-reading and seeing the item taken.
			_, err := eng.ClaimItem(ctx, user, r.ID, itemID)
			if err == nil {
				mu.Lock()
				winners = append(winners, user)
				mu.Unlock()
				return
			}
			if !errors.Is(err, settle.ErrAlreadyClaimed) && !errors.Is(err, settle.ErrVersionConflict) {
				t.Errorf("unexpected error for %s: %v", user, err)
			}
		}(u)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners: got %v, want exactly one", winners)
	}

	got, err := eng.GetReceipt(ctx, "alice", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	it := got.Item(itemID)
	if it.State != receipt.ItemClaimed || it.ClaimedBy != winners[0] {
		t.Errorf("stored claim: state %q claimed_by %q, want %s", it.State, it.ClaimedBy, winners[0])
	}
}

func TestUnclaimItem(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	itemID := r.Items[0].ID

	if _, err := eng.UnclaimItem(ctx, "bob", r.ID, itemID); !errors.Is(err, settle.ErrNotClaimed) {
		t.Errorf("unclaim unclaimed: got %v, want ErrNotClaimed", err)
	}

	if _, err := eng.ClaimItem(ctx, "bob", r.ID, itemID); err != nil {
		t.Fatal(err)
	}

	// Another participant cannot release bob's claim.
	if _, err := eng.UnclaimItem(ctx, "carol", r.ID, itemID); !errors.Is(err, settle.ErrNotParticipant) {
		t.Errorf("outsider unclaim: got %v, want ErrNotParticipant", err)
	}

	// The claimant can.
	updated, err := eng.UnclaimItem(ctx, "bob", r.ID, itemID)
	if err != nil {
		t.Fatalf("unclaim failed: %v", err)
	}
	it := updated.Item(itemID)
	if it.State != receipt.ItemUnclaimed || it.ClaimedBy != "" {
		t.Errorf("item after unclaim: state %q claimed_by %q", it.State, it.ClaimedBy)
	}

	// The owner can release anyone's claim before payment.
	if _, err := eng.ClaimItem(ctx, "bob", r.ID, itemID); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.UnclaimItem(ctx, "alice", r.ID, itemID); err != nil {
		t.Errorf("owner unclaim: %v", err)
	}
}

func TestUnclaimBlockedByPendingPayment(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	itemID := r.Items[0].ID

	if _, err := eng.ClaimItem(ctx, "bob", r.ID, itemID); err != nil {
		t.Fatal(err)
	}
	pay, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{itemID})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.UnclaimItem(ctx, "bob", r.ID, itemID); !errors.Is(err, settle.ErrItemLocked) {
		t.Errorf("unclaim locked item: got %v, want ErrItemLocked", err)
	}
	// Not even the owner bypasses the lock.
	if _, err := eng.UnclaimItem(ctx, "alice", r.ID, itemID); !errors.Is(err, settle.ErrItemLocked) {
		t.Errorf("owner unclaim locked item: got %v, want ErrItemLocked", err)
	}

	// A failed payment releases the lock but keeps the claim.
	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: pay.ProviderRef, Status: processor.EventFailed, Reason: "card declined"}); err != nil {
		t.Fatal(err)
	}
	updated, err := eng.UnclaimItem(ctx, "bob", r.ID, itemID)
	if err != nil {
		t.Fatalf("unclaim after failed payment: %v", err)
	}
	if updated.Item(itemID).State != receipt.ItemUnclaimed {
		t.Error("item still claimed")
	}
}

func TestClaimPaidItem(t *testing.T) {
	provider := &processor.Fake{}
	eng := newEngine(t, settle.WithPaymentProvider(provider))
	ctx := context.Background()

	r, err := eng.CreateReceipt(ctx, "alice", dinnerInput())
	if err != nil {
		t.Fatal(err)
	}
	itemID := r.Items[0].ID

	if _, err := eng.ClaimItem(ctx, "bob", r.ID, itemID); err != nil {
		t.Fatal(err)
	}
	pay, err := eng.InitiatePayment(ctx, "bob", r.ID, []id.ItemID{itemID})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.HandleWebhook(ctx, processor.Event{ProviderRef: pay.ProviderRef, Status: processor.EventSucceeded}); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.ClaimItem(ctx, "alice", r.ID, itemID); !errors.Is(err, settle.ErrItemPaid) {
		t.Errorf("claim paid item: got %v, want ErrItemPaid", err)
	}
	if _, err := eng.UnclaimItem(ctx, "bob", r.ID, itemID); !errors.Is(err, settle.ErrItemPaid) {
		t.Errorf("unclaim paid item: got %v, want ErrItemPaid", err)
	}
}
