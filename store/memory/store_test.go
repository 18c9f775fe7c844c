package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/billsplit/settle"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/receipt"
	"github.com/billsplit/settle/types"
)

func newReceipt(owner string) *receipt.Receipt {
	return &receipt.Receipt{
		Entity:         types.NewEntity(),
		ID:             id.NewReceiptID(),
		Title:          "Lunch",
		OwnerID:        owner,
		Currency:       "usd",
		Status:         receipt.StatusOpen,
		ParticipantIDs: []string{owner},
		Items: []receipt.Item{
			{ID: id.NewItemID(), Name: "Burger", Price: types.USD(1250), State: receipt.ItemUnclaimed},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := newReceipt("alice")
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if r.Version != 1 {
		t.Errorf("version after create: got %d, want 1", r.Version)
	}

	got, err := s.GetReceipt(ctx, r.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != "Lunch" || len(got.Items) != 1 {
		t.Errorf("unexpected receipt: %+v", got)
	}

	if err := s.CreateReceipt(ctx, r); !errors.Is(err, settle.ErrAlreadyExists) {
		t.Errorf("duplicate create: got %v, want ErrAlreadyExists", err)
	}
	if _, err := s.GetReceipt(ctx, id.NewReceiptID()); !errors.Is(err, settle.ErrReceiptNotFound) {
		t.Errorf("missing get: got %v, want ErrReceiptNotFound", err)
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := newReceipt("alice")
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, _ := s.GetReceipt(ctx, r.ID)
	second, _ := s.GetReceipt(ctx, r.ID)

	first.Title = "Team lunch"
	if err := s.UpdateReceipt(ctx, first); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("version after update: got %d, want 2", first.Version)
	}

	second.Title = "Dinner"
	if err := s.UpdateReceipt(ctx, second); !errors.Is(err, settle.ErrVersionConflict) {
		t.Errorf("stale update: got %v, want ErrVersionConflict", err)
	}

	got, _ := s.GetReceipt(ctx, r.ID)
	if got.Title != "Team lunch" {
		t.Errorf("losing update leaked through: title is %q", got.Title)
	}
}

func TestUpdateIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := newReceipt("alice")
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, _ := s.GetReceipt(ctx, r.ID)
	got.Items[0].Name = "mutated"

	again, _ := s.GetReceipt(ctx, r.ID)
	if again.Items[0].Name != "Burger" {
		t.Error("store handed out shared state: mutation leaked into snapshot")
	}
}

func TestConcurrentUpdatesSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := newReceipt("alice")
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Every writer races from the same version. Reading inside the
	// goroutine would let serialized writers refresh and all win.
	const writers = 16
	snaps := make([]*receipt.Receipt, writers)
	for i := range snaps {
		snap, err := s.GetReceipt(ctx, r.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		snaps[i] = snap
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(snap *receipt.Receipt) {
			defer wg.Done()
			snap.Items[0].State = receipt.ItemClaimed
			err := s.UpdateReceipt(ctx, snap)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, settle.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(snaps[i])
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners: got %d, want exactly 1 (conflicts %d)", wins, conflicts)
	}
	if wins+conflicts != writers {
		t.Errorf("accounted writers: got %d, want %d", wins+conflicts, writers)
	}
}

func TestDeleteReceipt(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := newReceipt("alice")
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := s.DeleteReceipt(ctx, r.ID, 99); !errors.Is(err, settle.ErrVersionConflict) {
		t.Errorf("stale delete: got %v, want ErrVersionConflict", err)
	}
	if err := s.DeleteReceipt(ctx, r.ID, r.Version); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetReceipt(ctx, r.ID); !errors.Is(err, settle.ErrReceiptNotFound) {
		t.Errorf("get after delete: got %v, want ErrReceiptNotFound", err)
	}
	if err := s.DeleteReceipt(ctx, r.ID, 1); !errors.Is(err, settle.ErrReceiptNotFound) {
		t.Errorf("double delete: got %v, want ErrReceiptNotFound", err)
	}
}

func TestListReceiptsByUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	mine := newReceipt("alice")
	if err := s.CreateReceipt(ctx, mine); err != nil {
		t.Fatal(err)
	}

	shared := newReceipt("bob")
	shared.ParticipantIDs = append(shared.ParticipantIDs, "alice")
	if err := s.CreateReceipt(ctx, shared); err != nil {
		t.Fatal(err)
	}

	other := newReceipt("carol")
	if err := s.CreateReceipt(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListReceiptsByUser(ctx, "alice", receipt.ListOpts{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("receipts for alice: got %d, want 2", len(got))
	}

	settled := newReceipt("alice")
	settled.Status = receipt.StatusSettled
	if err := s.CreateReceipt(ctx, settled); err != nil {
		t.Fatal(err)
	}

	got, err = s.ListReceiptsByUser(ctx, "alice", receipt.ListOpts{Status: receipt.StatusSettled})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(got) != 1 || got[0].Status != receipt.StatusSettled {
		t.Errorf("status filter: got %d receipts", len(got))
	}

	got, err = s.ListReceiptsByUser(ctx, "alice", receipt.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("limited list failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("limit: got %d receipts, want 1", len(got))
	}
}

func TestFindReceiptByProviderRef(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := newReceipt("alice")
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatal(err)
	}

	snap, _ := s.GetReceipt(ctx, r.ID)
	snap.Payments = append(snap.Payments, payment.Payment{
		ID:          id.NewPaymentID(),
		ReceiptID:   r.ID,
		PayerID:     "alice",
		ItemIDs:     []id.ItemID{r.Items[0].ID},
		Amount:      types.USD(1250),
		Status:      payment.StatusPending,
		ProviderRef: "pi_ref_1",
	})
	if err := s.UpdateReceipt(ctx, snap); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	found, err := s.FindReceiptByProviderRef(ctx, "pi_ref_1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found.ID.String() != r.ID.String() {
		t.Errorf("found wrong receipt: %s", found.ID)
	}

	if _, err := s.FindReceiptByProviderRef(ctx, "pi_unknown"); !errors.Is(err, settle.ErrPaymentNotFound) {
		t.Errorf("unknown ref: got %v, want ErrPaymentNotFound", err)
	}
}

func TestClosedStore(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, settle.ErrStoreClosed) {
		t.Errorf("ping after close: got %v, want ErrStoreClosed", err)
	}
	if err := s.CreateReceipt(ctx, newReceipt("alice")); !errors.Is(err, settle.ErrStoreClosed) {
		t.Errorf("create after close: got %v, want ErrStoreClosed", err)
	}
}
