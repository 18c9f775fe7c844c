// Package settle provides a transactional bill-splitting core for Go
// applications.
//
// Settle is designed as a library, not a service. Import it directly into
// your application and hand it a store. It provides:
//
//   - A versioned receipt aggregate: items, participants, payments, and
//     images persisted and mutated as one unit
//   - Race-free item claims via optimistic concurrency (two users claiming
//     the same item: exactly one wins, the other re-reads)
//   - Exact settlement math in integer minor units with largest-remainder
//     rounding — allocations always sum to the amount being split
//   - Idempotent payment reconciliation tolerant of duplicate and
//     out-of-order processor webhooks
//   - Pluggable identity, image analysis, blob storage, and payment
//     processor collaborators
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/billsplit/settle"
//	    "github.com/billsplit/settle/store/memory"
//	)
//
//	eng := settle.New(memory.New())
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Flow
//
// Open a receipt, claim items, pay:
//
//	rcpt, err := eng.CreateReceipt(ctx, ownerID, settle.CreateReceiptInput{
//	    Title: "Dinner",
//	    Items: []settle.ItemInput{
//	        {Name: "Pasta", Price: settle.USD(1850)},
//	        {Name: "Wine", Price: settle.USD(3200)},
//	    },
//	    Tax: settle.USD(404),
//	})
//
//	rcpt, err = eng.ClaimItem(ctx, userID, rcpt.ID, rcpt.Items[0].ID)
//
//	pay, err := eng.InitiatePayment(ctx, userID, rcpt.ID, itemIDs)
//	// hand pay.ClientSecret to the paying client; the processor's
//	// webhook later drives eng.HandleWebhook.
//
// Balances are always derived, never stored:
//
//	summary, err := eng.Settlement(ctx, userID, rcpt.ID)
//
// # Concurrency
//
// The store's compare-and-set on the aggregate version is the only
// synchronization primitive. Any operation can fail with
// ErrVersionConflict when another writer got there first; the caller
// re-reads and retries if the operation still makes sense. The engine
// never retries internally, keeping retry policy at the edge.
//
// All monetary calculations use integer arithmetic to avoid
// floating-point precision issues. The Money type represents amounts in
// the smallest currency unit (cents for USD, pence for GBP, etc).
package settle
