// Package receipt defines the receipt aggregate: the bill, its line items,
// participants, images, and payments, versioned as a single unit.
//
// The aggregate is the consistency boundary. Every mutation — a claim, a
// payment confirmation, a participant change — is a read of the whole
// aggregate followed by one compare-and-set write against Version, so
// readers never observe a partially applied multi-item transition.
package receipt

import (
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/types"
)

// Status is the receipt lifecycle state.
type Status string

const (
	StatusOpen    Status = "open"
	StatusSettled Status = "settled"
	StatusDeleted Status = "deleted"
)

// ItemState is the claim state of a single line item.
// Transitions: Unclaimed → Claimed → Paid, with Claimed → Unclaimed only
// via explicit unclaim before payment.
type ItemState string

const (
	ItemUnclaimed ItemState = "unclaimed"
	ItemClaimed   ItemState = "claimed"
	ItemPaid      ItemState = "paid"
)

// Item is one line entry on a receipt.
type Item struct {
	ID    id.ItemID   `json:"id"`
	Name  string      `json:"name"`
	Price types.Money `json:"price"`
	State ItemState   `json:"state"`

	// ClaimedBy is the claimant's user id, set while State is Claimed or Paid.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// Locked guards the item against unclaim while a pending payment
	// references it.
	Locked bool `json:"locked,omitempty"`

	// PaymentRef is the external processor reference recorded when the
	// item transitioned to Paid.
	PaymentRef string `json:"payment_ref,omitempty"`
}

// Claimable reports whether a claim by userID would succeed. An item a
// user already claimed remains claimable by that same user (idempotent
// retry), never by anyone else.
func (it *Item) Claimable(userID string) bool {
	switch it.State {
	case ItemUnclaimed:
		return true
	case ItemClaimed:
		return it.ClaimedBy == userID
	default:
		return false
	}
}

// Participant carries denormalized display data for rendering. The
// authoritative identity lives in the external identity provider; this is
// a cache keyed by UserID.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Image references an uploaded receipt photo in blob storage.
type Image struct {
	ID          id.ImageID `json:"id"`
	URL         string     `json:"url"`
	ContentType string     `json:"content_type,omitempty"`
}

// Receipt is the aggregate root.
type Receipt struct {
	types.Entity
	ID            id.ReceiptID `json:"id"`
	Title         string       `json:"title"`
	OwnerID       string       `json:"owner_id"`
	Currency      string       `json:"currency"`
	Status        Status       `json:"status"`
	Tax           types.Money  `json:"tax"`
	ServiceCharge types.Money  `json:"service_charge"`

	// ParticipantIDs always contains OwnerID and every user referenced by
	// any item claim or payment.
	ParticipantIDs []string      `json:"participant_ids"`
	Participants   []Participant `json:"participants,omitempty"`

	Items    []Item            `json:"items"`
	Payments []payment.Payment `json:"payments,omitempty"`
	Images   []Image           `json:"images,omitempty"`

	// Version is the optimistic-concurrency token managed by the store.
	// It is never exposed to callers beyond conflict detection.
	Version int64 `json:"version"`
}

// ListOpts filters receipt listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

// Item returns the item with the given id, or nil.
func (r *Receipt) Item(itemID id.ItemID) *Item {
	for i := range r.Items {
		if r.Items[i].ID.String() == itemID.String() {
			return &r.Items[i]
		}
	}
	return nil
}

// Payment returns the payment with the given id, or nil.
func (r *Receipt) Payment(paymentID id.PaymentID) *payment.Payment {
	for i := range r.Payments {
		if r.Payments[i].ID.String() == paymentID.String() {
			return &r.Payments[i]
		}
	}
	return nil
}

// PaymentByKey returns the payment with the given idempotency key, or nil.
func (r *Receipt) PaymentByKey(key string) *payment.Payment {
	for i := range r.Payments {
		if r.Payments[i].IdempotencyKey == key {
			return &r.Payments[i]
		}
	}
	return nil
}

// PaymentByProviderRef returns the payment carrying the given external
// processor reference, or nil.
func (r *Receipt) PaymentByProviderRef(ref string) *payment.Payment {
	if ref == "" {
		return nil
	}
	for i := range r.Payments {
		if r.Payments[i].ProviderRef == ref {
			return &r.Payments[i]
		}
	}
	return nil
}

// IsOwner reports whether userID created the receipt.
func (r *Receipt) IsOwner(userID string) bool {
	return r.OwnerID == userID
}

// IsParticipant reports whether userID is on the receipt.
func (r *Receipt) IsParticipant(userID string) bool {
	for _, p := range r.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// AddParticipant appends a participant id if not already present and
// reports whether the set changed.
func (r *Receipt) AddParticipant(userID string) bool {
	if r.IsParticipant(userID) {
		return false
	}
	r.ParticipantIDs = append(r.ParticipantIDs, userID)
	return true
}

// RemoveParticipant drops a participant id and its cached display data.
func (r *Receipt) RemoveParticipant(userID string) {
	out := r.ParticipantIDs[:0]
	for _, p := range r.ParticipantIDs {
		if p != userID {
			out = append(out, p)
		}
	}
	r.ParticipantIDs = out

	people := r.Participants[:0]
	for _, p := range r.Participants {
		if p.UserID != userID {
			people = append(people, p)
		}
	}
	r.Participants = people
}

// HasClaimsBy reports whether userID has any item in Claimed or Paid state.
func (r *Receipt) HasClaimsBy(userID string) bool {
	for i := range r.Items {
		it := &r.Items[i]
		if it.ClaimedBy == userID && (it.State == ItemClaimed || it.State == ItemPaid) {
			return true
		}
	}
	return false
}

// Subtotal sums all item prices.
func (r *Receipt) Subtotal() types.Money {
	total := types.Zero(r.Currency)
	for i := range r.Items {
		total = total.Add(r.Items[i].Price)
	}
	return total
}

// Total is the recomputed receipt total: items + tax + service charge.
// Always derived, never trusted from input.
func (r *Receipt) Total() types.Money {
	return r.Subtotal().Add(r.Tax).Add(r.ServiceCharge)
}

// AllItemsPaid reports whether every item has reached Paid.
func (r *Receipt) AllItemsPaid() bool {
	if len(r.Items) == 0 {
		return false
	}
	for i := range r.Items {
		if r.Items[i].State != ItemPaid {
			return false
		}
	}
	return true
}

// HasConfirmedPayment reports whether any payment reached Confirmed.
func (r *Receipt) HasConfirmedPayment() bool {
	for i := range r.Payments {
		if r.Payments[i].Status == payment.StatusConfirmed {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the aggregate. Stores hand out clones so
// no caller ever mutates shared state outside a compare-and-set write.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	cp := *r

	cp.ParticipantIDs = append([]string(nil), r.ParticipantIDs...)
	cp.Participants = append([]Participant(nil), r.Participants...)
	cp.Items = append([]Item(nil), r.Items...)
	cp.Images = append([]Image(nil), r.Images...)

	cp.Payments = make([]payment.Payment, len(r.Payments))
	for i := range r.Payments {
		p := r.Payments[i]
		p.ItemIDs = append([]id.ItemID(nil), p.ItemIDs...)
		if p.ConfirmedAt != nil {
			t := *p.ConfirmedAt
			p.ConfirmedAt = &t
		}
		if p.FailedAt != nil {
			t := *p.FailedAt
			p.FailedAt = &t
		}
		cp.Payments[i] = p
	}
	return &cp
}
