package settle

import (
	"context"

	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/receipt"
)

// ClaimItem assigns an unclaimed item to the calling participant. At most
// one user holds an item at any instant: two concurrent claims race on the
// aggregate version and exactly one write wins — the loser observes
// ErrVersionConflict, re-reads, and finds the item claimed.
//
// Claiming an item the caller already holds is a no-op, so a client retry
// after a lost response converges instead of erroring.
func (e *Engine) ClaimItem(ctx context.Context, userID string, receiptID id.ReceiptID, itemID id.ItemID) (*receipt.Receipt, error) {
	r, err := e.loadForMutation(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}

	it := r.Item(itemID)
	if it == nil {
		return nil, ErrItemNotFound
	}
	switch it.State {
	case receipt.ItemPaid:
		return nil, ErrItemPaid
	case receipt.ItemClaimed:
		if it.ClaimedBy == userID {
			return r, nil
		}
		return nil, ErrAlreadyClaimed
	}

	it.State = receipt.ItemClaimed
	it.ClaimedBy = userID

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return nil, err
	}

	e.logger.Debug("item claimed",
		"receipt_id", r.ID,
		"item_id", itemID,
		"user_id", userID,
	)
	e.plugins.EmitItemClaimed(ctx, r.ID.String(), itemID.String(), userID)
	return r, nil
}

// UnclaimItem releases a claim. Only the claimant or the receipt owner may
// release it, and never while a pending payment references the item or
// after the item is paid.
func (e *Engine) UnclaimItem(ctx context.Context, userID string, receiptID id.ReceiptID, itemID id.ItemID) (*receipt.Receipt, error) {
	r, err := e.loadForMutation(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}

	it := r.Item(itemID)
	if it == nil {
		return nil, ErrItemNotFound
	}
	switch it.State {
	case receipt.ItemPaid:
		return nil, ErrItemPaid
	case receipt.ItemUnclaimed:
		return nil, ErrNotClaimed
	}
	if it.ClaimedBy != userID && !r.IsOwner(userID) {
		return nil, ErrForbidden
	}
	if it.Locked {
		return nil, ErrItemLocked
	}

	claimant := it.ClaimedBy
	it.State = receipt.ItemUnclaimed
	it.ClaimedBy = ""

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return nil, err
	}

	e.logger.Debug("item unclaimed",
		"receipt_id", r.ID,
		"item_id", itemID,
		"claimant", claimant,
		"by", userID,
	)
	e.plugins.EmitItemUnclaimed(ctx, r.ID.String(), itemID.String(), claimant)
	return r, nil
}
