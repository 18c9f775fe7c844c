// Package settlement computes balances for a receipt: who owes what once
// claims, tax, service charge, and confirmed payments are accounted for.
//
// Everything here is a pure function of the receipt aggregate. Identical
// input always yields identical output, so balances can be recomputed after
// every mutation without drift, and all arithmetic is in integer minor
// units — rounding never creates or destroys currency.
package settlement

import (
	"errors"
	"fmt"

	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/receipt"
	"github.com/billsplit/settle/types"
)

var (
	// ErrNoParticipants is returned for a receipt with an empty participant list.
	ErrNoParticipants = errors.New("settlement: receipt has no participants")

	// ErrItemNotEligible is returned by AmountDue when an item is not an
	// unpaid claim of the payer.
	ErrItemNotEligible = errors.New("settlement: item is not an unpaid claim of the payer")
)

// Share is one participant's slice of the receipt.
type Share struct {
	// Subtotal is the sum of item prices the participant has claimed,
	// including items already paid.
	Subtotal types.Money `json:"subtotal"`

	// Tax and ServiceCharge are the participant's proportional slices,
	// rounded by the largest-remainder method.
	Tax           types.Money `json:"tax"`
	ServiceCharge types.Money `json:"service_charge"`

	// Gross is Subtotal + Tax + ServiceCharge.
	Gross types.Money `json:"gross"`

	// Paid is the sum of the participant's confirmed payments.
	Paid types.Money `json:"paid"`

	// Owed is Gross − Paid: what the participant still has to settle.
	Owed types.Money `json:"owed"`
}

// Summary is the full balance picture for a receipt.
type Summary struct {
	Currency       string           `json:"currency"`
	PerParticipant map[string]Share `json:"per_participant"`

	// ReceiptTotal is the recomputed total: items + tax + service charge.
	ReceiptTotal types.Money `json:"receipt_total"`

	// PaidTotal is the sum of all confirmed payment amounts.
	PaidTotal types.Money `json:"paid_total"`

	// UnclaimedSubtotal is the price sum of items nobody has claimed.
	UnclaimedSubtotal types.Money `json:"unclaimed_subtotal"`

	// Outstanding is ReceiptTotal − PaidTotal.
	Outstanding types.Money `json:"outstanding"`

	// Provisional is set when nothing is claimed yet and tax/service were
	// split evenly across participants as a placeholder.
	Provisional bool `json:"provisional"`
}

// Compute derives the balance summary for a receipt.
//
// Tax and service charge are allocated proportionally to each participant's
// claimed subtotal over the claimed total. The last minor units of rounding
// remainder go to the participants with the largest fractional remainders,
// so the allocated shares always sum exactly to tax + service charge. When
// nothing is claimed yet the allocation falls back to an even split across
// all participants and the summary is flagged Provisional.
func Compute(r *receipt.Receipt) (*Summary, error) {
	if len(r.ParticipantIDs) == 0 {
		return nil, ErrNoParticipants
	}

	currency := r.Currency
	summary := &Summary{
		Currency:       currency,
		PerParticipant: make(map[string]Share, len(r.ParticipantIDs)),
		ReceiptTotal:   r.Total(),
	}

	// Claimed subtotals per participant, in participant order for
	// deterministic remainder distribution.
	subtotals := make([]int64, len(r.ParticipantIDs))
	index := make(map[string]int, len(r.ParticipantIDs))
	for i, p := range r.ParticipantIDs {
		index[p] = i
	}

	var claimedTotal int64
	unclaimed := types.Zero(currency)
	for i := range r.Items {
		it := &r.Items[i]
		if it.State == receipt.ItemUnclaimed {
			unclaimed = unclaimed.Add(it.Price)
			continue
		}
		pos, ok := index[it.ClaimedBy]
		if !ok {
			return nil, fmt.Errorf("settlement: item %s claimed by non-participant %q", it.ID, it.ClaimedBy)
		}
		subtotals[pos] += it.Price.Amount
		claimedTotal += it.Price.Amount
	}
	summary.UnclaimedSubtotal = unclaimed

	weights := subtotals
	if claimedTotal == 0 {
		// Nothing claimed yet: even provisional split.
		summary.Provisional = true
		weights = make([]int64, len(r.ParticipantIDs))
		for i := range weights {
			weights[i] = 1
		}
	}

	taxShares := allocate(r.Tax.Amount, weights)
	serviceShares := allocate(r.ServiceCharge.Amount, weights)

	paidByUser := make(map[string]int64)
	paidTotal := types.Zero(currency)
	for i := range r.Payments {
		p := &r.Payments[i]
		if p.Status != payment.StatusConfirmed {
			continue
		}
		paidByUser[p.PayerID] += p.Amount.Amount
		paidTotal = paidTotal.Add(p.Amount)
	}
	summary.PaidTotal = paidTotal
	summary.Outstanding = summary.ReceiptTotal.Subtract(paidTotal)

	for i, userID := range r.ParticipantIDs {
		sub := types.Money{Amount: subtotals[i], Currency: currency}
		tax := types.Money{Amount: taxShares[i], Currency: currency}
		svc := types.Money{Amount: serviceShares[i], Currency: currency}
		gross := sub.Add(tax).Add(svc)
		paid := types.Money{Amount: paidByUser[userID], Currency: currency}

		summary.PerParticipant[userID] = Share{
			Subtotal:      sub,
			Tax:           tax,
			ServiceCharge: svc,
			Gross:         gross,
			Paid:          paid,
			Owed:          gross.Subtract(paid),
		}
	}

	return summary, nil
}

// AmountDue computes the exact amount a payment by payerID for the given
// items must carry: the item prices plus the slice of the payer's tax and
// service-charge share attributable to those items.
//
// The payer's share from Compute is distributed across the payer's claimed
// items by price (largest remainder again), so paying claimed items in any
// partition of subsets always sums to exactly the payer's gross share.
func AmountDue(r *receipt.Receipt, payerID string, itemIDs []id.ItemID) (types.Money, error) {
	summary, err := Compute(r)
	if err != nil {
		return types.Money{}, err
	}
	share, ok := summary.PerParticipant[payerID]
	if !ok {
		return types.Money{}, ErrNoParticipants
	}

	// The payer's claimed items, in receipt order.
	var claimed []*receipt.Item
	for i := range r.Items {
		it := &r.Items[i]
		if it.ClaimedBy == payerID && (it.State == receipt.ItemClaimed || it.State == receipt.ItemPaid) {
			claimed = append(claimed, it)
		}
	}
	if len(claimed) == 0 {
		return types.Money{}, ErrItemNotEligible
	}

	weights := make([]int64, len(claimed))
	for i, it := range claimed {
		weights[i] = it.Price.Amount
	}
	taxShares := allocate(share.Tax.Amount, weights)
	serviceShares := allocate(share.ServiceCharge.Amount, weights)

	perItem := make(map[string]int64, len(claimed))
	for i, it := range claimed {
		perItem[it.ID.String()] = it.Price.Amount + taxShares[i] + serviceShares[i]
	}

	total := types.Zero(r.Currency)
	for _, itemID := range itemIDs {
		it := r.Item(itemID)
		if it == nil || it.ClaimedBy != payerID || it.State != receipt.ItemClaimed {
			return types.Money{}, ErrItemNotEligible
		}
		total = total.Add(types.Money{Amount: perItem[it.ID.String()], Currency: r.Currency})
	}
	return total, nil
}

// allocate splits total across weights proportionally using the
// largest-remainder method. The returned shares always sum to total.
// A zero weight sum falls back to an even split by count.
func allocate(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if len(weights) == 0 || total == 0 {
		return shares
	}

	var sum int64
	for _, w := range weights {
		sum += w
	}

	if sum == 0 {
		base := total / int64(len(weights))
		rem := total % int64(len(weights))
		for i := range shares {
			shares[i] = base
			if int64(i) < rem {
				shares[i]++
			}
		}
		return shares
	}

	var allocated int64
	remainders := make([]int64, len(weights))
	for i, w := range weights {
		shares[i] = total * w / sum
		remainders[i] = (total * w) % sum
		allocated += shares[i]
	}

	// Hand the leftover units to the largest fractional remainders,
	// first-listed wins ties.
	for allocated < total {
		best := -1
		for i := range remainders {
			if best == -1 || remainders[i] > remainders[best] {
				best = i
			}
		}
		shares[best]++
		remainders[best] = -1
		allocated++
	}
	return shares
}
