package store

import (
	"context"

	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/receipt"
)

// Store is the storage interface for receipt aggregates. A receipt and
// everything hanging off it (items, payments, participants, images) is
// persisted as a single versioned document; UpdateReceipt performs a
// compare-and-set on the document version and returns
// settle.ErrVersionConflict when the caller's copy is stale.
type Store interface {
	// CreateReceipt persists a new receipt at version 1.
	CreateReceipt(ctx context.Context, r *receipt.Receipt) error

	// GetReceipt loads a receipt by ID, deleted ones included.
	GetReceipt(ctx context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error)

	// UpdateReceipt writes the receipt if the stored version still matches
	// r.Version, then bumps r.Version on success.
	UpdateReceipt(ctx context.Context, r *receipt.Receipt) error

	// DeleteReceipt permanently removes the receipt document and everything
	// inside it, conditional on the version still matching. Soft deletion
	// goes through UpdateReceipt with StatusDeleted instead.
	DeleteReceipt(ctx context.Context, receiptID id.ReceiptID, version int64) error

	// ListReceiptsByUser returns receipts the user owns or participates in,
	// newest first.
	ListReceiptsByUser(ctx context.Context, userID string, opts receipt.ListOpts) ([]*receipt.Receipt, error)

	// FindReceiptByProviderRef locates the receipt holding a payment with
	// the given provider reference. Used by webhook reconciliation.
	FindReceiptByProviderRef(ctx context.Context, providerRef string) (*receipt.Receipt, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
