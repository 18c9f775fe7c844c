// Package plugin provides an extensible plugin system for Settle.
// Plugins can hook into receipt, claim and payment lifecycle events to
// extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Receipt lifecycle hooks
// ──────────────────────────────────────────────────

// OnReceiptCreated is called when a new receipt is created.
type OnReceiptCreated interface {
	Plugin
	OnReceiptCreated(ctx context.Context, receipt interface{}) error
}

// OnReceiptSettled is called when every item on a receipt reaches paid
// and the receipt moves to settled.
type OnReceiptSettled interface {
	Plugin
	OnReceiptSettled(ctx context.Context, receipt interface{}) error
}

// OnReceiptDeleted is called after a receipt is deleted.
type OnReceiptDeleted interface {
	Plugin
	OnReceiptDeleted(ctx context.Context, receiptID string, forced bool) error
}

// OnParticipantAdded is called when a participant joins a receipt.
type OnParticipantAdded interface {
	Plugin
	OnParticipantAdded(ctx context.Context, receiptID, userID string) error
}

// OnParticipantRemoved is called when a participant is removed.
type OnParticipantRemoved interface {
	Plugin
	OnParticipantRemoved(ctx context.Context, receiptID, userID string) error
}

// ──────────────────────────────────────────────────
// Claim hooks
// ──────────────────────────────────────────────────

// OnItemClaimed is called when a user claims an item.
type OnItemClaimed interface {
	Plugin
	OnItemClaimed(ctx context.Context, receiptID, itemID, userID string) error
}

// OnItemUnclaimed is called when a claim is released.
type OnItemUnclaimed interface {
	Plugin
	OnItemUnclaimed(ctx context.Context, receiptID, itemID, userID string) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentInitiated is called when a payment intent is created.
type OnPaymentInitiated interface {
	Plugin
	OnPaymentInitiated(ctx context.Context, payment interface{}) error
}

// OnPaymentConfirmed is called when a payment reaches confirmed.
type OnPaymentConfirmed interface {
	Plugin
	OnPaymentConfirmed(ctx context.Context, payment interface{}) error
}

// OnPaymentFailed is called when a payment reaches failed.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, payment interface{}, reason string) error
}

// OnWebhookReceived is called for every processor webhook delivery,
// duplicates included.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, providerRef string, payload []byte) error
}
