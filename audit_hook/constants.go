package audithook

// Action constants for audit events.
const (
	// Receipt actions
	ActionReceiptCreated = "receipt.created"
	ActionReceiptSettled = "receipt.settled"
	ActionReceiptDeleted = "receipt.deleted"

	// Participant actions
	ActionParticipantAdded   = "participant.added"
	ActionParticipantRemoved = "participant.removed"

	// Claim actions
	ActionItemClaimed   = "item.claimed"
	ActionItemUnclaimed = "item.unclaimed"

	// Payment actions
	ActionPaymentInitiated = "payment.initiated"
	ActionPaymentConfirmed = "payment.confirmed"
	ActionPaymentFailed    = "payment.failed"

	// Processor actions
	ActionWebhookReceived = "webhook.received"
)

// Resource constants for audit events.
const (
	ResourceReceipt     = "receipt"
	ResourceParticipant = "participant"
	ResourceItem        = "item"
	ResourcePayment     = "payment"
	ResourceWebhook     = "webhook"
)

// Category constants for audit events.
const (
	CategoryReceipt     = "receipt"
	CategoryClaim       = "claim"
	CategoryPayment     = "payment"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
