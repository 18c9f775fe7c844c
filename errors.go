package settle

import (
	"errors"
	"fmt"

	"github.com/billsplit/settle/identity"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("settle: not found")
	ErrAlreadyExists = errors.New("settle: already exists")
	ErrInvalidInput  = errors.New("settle: invalid input")
	ErrForbidden     = errors.New("settle: forbidden")

	// ErrUnauthenticated lives in the identity package so verifier
	// implementations can return it without importing the root.
	ErrUnauthenticated = identity.ErrUnauthenticated

	// Receipt errors
	ErrReceiptNotFound    = errors.New("settle: receipt not found")
	ErrReceiptSettled     = errors.New("settle: receipt is settled")
	ErrReceiptDeleted     = errors.New("settle: receipt is deleted")
	ErrNotParticipant     = errors.New("settle: user is not a receipt participant")
	ErrHasActiveClaim     = errors.New("settle: participant has claimed or paid items")
	ErrHasConfirmedPayment = errors.New("settle: receipt has confirmed payments")

	// Claim errors
	ErrItemNotFound   = errors.New("settle: item not found")
	ErrAlreadyClaimed = errors.New("settle: item already claimed by another participant")
	ErrNotClaimed     = errors.New("settle: item is not claimed")
	ErrItemPaid       = errors.New("settle: item is already paid")
	ErrItemLocked     = errors.New("settle: item is locked by a pending payment")

	// Payment errors
	ErrPaymentNotFound = errors.New("settle: payment not found")
	ErrPaymentPending  = errors.New("settle: an identical payment is already pending")
	ErrPaymentSettled  = errors.New("settle: payment already reached a terminal state")
	ErrAmountMismatch  = errors.New("settle: payment amount does not match computed share")
	ErrStaleClaim      = errors.New("settle: item claims changed since payment was initiated")

	// Store errors
	ErrVersionConflict = errors.New("settle: concurrent modification, re-read and retry")
	ErrStoreClosed     = errors.New("settle: store is closed")
	ErrMigrationFailed = errors.New("settle: migration failed")

	// Collaborator errors
	ErrProviderNotConfigured = errors.New("settle: payment provider not configured")
	ErrAnalyzerNotConfigured = errors.New("settle: receipt analyzer not configured")
	ErrBlobNotConfigured     = errors.New("settle: blob storage not configured")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("settle: validation failed for %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidInput so that callers
// can classify without knowing the concrete field.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsConflict returns true if the error is a concurrent-modification race.
// Callers should re-read the receipt and retry the operation; the engine
// never retries internally.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsDomain returns true if the error is an expected domain-rule violation
// that should surface to the user as an actionable message rather than an
// internal failure.
func IsDomain(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrNotClaimed) ||
		errors.Is(err, ErrItemPaid) ||
		errors.Is(err, ErrItemLocked) ||
		errors.Is(err, ErrHasActiveClaim) ||
		errors.Is(err, ErrPaymentPending) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrStaleClaim) ||
		errors.Is(err, ErrHasConfirmedPayment) ||
		errors.Is(err, ErrReceiptSettled) ||
		errors.Is(err, ErrReceiptDeleted)
}

// IsForbidden returns true if the error is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotParticipant) ||
		errors.Is(err, ErrUnauthenticated)
}
