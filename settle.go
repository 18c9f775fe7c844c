package settle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/billsplit/settle/blob"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/identity"
	"github.com/billsplit/settle/plugin"
	"github.com/billsplit/settle/processor"
	"github.com/billsplit/settle/receipt"
	"github.com/billsplit/settle/settlement"
	"github.com/billsplit/settle/store"
	"github.com/billsplit/settle/types"
	"github.com/billsplit/settle/vision"
)

// Engine is the receipt settlement core. All mutations go through a
// read-modify-write cycle against the store's version token; a concurrent
// writer losing the race observes ErrVersionConflict and must re-read.
// The engine never retries internally.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	verifier identity.Verifier
	analyzer vision.Analyzer
	blobs    blob.Storage
	provider processor.Provider

	now func() time.Time
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithIdentity sets the identity verifier used by Authenticate.
func WithIdentity(v identity.Verifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

// WithAnalyzer sets the receipt-image analyzer.
func WithAnalyzer(a vision.Analyzer) Option {
	return func(e *Engine) {
		e.analyzer = a
	}
}

// WithBlobStorage sets the image blob storage.
func WithBlobStorage(b blob.Storage) Option {
	return func(e *Engine) {
		e.blobs = b
	}
}

// WithPaymentProvider sets the external payment processor.
func WithPaymentProvider(p processor.Provider) Option {
	return func(e *Engine) {
		e.provider = p
	}
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("settle engine started", "plugins", e.plugins.Count())
	return nil
}

// Stop shuts down the engine.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Plugins exposes the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Authenticate resolves a bearer credential to a caller identity through
// the configured verifier. The returned UserID is trusted as the caller
// for every engine operation.
func (e *Engine) Authenticate(ctx context.Context, credential string) (*identity.Identity, error) {
	if e.verifier == nil {
		return nil, ErrUnauthenticated
	}
	return e.verifier.Verify(ctx, credential)
}

// ──────────────────────────────────────────────────
// Receipt lifecycle
// ──────────────────────────────────────────────────

// ItemInput is one line item supplied at creation or append time.
type ItemInput struct {
	Name  string      `json:"name"`
	Price types.Money `json:"price"`
}

// ImageUpload is a receipt photo to store alongside the receipt.
type ImageUpload struct {
	Data        []byte
	ContentType string
}

// CreateReceiptInput carries everything needed to open a receipt.
type CreateReceiptInput struct {
	Title          string
	Currency       string
	Items          []ItemInput
	ParticipantIDs []string
	Tax            types.Money
	ServiceCharge  types.Money
	Images         []ImageUpload

	// Participants optionally carries display data for the listed ids.
	Participants []receipt.Participant
}

// CreateReceipt validates and persists a new receipt in a single atomic
// write. The owner is always inserted into the participant list.
func (e *Engine) CreateReceipt(ctx context.Context, ownerID string, in CreateReceiptInput) (*receipt.Receipt, error) {
	if ownerID == "" {
		return nil, ValidationError{Field: "owner", Message: "owner id is required"}
	}
	if err := validateItems(in.Items); err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = in.Items[0].Price.Currency
	}
	for i, it := range in.Items {
		if it.Price.Currency != currency {
			return nil, ValidationError{Field: fmt.Sprintf("items[%d].price", i), Message: "currency mismatch"}
		}
	}

	tax := in.Tax
	if tax.Currency == "" {
		tax = types.Zero(currency)
	}
	service := in.ServiceCharge
	if service.Currency == "" {
		service = types.Zero(currency)
	}
	if tax.Currency != currency || service.Currency != currency {
		return nil, ValidationError{Field: "tax", Message: "currency mismatch"}
	}
	if tax.IsNegative() || service.IsNegative() {
		return nil, ValidationError{Field: "tax", Message: "must be non-negative"}
	}

	r := &receipt.Receipt{
		Entity:        types.NewEntity(),
		ID:            id.NewReceiptID(),
		Title:         in.Title,
		OwnerID:       ownerID,
		Currency:      currency,
		Status:        receipt.StatusOpen,
		Tax:           tax,
		ServiceCharge: service,
	}
	r.AddParticipant(ownerID)
	for _, p := range in.ParticipantIDs {
		r.AddParticipant(p)
	}
	for _, p := range in.Participants {
		if r.IsParticipant(p.UserID) {
			r.Participants = append(r.Participants, p)
		}
	}

	for _, it := range in.Items {
		r.Items = append(r.Items, receipt.Item{
			ID:    id.NewItemID(),
			Name:  it.Name,
			Price: it.Price,
			State: receipt.ItemUnclaimed,
		})
	}

	uploaded, err := e.storeImages(ctx, r, in.Images)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateReceipt(ctx, r); err != nil {
		// Creation failed after upload: don't leak orphan blobs.
		e.deleteImages(ctx, uploaded)
		return nil, err
	}

	e.logger.Info("receipt created",
		"receipt_id", r.ID,
		"owner_id", ownerID,
		"items", len(r.Items),
		"total", r.Total(),
	)
	e.plugins.EmitReceiptCreated(ctx, r)
	return r, nil
}

// CreateReceiptFromAnalysis runs a receipt image through the configured
// analyzer and opens a receipt from the extracted items, applying the same
// validation as manual entry. The image is attached to the receipt.
func (e *Engine) CreateReceiptFromAnalysis(ctx context.Context, ownerID string, image []byte, contentType, currency string, participantIDs []string) (*receipt.Receipt, error) {
	if e.analyzer == nil {
		return nil, ErrAnalyzerNotConfigured
	}
	if currency == "" {
		return nil, ValidationError{Field: "currency", Message: "currency is required"}
	}

	analysis, err := e.analyzer.Analyze(ctx, image, contentType)
	if err != nil {
		return nil, fmt.Errorf("settle: receipt analysis: %w", err)
	}

	in := CreateReceiptInput{
		Title:          analysis.Title,
		Currency:       currency,
		ParticipantIDs: participantIDs,
		Tax:            types.FromMajorFloat(analysis.Tax, currency),
		ServiceCharge:  types.FromMajorFloat(analysis.ServiceCharge, currency),
		Images:         []ImageUpload{{Data: image, ContentType: contentType}},
	}
	for _, li := range analysis.Items {
		in.Items = append(in.Items, ItemInput{
			Name:  li.Name,
			Price: types.FromMajorFloat(li.Price, currency),
		})
	}

	return e.CreateReceipt(ctx, ownerID, in)
}

// GetReceipt returns the receipt snapshot to a participant.
func (e *Engine) GetReceipt(ctx context.Context, userID string, receiptID id.ReceiptID) (*receipt.Receipt, error) {
	r, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return r, nil
}

// ListReceipts returns receipts the user owns or participates in.
func (e *Engine) ListReceipts(ctx context.Context, userID string, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	return e.store.ListReceiptsByUser(ctx, userID, opts)
}

// Settlement computes the balance summary for a participant.
func (e *Engine) Settlement(ctx context.Context, userID string, receiptID id.ReceiptID) (*settlement.Summary, error) {
	r, err := e.GetReceipt(ctx, userID, receiptID)
	if err != nil {
		return nil, err
	}
	return settlement.Compute(r)
}

// AddItems appends items to an open receipt. Owner only.
func (e *Engine) AddItems(ctx context.Context, userID string, receiptID id.ReceiptID, items []ItemInput) (*receipt.Receipt, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	r, err := e.loadForMutation(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if !r.IsOwner(userID) {
		return nil, ErrForbidden
	}
	for i, it := range items {
		if it.Price.Currency != r.Currency {
			return nil, ValidationError{Field: fmt.Sprintf("items[%d].price", i), Message: "currency mismatch"}
		}
	}

	for _, it := range items {
		r.Items = append(r.Items, receipt.Item{
			ID:    id.NewItemID(),
			Name:  it.Name,
			Price: it.Price,
			State: receipt.ItemUnclaimed,
		})
	}

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// AddParticipant adds a user to the receipt. Owner only.
func (e *Engine) AddParticipant(ctx context.Context, userID string, receiptID id.ReceiptID, p receipt.Participant) (*receipt.Receipt, error) {
	if p.UserID == "" {
		return nil, ValidationError{Field: "participant.user_id", Message: "user id is required"}
	}

	r, err := e.loadForMutation(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if !r.IsOwner(userID) {
		return nil, ErrForbidden
	}

	if !r.AddParticipant(p.UserID) {
		// Already present; nothing to write.
		return r, nil
	}
	if p.DisplayName != "" || p.Email != "" || p.AvatarURL != "" {
		r.Participants = append(r.Participants, p)
	}

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return nil, err
	}

	e.plugins.EmitParticipantAdded(ctx, r.ID.String(), p.UserID)
	return r, nil
}

// RemoveParticipant removes a user from the receipt. Owner only. A
// participant holding claimed or paid items cannot be removed; their
// items must be unclaimed or reassigned first.
func (e *Engine) RemoveParticipant(ctx context.Context, userID string, receiptID id.ReceiptID, removeID string) (*receipt.Receipt, error) {
	r, err := e.loadForMutation(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if !r.IsOwner(userID) {
		return nil, ErrForbidden
	}
	if removeID == r.OwnerID {
		return nil, ValidationError{Field: "participant", Message: "owner cannot be removed"}
	}
	if !r.IsParticipant(removeID) {
		return nil, ErrNotParticipant
	}
	if r.HasClaimsBy(removeID) {
		return nil, ErrHasActiveClaim
	}

	r.RemoveParticipant(removeID)

	if err := e.store.UpdateReceipt(ctx, r); err != nil {
		return nil, err
	}

	e.plugins.EmitParticipantRemoved(ctx, r.ID.String(), removeID)
	return r, nil
}

// DeleteReceipt deletes a receipt. Owner only. A receipt holding
// confirmed payments refuses deletion unless force is set, so payment
// history is never destroyed silently. Deletion cascades to the stored
// images. Non-forced deletion keeps the document around in Deleted state;
// forced deletion removes it permanently.
func (e *Engine) DeleteReceipt(ctx context.Context, userID string, receiptID id.ReceiptID, force bool) error {
	r, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	if !r.IsOwner(userID) {
		return ErrForbidden
	}
	if r.Status == receipt.StatusDeleted && !force {
		return ErrReceiptDeleted
	}
	if r.HasConfirmedPayment() && !force {
		return ErrHasConfirmedPayment
	}

	e.deleteImages(ctx, r.Images)
	r.Images = nil

	if force {
		err = e.store.DeleteReceipt(ctx, r.ID, r.Version)
	} else {
		r.Status = receipt.StatusDeleted
		err = e.store.UpdateReceipt(ctx, r)
	}
	if err != nil {
		return err
	}

	e.logger.Info("receipt deleted", "receipt_id", r.ID, "forced", force)
	e.plugins.EmitReceiptDeleted(ctx, r.ID.String(), force)
	return nil
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// loadForMutation loads a receipt that is still open for changes.
func (e *Engine) loadForMutation(ctx context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error) {
	r, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case receipt.StatusDeleted:
		return nil, ErrReceiptDeleted
	case receipt.StatusSettled:
		return nil, ErrReceiptSettled
	}
	return r, nil
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return ValidationError{Field: "items", Message: "at least one item is required"}
	}
	for i, it := range items {
		if it.Name == "" {
			return ValidationError{Field: fmt.Sprintf("items[%d].name", i), Message: "name is required"}
		}
		if it.Price.IsNegative() {
			return ValidationError{Field: fmt.Sprintf("items[%d].price", i), Message: "price must be non-negative"}
		}
		if it.Price.Currency == "" {
			return ValidationError{Field: fmt.Sprintf("items[%d].price", i), Message: "currency is required"}
		}
	}
	return nil
}

func (e *Engine) storeImages(ctx context.Context, r *receipt.Receipt, uploads []ImageUpload) ([]receipt.Image, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if e.blobs == nil {
		return nil, ErrBlobNotConfigured
	}

	var stored []receipt.Image
	for _, up := range uploads {
		url, err := e.blobs.Store(ctx, up.Data, up.ContentType)
		if err != nil {
			e.deleteImages(ctx, stored)
			return nil, fmt.Errorf("settle: store image: %w", err)
		}
		img := receipt.Image{
			ID:          id.NewImageID(),
			URL:         url,
			ContentType: up.ContentType,
		}
		stored = append(stored, img)
		r.Images = append(r.Images, img)
	}
	return stored, nil
}

// deleteImages removes blobs best-effort; a failed delete is logged and
// skipped so the deletion cascade never blocks on storage hiccups.
func (e *Engine) deleteImages(ctx context.Context, images []receipt.Image) {
	if e.blobs == nil || len(images) == 0 {
		return
	}
	for _, img := range images {
		if err := e.blobs.Delete(ctx, img.URL); err != nil {
			e.logger.Warn("image delete failed", "url", img.URL, "error", err)
		}
	}
}
