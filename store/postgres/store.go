package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/billsplit/settle"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/receipt"
	settlestore "github.com/billsplit/settle/store"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("settle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("settle/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateReceipt(ctx context.Context, r *receipt.Receipt) error {
	r.Version = 1
	m, err := toReceiptModel(r)
	if err != nil {
		return fmt.Errorf("settle/postgres: encode receipt: %w", err)
	}
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error) {
	m := new(receiptModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", receiptID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrReceiptNotFound
		}
		return nil, err
	}
	return fromReceiptModel(m)
}

// UpdateReceipt writes the aggregate conditionally on the stored version
// matching r.Version. One conditional UPDATE carries both the version bump
// and the new document, so concurrent writers serialize on the version
// column and losers observe ErrVersionConflict.
func (s *Store) UpdateReceipt(ctx context.Context, r *receipt.Receipt) error {
	next := *r
	next.Version = r.Version + 1
	next.UpdatedAt = now()
	m, err := toReceiptModel(&next)
	if err != nil {
		return fmt.Errorf("settle/postgres: encode receipt: %w", err)
	}

	res, err := s.pg.NewUpdate((*receiptModel)(nil)).
		Set("owner_id = ?", m.OwnerID).
		Set("status = ?", m.Status).
		Set("currency = ?", m.Currency).
		Set("version = ?", m.Version).
		Set("document = ?", string(m.Document)).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", r.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.classifyMiss(ctx, r.ID)
	}

	r.Version = next.Version
	r.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *Store) DeleteReceipt(ctx context.Context, receiptID id.ReceiptID, version int64) error {
	res, err := s.pg.NewDelete((*receiptModel)(nil)).
		Where("id = ?", receiptID.String()).
		Where("version = ?", version).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.classifyMiss(ctx, receiptID)
	}
	return nil
}

func (s *Store) ListReceiptsByUser(ctx context.Context, userID string, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	var models []receiptModel
	q := s.pg.NewSelect(&models).
		Where(`document->'participant_ids' @> to_jsonb(?::text)`, userID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*receipt.Receipt, len(models))
	for i := range models {
		r, err := fromReceiptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) FindReceiptByProviderRef(ctx context.Context, providerRef string) (*receipt.Receipt, error) {
	m := new(receiptModel)
	err := s.pg.NewSelect(m).
		Where(`document->'payments' @> jsonb_build_array(jsonb_build_object('provider_ref', ?::text))`, providerRef).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromReceiptModel(m)
}

// classifyMiss disambiguates a zero-row conditional write: the receipt is
// either gone or the caller's version is stale.
func (s *Store) classifyMiss(ctx context.Context, receiptID id.ReceiptID) error {
	var n int64
	err := s.pg.NewRaw(
		`SELECT COUNT(1) FROM settle_receipts WHERE id = ?`,
		receiptID.String(),
	).Scan(ctx, &n)
	if err != nil {
		return err
	}
	if n == 0 {
		return settle.ErrReceiptNotFound
	}
	return settle.ErrVersionConflict
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
