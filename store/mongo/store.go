package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/billsplit/settle"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/receipt"
	settlestore "github.com/billsplit/settle/store"
)

const colReceipts = "settle_receipts"

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for the receipts collection.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "document.participant_ids", Value: 1}}},
		{Keys: bson.D{{Key: "document.payments.provider_ref", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.mdb.Collection(colReceipts).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("settle/mongo: migrate %s indexes: %w", colReceipts, err)
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
		return fmt.Errorf("settle/mongo: encode receipt: %w", err)
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("settle/mongo: create receipt: %w", err)
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error) {
	var m receiptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": receiptID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get receipt: %w", err)
	}
	return fromReceiptModel(&m)
}

// UpdateReceipt replaces the aggregate document, filtered on both id and
// the caller's version. A matched count of zero means the receipt is gone
// or another writer got there first.
func (s *Store) UpdateReceipt(ctx context.Context, r *receipt.Receipt) error {
	next := *r
	next.Version = r.Version + 1
	next.UpdatedAt = now()
	m, err := toReceiptModel(&next)
	if err != nil {
		return fmt.Errorf("settle/mongo: encode receipt: %w", err)
	}

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": r.Version}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("settle/mongo: update receipt: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.classifyMiss(ctx, r.ID)
	}

	r.Version = next.Version
	r.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *Store) DeleteReceipt(ctx context.Context, receiptID id.ReceiptID, version int64) error {
	res, err := s.mdb.NewDelete((*receiptModel)(nil)).
		Filter(bson.M{"_id": receiptID.String(), "version": version}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("settle/mongo: delete receipt: %w", err)
	}
	if res.DeletedCount() == 0 {
		return s.classifyMiss(ctx, receiptID)
	}
	return nil
}

func (s *Store) ListReceiptsByUser(ctx context.Context, userID string, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	filter := bson.M{"document.participant_ids": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	var models []receiptModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("settle/mongo: list receipts: %w", err)
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
	var m receiptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"document.payments.provider_ref": providerRef}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("settle/mongo: find by provider ref: %w", err)
	}
	return fromReceiptModel(&m)
}

// classifyMiss disambiguates a zero-match conditional write.
func (s *Store) classifyMiss(ctx context.Context, receiptID id.ReceiptID) error {
	var m receiptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": receiptID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return settle.ErrReceiptNotFound
		}
		return err
	}
	return settle.ErrVersionConflict
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
