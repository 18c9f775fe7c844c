package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/billsplit/settle"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/receipt"
)

type Store struct {
	mu sync.RWMutex

	// Receipt storage keyed by receipt ID
	receipts map[string]*receipt.Receipt

	// Provider reference index for webhook lookups
	byProviderRef map[string]string

	closed bool
}

func New() *Store {
	return &Store{
		receipts:      make(map[string]*receipt.Receipt),
		byProviderRef: make(map[string]string),
	}
}

func (s *Store) CreateReceipt(_ context.Context, r *receipt.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return settle.ErrStoreClosed
	}
	if _, exists := s.receipts[r.ID.String()]; exists {
		return settle.ErrAlreadyExists
	}

	r.Version = 1
	s.receipts[r.ID.String()] = r.Clone()
	s.reindex(r)
	return nil
}

func (s *Store) GetReceipt(_ context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, settle.ErrStoreClosed
	}
	if r, ok := s.receipts[receiptID.String()]; ok {
		return r.Clone(), nil
	}
	return nil, settle.ErrReceiptNotFound
}

func (s *Store) UpdateReceipt(_ context.Context, r *receipt.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return settle.ErrStoreClosed
	}
	stored, ok := s.receipts[r.ID.String()]
	if !ok {
		return settle.ErrReceiptNotFound
	}
	if stored.Version != r.Version {
		return settle.ErrVersionConflict
	}

	r.Version++
	r.Touch()
	s.receipts[r.ID.String()] = r.Clone()
	s.reindex(r)
	return nil
}

func (s *Store) DeleteReceipt(_ context.Context, receiptID id.ReceiptID, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return settle.ErrStoreClosed
	}
	stored, ok := s.receipts[receiptID.String()]
	if !ok {
		return settle.ErrReceiptNotFound
	}
	if stored.Version != version {
		return settle.ErrVersionConflict
	}

	for _, p := range stored.Payments {
		if p.ProviderRef != "" {
			delete(s.byProviderRef, p.ProviderRef)
		}
	}
	delete(s.receipts, receiptID.String())
	return nil
}

func (s *Store) ListReceiptsByUser(_ context.Context, userID string, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	result := make([]*receipt.Receipt, 0)
	for _, r := range s.receipts {
		if !r.IsParticipant(userID) {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		result = append(result, r.Clone())
	}

	// Newest first
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) FindReceiptByProviderRef(_ context.Context, providerRef string) (*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, settle.ErrStoreClosed
	}
	if rid, ok := s.byProviderRef[providerRef]; ok {
		if r, ok := s.receipts[rid]; ok {
			return r.Clone(), nil
		}
	}
	return nil, settle.ErrPaymentNotFound
}

// reindex refreshes the provider-ref index entries for a receipt.
// Caller holds the write lock.
func (s *Store) reindex(r *receipt.Receipt) {
	for _, p := range r.Payments {
		if p.ProviderRef != "" {
			s.byProviderRef[p.ProviderRef] = r.ID.String()
		}
	}
}

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return settle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
