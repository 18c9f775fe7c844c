package postgres

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/billsplit/settle/receipt"
)

// receiptModel is the row shape for a receipt aggregate. The document
// column holds the whole aggregate as JSONB; owner, status and version
// are lifted into columns for indexing and the CAS check.
type receiptModel struct {
	grove.BaseModel `grove:"table:settle_receipts"`

	ID        string          `grove:"id,pk"`
	OwnerID   string          `grove:"owner_id"`
	Status    string          `grove:"status"`
	Currency  string          `grove:"currency"`
	Version   int64           `grove:"version"`
	Document  json.RawMessage `grove:"document,type:jsonb"`
	CreatedAt time.Time       `grove:"created_at"`
	UpdatedAt time.Time       `grove:"updated_at"`
}

func toReceiptModel(r *receipt.Receipt) (*receiptModel, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &receiptModel{
		ID:        r.ID.String(),
		OwnerID:   r.OwnerID,
		Status:    string(r.Status),
		Currency:  r.Currency,
		Version:   r.Version,
		Document:  doc,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func fromReceiptModel(m *receiptModel) (*receipt.Receipt, error) {
	r := new(receipt.Receipt)
	if err := json.Unmarshal(m.Document, r); err != nil {
		return nil, err
	}
	r.Version = m.Version
	r.CreatedAt = m.CreatedAt
	r.UpdatedAt = m.UpdatedAt
	return r, nil
}
