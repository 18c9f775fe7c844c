package mongo

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"

	"github.com/billsplit/settle/receipt"
)

// receiptModel is the document shape for a receipt aggregate. The
// aggregate itself lives under the document field as structured BSON so
// filters can reach into it (participant listing, provider-ref lookup);
// owner, status and version are lifted to the top level for indexing and
// the CAS filter.
type receiptModel struct {
	grove.BaseModel `grove:"table:settle_receipts"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	OwnerID   string    `grove:"owner_id"   bson:"owner_id"`
	Status    string    `grove:"status"     bson:"status"`
	Currency  string    `grove:"currency"   bson:"currency"`
	Version   int64     `grove:"version"    bson:"version"`
	Document  bson.M    `grove:"document"   bson:"document"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

// toReceiptModel round-trips the aggregate through its JSON form so the
// stored BSON uses the same field names the SQL backends index on.
func toReceiptModel(r *receipt.Receipt) (*receiptModel, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(raw, true, &doc); err != nil {
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
	raw, err := bson.MarshalExtJSON(m.Document, true, false)
	if err != nil {
		return nil, err
	}
	r := new(receipt.Receipt)
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, err
	}
	r.Version = m.Version
	r.CreatedAt = m.CreatedAt
	r.UpdatedAt = m.UpdatedAt
	return r, nil
}
