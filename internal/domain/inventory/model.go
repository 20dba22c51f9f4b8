package inventory

import (
	"time"

	"github.com/google/uuid"
)

// ShoppingItem maps to the shopping_items table. PurchaseHistory is loaded
// from purchase_records, oldest first.
type ShoppingItem struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	AccountID       uuid.UUID         `db:"account_id" json:"account_id"`
	ProductName     string            `db:"product_name" json:"product_name"`
	Category        Category          `db:"category" json:"category"`
	Needed          bool              `db:"needed" json:"needed"`
	InStock         bool              `db:"in_stock" json:"in_stock"`
	Suspended       bool              `db:"suspended" json:"suspended"`
	RemovedAt       *time.Time        `db:"removed_at" json:"removed_at,omitempty"`
	LastPurchased   *time.Time        `db:"last_purchased" json:"last_purchased,omitempty"`
	ExpiresAt       *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	RequestedBy     []uuid.UUID       `db:"requested_by" json:"requested_by"`
	AddedBy         []uuid.UUID       `db:"added_by" json:"added_by"`
	PurchaseHistory []*PurchaseRecord `json:"purchase_history,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// Removed reports whether the item reached the terminal used/removed state.
func (i *ShoppingItem) Removed() bool {
	return i.RemovedAt != nil
}

// PurchaseRecord maps to purchase_records. Records are insert-only.
type PurchaseRecord struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ItemID      uuid.UUID  `db:"item_id" json:"item_id"`
	PurchasedAt time.Time  `db:"purchased_at" json:"purchased_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	Store       string     `db:"store" json:"store,omitempty"`
	BatchID     *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`
	RecordedBy  uuid.UUID  `db:"recorded_by" json:"recorded_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// SameKey reports whether r and o describe the same purchase for dedup.
func (r *PurchaseRecord) SameKey(o *PurchaseRecord) bool {
	return r.ItemID == o.ItemID && r.PurchasedAt.Equal(o.PurchasedAt) && r.Store == o.Store
}

// PurchaseOptions are the optional inputs of a purchase confirmation.
type PurchaseOptions struct {
	Store        string
	PurchaseDate *time.Time
}

// NewItem is the input for adding a product to the shopping list.
type NewItem struct {
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
}

// ItemResult is the outcome for one item of a batch.
type ItemResult struct {
	ItemID  uuid.UUID `json:"item_id"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchResult reports per-item outcomes. Success is true only when every item
// succeeded.
type BatchResult struct {
	Success bool         `json:"success"`
	BatchID uuid.UUID    `json:"batch_id"`
	Summary Summary      `json:"summary"`
	Results []ItemResult `json:"results"`
}

func (b *BatchResult) finalize() {
	b.Summary = Summary{Total: len(b.Results)}
	for _, r := range b.Results {
		if r.Success {
			b.Summary.Successful++
		} else {
			b.Summary.Failed++
		}
	}
	b.Success = b.Summary.Failed == 0 && b.Summary.Total > 0
}

// failAll reverts every success to a failure with msg.
func (b *BatchResult) failAll(msg string) {
	for i := range b.Results {
		if b.Results[i].Success {
			b.Results[i].Success = false
			b.Results[i].Error = msg
		}
	}
	b.finalize()
}

// Per-item failure messages.
const (
	MsgUnauthorized      = "Unauthorized"
	MsgItemNotFound      = "Item not found"
	MsgItemRemoved       = "Item removed"
	MsgBatchCommitFailed = "Batch commit failed"
)

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func addID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}
