package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalid means malformed input.
	ErrInvalid = errors.New("invalid")
	// ErrNotFound means the item does not exist or is outside the account.
	ErrNotFound = errors.New("item not found")
)

type Repository interface {
	// InTx runs fn in one transaction; repository calls made with the ctx
	// passed to fn join it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, item *ShoppingItem) error
	// LockByIDs returns the items that exist, in no particular order, without
	// purchase history. The rows stay locked until the enclosing transaction
	// ends.
	LockByIDs(ctx context.Context, ids []uuid.UUID) ([]*ShoppingItem, error)
	// FindActiveByName locks the matching row like LockByIDs.
	FindActiveByName(ctx context.Context, accountID uuid.UUID, productName string) (*ShoppingItem, error)
	Update(ctx context.Context, item *ShoppingItem) error
	// List returns live items of an account, needed ones first.
	List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ShoppingItem, int, error)
	// ListWithHistory returns every live item of an account with its purchase
	// history, oldest purchase first.
	ListWithHistory(ctx context.Context, accountID uuid.UUID) ([]*ShoppingItem, error)
	// ListInStockExpiringBefore returns in-stock items of every account whose
	// expiry is before cutoff.
	ListInStockExpiringBefore(ctx context.Context, cutoff time.Time) ([]*ShoppingItem, error)
	// SaveBatch writes item state and appends purchase records in one
	// transaction. Records whose (item, purchased_at, store) already exist
	// are skipped. last_purchased never moves backwards.
	SaveBatch(ctx context.Context, items []*ShoppingItem, records []*PurchaseRecord) error
}
