package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carehub/carehub/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, account_id, product_name, category, needed, in_stock, suspended, removed_at,
	last_purchased, expires_at, requested_by, added_by, created_at, updated_at`

func scanItem(row pgx.Row) (*ShoppingItem, error) {
	var i ShoppingItem
	err := row.Scan(&i.ID, &i.AccountID, &i.ProductName, &i.Category, &i.Needed, &i.InStock, &i.Suspended,
		&i.RemovedAt, &i.LastPurchased, &i.ExpiresAt, &i.RequestedBy, &i.AddedBy, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &i, err
}

func collectItems(rows pgx.Rows) ([]*ShoppingItem, error) {
	defer rows.Close()
	var out []*ShoppingItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func (r *repoPG) Create(ctx context.Context, item *ShoppingItem) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO shopping_items (id, account_id, product_name, category, needed, in_stock, suspended,
			last_purchased, expires_at, requested_by, added_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		item.ID, item.AccountID, item.ProductName, item.Category, item.Needed, item.InStock, item.Suspended,
		item.LastPurchased, item.ExpiresAt, nonNil(item.RequestedBy), nonNil(item.AddedBy),
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *repoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

func (r *repoPG) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]*ShoppingItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM shopping_items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *repoPG) FindActiveByName(ctx context.Context, accountID uuid.UUID, productName string) (*ShoppingItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `
		SELECT `+itemCols+` FROM shopping_items
		WHERE account_id = $1 AND lower(product_name) = lower($2) AND removed_at IS NULL
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE`, accountID, productName))
}

func (r *repoPG) Update(ctx context.Context, item *ShoppingItem) error {
	return r.update(ctx, r.conn(ctx), item)
}

func (r *repoPG) update(ctx context.Context, q querier, item *ShoppingItem) error {
	err := q.QueryRow(ctx, `
		UPDATE shopping_items SET
			product_name = $2, category = $3, needed = $4, in_stock = $5, suspended = $6, removed_at = $7,
			last_purchased = GREATEST(last_purchased, $8::timestamptz),
			expires_at = CASE
				WHEN last_purchased IS NULL OR $8::timestamptz IS NULL OR $8::timestamptz >= last_purchased THEN $9
				ELSE expires_at END,
			requested_by = $10, added_by = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING last_purchased, expires_at, updated_at`,
		item.ID, item.ProductName, item.Category, item.Needed, item.InStock, item.Suspended, item.RemovedAt,
		item.LastPurchased, item.ExpiresAt, nonNil(item.RequestedBy), nonNil(item.AddedBy),
	).Scan(&item.LastPurchased, &item.ExpiresAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ShoppingItem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM shopping_items WHERE account_id = $1 AND removed_at IS NULL`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM shopping_items
		WHERE account_id = $1 AND removed_at IS NULL
		ORDER BY needed DESC, lower(product_name)
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectItems(rows)
	return items, total, err
}

func (r *repoPG) ListWithHistory(ctx context.Context, accountID uuid.UUID) ([]*ShoppingItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM shopping_items
		WHERE account_id = $1 AND removed_at IS NULL
		ORDER BY lower(product_name)`, accountID)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil || len(items) == 0 {
		return items, err
	}
	if err := r.attachHistory(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repoPG) attachHistory(ctx context.Context, items []*ShoppingItem) error {
	byID := make(map[uuid.UUID]*ShoppingItem, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		byID[item.ID] = item
		ids = append(ids, item.ID)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, item_id, purchased_at, expires_at, store, batch_id, recorded_by, created_at
		FROM purchase_records
		WHERE item_id = ANY($1)
		ORDER BY purchased_at, created_at`, ids)
	if err != nil {
		return fmt.Errorf("load purchase history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rec        PurchaseRecord
			recordedBy *uuid.UUID
		)
		if err := rows.Scan(&rec.ID, &rec.ItemID, &rec.PurchasedAt, &rec.ExpiresAt, &rec.Store,
			&rec.BatchID, &recordedBy, &rec.CreatedAt); err != nil {
			return err
		}
		if recordedBy != nil {
			rec.RecordedBy = *recordedBy
		}
		if item := byID[rec.ItemID]; item != nil {
			item.PurchaseHistory = append(item.PurchaseHistory, &rec)
		}
	}
	return rows.Err()
}

func (r *repoPG) ListInStockExpiringBefore(ctx context.Context, cutoff time.Time) ([]*ShoppingItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM shopping_items
		WHERE in_stock AND removed_at IS NULL AND expires_at < $1
		ORDER BY account_id, expires_at`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *repoPG) SaveBatch(ctx context.Context, items []*ShoppingItem, records []*PurchaseRecord) error {
	return r.InTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		for _, item := range items {
			if err := r.update(ctx, q, item); err != nil {
				return fmt.Errorf("update item %s: %w", item.ID, err)
			}
		}
		for _, rec := range records {
			_, err := q.Exec(ctx, `
				INSERT INTO purchase_records (id, item_id, purchased_at, expires_at, store, batch_id, recorded_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (item_id, purchased_at, store) DO NOTHING`,
				rec.ID, rec.ItemID, rec.PurchasedAt, rec.ExpiresAt, rec.Store, rec.BatchID, rec.RecordedBy)
			if err != nil {
				return fmt.Errorf("insert purchase record: %w", err)
			}
		}
		return nil
	})
}
