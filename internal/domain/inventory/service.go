package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carehub/carehub/internal/platform/websocket"
)

// EventShoppingUpdated is published on the account topic after a batch commits.
const EventShoppingUpdated = "shopping.updated"

// AlertPublisher delivers expiry alerts, e.g. to an SNS topic.
type AlertPublisher interface {
	Publish(ctx context.Context, subject, message string, attributes map[string]string) error
}

// Service owns shopping item state transitions. Callers resolve and
// authorize the account before calling in; the service only checks that
// every item belongs to that account.
type Service struct {
	repo   Repository
	events websocket.EventPublisher
	alerts AlertPublisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "inventory").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEventPublisher attaches the realtime channel used after batch commits.
func (s *Service) SetEventPublisher(p websocket.EventPublisher) {
	s.events = p
}

// SetAlertPublisher attaches the expiry alert channel.
func (s *Service) SetAlertPublisher(p AlertPublisher) {
	s.alerts = p
}

// AddItem puts a product on the shopping list. An existing live item with the
// same name is marked needed again and the actor joins its requesters.
func (s *Service) AddItem(ctx context.Context, accountID, actorID uuid.UUID, in NewItem) (*ShoppingItem, error) {
	name := strings.Join(strings.Fields(in.ProductName), " ")
	if name == "" {
		return nil, fmt.Errorf("%w: product_name is required", ErrInvalid)
	}
	var merged *ShoppingItem
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindActiveByName(ctx, accountID, name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find item: %w", err)
		}
		existing.Needed = true
		existing.RequestedBy = addID(existing.RequestedBy, actorID)
		if in.Category != "" {
			existing.Category = NormalizeCategory(in.Category)
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		merged = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	if merged != nil {
		s.publish(ctx, accountID, actorID, "add_item", []uuid.UUID{merged.ID})
		return merged, nil
	}

	item := &ShoppingItem{
		ID:          uuid.New(),
		AccountID:   accountID,
		ProductName: name,
		Category:    NormalizeCategory(in.Category),
		Needed:      true,
		RequestedBy: []uuid.UUID{actorID},
		AddedBy:     []uuid.UUID{actorID},
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	s.publish(ctx, accountID, actorID, "add_item", []uuid.UUID{item.ID})
	return item, nil
}

func (s *Service) ListItems(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ShoppingItem, int, error) {
	return s.repo.List(ctx, accountID, limit, offset)
}

// ItemsWithHistory returns the account's live items with purchase history.
func (s *Service) ItemsWithHistory(ctx context.Context, accountID uuid.UUID) ([]*ShoppingItem, error) {
	return s.repo.ListWithHistory(ctx, accountID)
}

// ExpiringItems groups the account's in-stock items by expiry day.
func (s *Service) ExpiringItems(ctx context.Context, accountID uuid.UUID) ([]ExpirationDay, error) {
	items, err := s.repo.ListWithHistory(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return GroupByExpiration(items, s.now()), nil
}

// Apply dispatches a decoded ShoppingAction.
func (s *Service) Apply(ctx context.Context, accountID, actorID uuid.UUID, action ShoppingAction) (*BatchResult, error) {
	switch a := action.(type) {
	case ConfirmPurchaseAction:
		return s.ConfirmPurchase(ctx, accountID, actorID, a.ItemIDs, a.Options)
	case SuspendAction:
		return s.runBatch(ctx, accountID, actorID, a.Name(), a.ItemIDs, func(item *ShoppingItem) {
			item.Suspended = true
		})
	case UnsuspendAction:
		return s.runBatch(ctx, accountID, actorID, a.Name(), a.ItemIDs, func(item *ShoppingItem) {
			item.Suspended = false
		})
	case MarkNeededAction:
		return s.runBatch(ctx, accountID, actorID, a.Name(), a.ItemIDs, func(item *ShoppingItem) {
			item.Needed = true
			item.RequestedBy = addID(item.RequestedBy, actorID)
		})
	case MarkUsedAction:
		now := s.now()
		return s.runBatch(ctx, accountID, actorID, a.Name(), a.ItemIDs, func(item *ShoppingItem) {
			item.RemovedAt = &now
			item.InStock = false
			item.Needed = false
		})
	default:
		return nil, fmt.Errorf("%w: unsupported action %T", ErrInvalid, action)
	}
}

// ConfirmPurchase records the purchase of itemIDs. Items that do not belong
// to accountID fail individually; the rest are committed together, and if
// that commit fails every item is reported as failed.
func (s *Service) ConfirmPurchase(ctx context.Context, accountID, actorID uuid.UUID, itemIDs []uuid.UUID, opts PurchaseOptions) (*BatchResult, error) {
	purchasedAt := s.now()
	if opts.PurchaseDate != nil && !opts.PurchaseDate.IsZero() {
		purchasedAt = opts.PurchaseDate.UTC()
	}
	store := strings.TrimSpace(opts.Store)
	batchID := uuid.New()

	var records []*PurchaseRecord
	result, err := s.batch(ctx, accountID, "confirm_purchase", itemIDs, func(item *ShoppingItem) {
		expiresAt := ExpirationDate(item.Category, purchasedAt)
		item.Category = NormalizeCategory(string(item.Category))
		// A replayed or backdated confirmation only adds history; stock
		// state follows the latest purchase.
		if item.LastPurchased == nil || !purchasedAt.Before(*item.LastPurchased) {
			item.InStock = true
			item.Needed = false
			item.LastPurchased = &purchasedAt
			item.ExpiresAt = &expiresAt
		}
		item.AddedBy = addID(item.AddedBy, actorID)
		records = append(records, &PurchaseRecord{
			ID:          uuid.New(),
			ItemID:      item.ID,
			PurchasedAt: purchasedAt,
			ExpiresAt:   expiresAt,
			Store:       store,
			BatchID:     &batchID,
			RecordedBy:  actorID,
		})
	}, func(ctx context.Context, items []*ShoppingItem) error {
		return s.repo.SaveBatch(ctx, items, records)
	})
	if err != nil {
		return nil, err
	}
	result.BatchID = batchID
	s.afterBatch(ctx, accountID, actorID, "confirm_purchase", result)
	return result, nil
}

func (s *Service) runBatch(ctx context.Context, accountID, actorID uuid.UUID, action string, itemIDs []uuid.UUID, mutate func(*ShoppingItem)) (*BatchResult, error) {
	result, err := s.batch(ctx, accountID, action, itemIDs, mutate, func(ctx context.Context, items []*ShoppingItem) error {
		return s.repo.SaveBatch(ctx, items, nil)
	})
	if err != nil {
		return nil, err
	}
	s.afterBatch(ctx, accountID, actorID, action, result)
	return result, nil
}

// batch locks the requested items inside one transaction, validates them
// against the locked state, mutates the valid ones and commits them through
// commit before the locks are released. Concurrent batches on the same items
// therefore apply one after the other.
func (s *Service) batch(ctx context.Context, accountID uuid.UUID, action string, itemIDs []uuid.UUID, mutate func(*ShoppingItem), commit func(context.Context, []*ShoppingItem) error) (*BatchResult, error) {
	if err := validateIDs(itemIDs); err != nil {
		return nil, err
	}
	ids := dedupeIDs(itemIDs)

	var result *BatchResult
	valid := 0
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		found, err := s.repo.LockByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		byID := make(map[uuid.UUID]*ShoppingItem, len(found))
		for _, item := range found {
			byID[item.ID] = item
		}

		result = &BatchResult{Results: make([]ItemResult, 0, len(ids))}
		var changed []*ShoppingItem
		for _, id := range ids {
			item, ok := byID[id]
			switch {
			case !ok:
				result.Results = append(result.Results, ItemResult{ItemID: id, Error: MsgItemNotFound})
			case item.AccountID != accountID:
				result.Results = append(result.Results, ItemResult{ItemID: id, Error: MsgUnauthorized})
			case item.Removed():
				result.Results = append(result.Results, ItemResult{ItemID: id, Error: MsgItemRemoved})
			default:
				mutate(item)
				changed = append(changed, item)
				result.Results = append(result.Results, ItemResult{ItemID: id, Success: true})
			}
		}
		result.finalize()
		valid = len(changed)

		if valid == 0 {
			return nil
		}
		return commit(ctx, changed)
	})
	if err == nil {
		return result, nil
	}
	if result == nil {
		return nil, err
	}
	s.logger.Error().Err(err).
		Str("account_id", accountID.String()).
		Str("action", action).
		Int("items", valid).
		Msg("batch commit failed")
	result.failAll(MsgBatchCommitFailed)
	return result, nil
}

func (s *Service) afterBatch(ctx context.Context, accountID, actorID uuid.UUID, action string, result *BatchResult) {
	var changed []uuid.UUID
	for _, r := range result.Results {
		if r.Success {
			changed = append(changed, r.ItemID)
		}
	}
	s.logger.Info().
		Str("account_id", accountID.String()).
		Str("actor_id", actorID.String()).
		Str("action", action).
		Int("successful", result.Summary.Successful).
		Int("failed", result.Summary.Failed).
		Msg("shopping batch applied")
	if len(changed) > 0 {
		s.publish(ctx, accountID, actorID, action, changed)
	}
}

type updatePayload struct {
	Action  string      `json:"action"`
	ItemIDs []uuid.UUID `json:"item_ids"`
}

func (s *Service) publish(ctx context.Context, accountID, actorID uuid.UUID, action string, itemIDs []uuid.UUID) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(updatePayload{Action: action, ItemIDs: itemIDs})
	if err != nil {
		return
	}
	err = s.events.Publish(ctx, websocket.Event{
		Type:      EventShoppingUpdated,
		Topic:     websocket.AccountTopic(accountID),
		AccountID: accountID,
		ActorID:   actorID,
		Timestamp: s.now(),
		Data:      data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("publish shopping update")
	}
}

// ExpiryAlert is the message body sent for one account.
type ExpiryAlert struct {
	AccountID    uuid.UUID     `json:"account_id"`
	Expired      []AlertedItem `json:"expired"`
	ExpiringSoon []AlertedItem `json:"expiring_soon"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

type AlertedItem struct {
	ItemID      uuid.UUID `json:"item_id"`
	ProductName string    `json:"product_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NotifyExpiring sends one alert per account that has expired or
// expiring-soon stock. It returns the number of alerts sent; publish failures
// for some accounts do not stop the others.
func (s *Service) NotifyExpiring(ctx context.Context, now time.Time) (int, error) {
	if s.alerts == nil {
		return 0, errors.New("no alert publisher configured")
	}
	items, err := s.repo.ListInStockExpiringBefore(ctx, now.Add(soonWindow))
	if err != nil {
		return 0, fmt.Errorf("list expiring items: %w", err)
	}

	byAccount := make(map[uuid.UUID]*ExpiryAlert)
	for _, item := range items {
		if item.Removed() || !item.InStock {
			continue
		}
		status := ComputeExpirationStatus(item, now)
		if status != StatusExpired && status != StatusExpiringSoon {
			continue
		}
		alert, ok := byAccount[item.AccountID]
		if !ok {
			alert = &ExpiryAlert{AccountID: item.AccountID, GeneratedAt: now}
			byAccount[item.AccountID] = alert
		}
		entry := AlertedItem{ItemID: item.ID, ProductName: item.ProductName, ExpiresAt: *item.ExpiresAt}
		if status == StatusExpired {
			alert.Expired = append(alert.Expired, entry)
		} else {
			alert.ExpiringSoon = append(alert.ExpiringSoon, entry)
		}
	}

	accountIDs := make([]uuid.UUID, 0, len(byAccount))
	for id := range byAccount {
		accountIDs = append(accountIDs, id)
	}
	sort.Slice(accountIDs, func(i, j int) bool { return accountIDs[i].String() < accountIDs[j].String() })

	sent := 0
	var errs []error
	for _, id := range accountIDs {
		alert := byAccount[id]
		body, err := json.Marshal(alert)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		subject := fmt.Sprintf("%d item(s) expired, %d expiring soon", len(alert.Expired), len(alert.ExpiringSoon))
		attrs := map[string]string{"account_id": id.String(), "event": "inventory.expiring"}
		if err := s.alerts.Publish(ctx, subject, string(body), attrs); err != nil {
			s.logger.Error().Err(err).Str("account_id", id.String()).Msg("publish expiry alert")
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
