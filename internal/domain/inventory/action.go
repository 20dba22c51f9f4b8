package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxBatchSize caps the item ids accepted by one action.
const MaxBatchSize = 500

// ShoppingAction is the closed set of bulk operations on shopping items.
// Values are produced by DecodeShoppingAction.
type ShoppingAction interface {
	Name() string
	Items() []uuid.UUID
	isShoppingAction()
}

type SuspendAction struct{ ItemIDs []uuid.UUID }
type UnsuspendAction struct{ ItemIDs []uuid.UUID }
type MarkNeededAction struct{ ItemIDs []uuid.UUID }
type MarkUsedAction struct{ ItemIDs []uuid.UUID }

type ConfirmPurchaseAction struct {
	ItemIDs []uuid.UUID
	Options PurchaseOptions
}

func (SuspendAction) Name() string         { return "suspend" }
func (UnsuspendAction) Name() string       { return "unsuspend" }
func (MarkNeededAction) Name() string      { return "mark_needed" }
func (MarkUsedAction) Name() string        { return "mark_used" }
func (ConfirmPurchaseAction) Name() string { return "confirm_purchase" }

func (a SuspendAction) Items() []uuid.UUID         { return a.ItemIDs }
func (a UnsuspendAction) Items() []uuid.UUID       { return a.ItemIDs }
func (a MarkNeededAction) Items() []uuid.UUID      { return a.ItemIDs }
func (a MarkUsedAction) Items() []uuid.UUID        { return a.ItemIDs }
func (a ConfirmPurchaseAction) Items() []uuid.UUID { return a.ItemIDs }

func (SuspendAction) isShoppingAction()         {}
func (UnsuspendAction) isShoppingAction()       {}
func (MarkNeededAction) isShoppingAction()      {}
func (MarkUsedAction) isShoppingAction()        {}
func (ConfirmPurchaseAction) isShoppingAction() {}

type actionEnvelope struct {
	Action       string      `json:"action"`
	ItemIDs      []uuid.UUID `json:"item_ids"`
	Store        *string     `json:"store,omitempty"`
	PurchaseDate *time.Time  `json:"purchase_date,omitempty"`
}

// DecodeShoppingAction parses and validates a request body. Unknown actions,
// unknown fields, purchase fields on other actions and bad id lists are
// ErrInvalid.
func DecodeShoppingAction(data []byte) (ShoppingAction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var env actionEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validateIDs(env.ItemIDs); err != nil {
		return nil, err
	}

	purchaseFields := env.Store != nil || env.PurchaseDate != nil
	switch env.Action {
	case "confirm_purchase":
		opts := PurchaseOptions{PurchaseDate: env.PurchaseDate}
		if env.Store != nil {
			opts.Store = strings.TrimSpace(*env.Store)
		}
		return ConfirmPurchaseAction{ItemIDs: env.ItemIDs, Options: opts}, nil
	case "suspend", "unsuspend", "mark_needed", "mark_used":
		if purchaseFields {
			return nil, fmt.Errorf("%w: store and purchase_date only apply to confirm_purchase", ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalid, env.Action)
	}

	switch env.Action {
	case "suspend":
		return SuspendAction{ItemIDs: env.ItemIDs}, nil
	case "unsuspend":
		return UnsuspendAction{ItemIDs: env.ItemIDs}, nil
	case "mark_needed":
		return MarkNeededAction{ItemIDs: env.ItemIDs}, nil
	default:
		return MarkUsedAction{ItemIDs: env.ItemIDs}, nil
	}
}

func validateIDs(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: item_ids must not be empty", ErrInvalid)
	}
	if len(ids) > MaxBatchSize {
		return fmt.Errorf("%w: at most %d item_ids per request, got %d", ErrInvalid, MaxBatchSize, len(ids))
	}
	for _, id := range ids {
		if id == uuid.Nil {
			return fmt.Errorf("%w: nil item id", ErrInvalid)
		}
	}
	return nil
}

// dedupeIDs keeps the first occurrence of each id.
func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
