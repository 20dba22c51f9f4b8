package suggest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/domain/inventory"
	"github.com/carehub/carehub/internal/platform/auth"
)

// DefaultMinCoOccurrences applies when ?min= is absent.
const DefaultMinCoOccurrences = 2

// HistorySource loads an account's items with purchase history.
type HistorySource interface {
	ItemsWithHistory(ctx context.Context, accountID uuid.UUID) ([]*inventory.ShoppingItem, error)
}

type Handler struct {
	items HistorySource
	authz inventory.AccountAuthorizer
	now   func() time.Time
}

func NewHandler(items HistorySource, authz inventory.AccountAuthorizer) *Handler {
	return &Handler{items: items, authz: authz, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/shopping/suggestions/due", h.DueToBuy)
	api.GET("/shopping/items/:id/together", h.BoughtTogether)
}

func (h *Handler) load(c echo.Context) ([]*inventory.ShoppingItem, error) {
	ctx := c.Request().Context()
	d, err := h.authz.AuthorizeOwnAccount(ctx, auth.ActorIDFromContext(ctx), access.CapViewShoppingList)
	if err != nil {
		return nil, access.HTTPError(err)
	}
	items, err := h.items.ItemsWithHistory(ctx, d.AccountID)
	if err != nil {
		return nil, access.HTTPError(err)
	}
	return items, nil
}

func (h *Handler) DueToBuy(c echo.Context) error {
	items, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, FindDueToBuyItems(items, h.now()))
}

func (h *Handler) BoughtTogether(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	minCo := DefaultMinCoOccurrences
	if raw := c.QueryParam("min"); raw != "" {
		minCo, err = strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "min must be an integer")
		}
	}
	items, err := h.load(c)
	if err != nil {
		return err
	}
	var anchor *inventory.ShoppingItem
	for _, item := range items {
		if item.ID == id {
			anchor = item
			break
		}
	}
	if anchor == nil {
		return echo.NewHTTPError(http.StatusNotFound, "item not found")
	}
	return c.JSON(http.StatusOK, FindFrequentlyBoughtTogether(anchor, items, minCo))
}
