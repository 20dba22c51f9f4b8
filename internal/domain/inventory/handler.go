package inventory

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/platform/auth"
	"github.com/carehub/carehub/pkg/pagination"
)

// AccountAuthorizer resolves the caller's household for a capability.
type AccountAuthorizer interface {
	AuthorizeOwnAccount(ctx context.Context, actorID uuid.UUID, capability access.Capability) (*access.Decision, error)
}

type Handler struct {
	svc   *Service
	authz AccountAuthorizer
}

func NewHandler(svc *Service, authz AccountAuthorizer) *Handler {
	return &Handler{svc: svc, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/shopping")
	g.GET("/items", h.ListItems)
	g.POST("/items", h.AddItem)
	g.GET("/history", h.ListHistory)
	g.GET("/expiring", h.ListExpiring)
	g.POST("/actions", h.ApplyAction)
	g.GET("/categories", h.ListCategories)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return access.HTTPError(err)
	}
}

func (h *Handler) account(c echo.Context, capability access.Capability) (*access.Decision, uuid.UUID, error) {
	actor := auth.ActorIDFromContext(c.Request().Context())
	d, err := h.authz.AuthorizeOwnAccount(c.Request().Context(), actor, capability)
	if err != nil {
		return nil, actor, access.HTTPError(err)
	}
	return d, actor, nil
}

func (h *Handler) ListItems(c echo.Context) error {
	d, _, err := h.account(c, access.CapViewShoppingList)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListItems(c.Request().Context(), d.AccountID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ShoppingItem{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddItem(c echo.Context) error {
	d, actor, err := h.account(c, access.CapManageShoppingList)
	if err != nil {
		return err
	}
	var req NewItem
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.svc.AddItem(c.Request().Context(), d.AccountID, actor, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) ListHistory(c echo.Context) error {
	d, _, err := h.account(c, access.CapViewShoppingList)
	if err != nil {
		return err
	}
	items, err := h.svc.ItemsWithHistory(c.Request().Context(), d.AccountID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ShoppingItem{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListExpiring(c echo.Context) error {
	d, _, err := h.account(c, access.CapViewShoppingList)
	if err != nil {
		return err
	}
	days, err := h.svc.ExpiringItems(c.Request().Context(), d.AccountID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, days)
}

// ApplyAction runs one bulk action. A fully successful batch is 200; any
// per-item failure turns the response into 207 with the same body shape.
func (h *Handler) ApplyAction(c echo.Context) error {
	d, actor, err := h.account(c, access.CapManageShoppingList)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	action, err := DecodeShoppingAction(body)
	if err != nil {
		return httpError(err)
	}
	result, err := h.svc.Apply(c.Request().Context(), d.AccountID, actor, action)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, result)
}

type categoryInfo struct {
	Category      Category `json:"category"`
	ShelfLifeDays int      `json:"shelf_life_days"`
}

func (h *Handler) ListCategories(c echo.Context) error {
	out := make([]categoryInfo, 0, len(Categories))
	for _, cat := range Categories {
		out = append(out, categoryInfo{Category: cat, ShelfLifeDays: ShelfLifeDays(cat)})
	}
	return c.JSON(http.StatusOK, out)
}
