package access

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carehub/carehub/internal/platform/auth"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.PUT("/me", h.RegisterActor)
	api.GET("/account", h.GetAccount)
	api.POST("/account", h.CreateAccount)
	api.POST("/account/transfer-ownership", h.TransferOwnership)

	api.POST("/access/authorize", h.Authorize)

	api.GET("/members", h.ListMembers)
	api.PUT("/members/:id/role", h.AssignRole)
	api.PUT("/members/:id/patients", h.GrantPatients)
	api.DELETE("/members/:id", h.RemoveMember)

	admin := api.Group("/admin")
	admin.POST("/actors/:id/suspend", h.Suspend)
	admin.POST("/actors/:id/unsuspend", h.Unsuspend)
}

// HTTPError maps engine errors onto HTTP statuses. Unknown errors become a
// generic 500 so storage details never reach the client.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, ErrDenied):
		return echo.NewHTTPError(http.StatusForbidden, "permission denied")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "action not allowed")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidTransfer):
		return echo.NewHTTPError(http.StatusConflict, ErrInvalidTransfer.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func actorID(c echo.Context) uuid.UUID {
	return auth.ActorIDFromContext(c.Request().Context())
}

type registerRequest struct {
	DisplayName string  `json:"display_name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
}

func (h *Handler) RegisterActor(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := &Actor{ID: actorID(c), DisplayName: req.DisplayName, Email: req.Email, Phone: req.Phone}
	if a.Email == nil {
		if email := auth.EmailFromContext(c.Request().Context()); email != "" {
			a.Email = &email
		}
	}
	if err := h.engine.RegisterActor(c.Request().Context(), a); err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type accountResponse struct {
	*Membership
	Capabilities []Capability `json:"capabilities"`
}

func (h *Handler) GetAccount(c echo.Context) error {
	m, err := h.engine.AccountForActor(c.Request().Context(), actorID(c))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, accountResponse{Membership: m, Capabilities: CapabilitiesOf(m.Role)})
}

func (h *Handler) CreateAccount(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.engine.CreateAccount(c.Request().Context(), actorID(c), req.Name)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type authorizeRequest struct {
	PatientID  *uuid.UUID `json:"patient_id"`
	Capability string     `json:"capability"`
}

// Authorize answers a capability question for the caller, against one patient
// or, without patient_id, against the caller's household.
func (h *Handler) Authorize(c echo.Context) error {
	var req authorizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	capability, err := ParseCapability(req.Capability)
	if err != nil {
		return HTTPError(err)
	}
	ctx := c.Request().Context()
	var d *Decision
	if req.PatientID != nil {
		d, err = h.engine.Authorize(ctx, actorID(c), *req.PatientID, capability)
	} else {
		d, err = h.engine.AuthorizeOwnAccount(ctx, actorID(c), capability)
	}
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListMembers(c echo.Context) error {
	members, err := h.engine.ListMembers(c.Request().Context(), actorID(c))
	if err != nil {
		return HTTPError(err)
	}
	if members == nil {
		members = []*Member{}
	}
	return c.JSON(http.StatusOK, members)
}

func (h *Handler) AssignRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return HTTPError(err)
	}
	if err := h.engine.AssignRole(c.Request().Context(), actorID(c), id, role); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GrantPatients(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		PatientIDs []uuid.UUID `json:"patient_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.engine.GrantPatients(c.Request().Context(), actorID(c), id, req.PatientIDs); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RemoveMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.engine.RemoveMember(c.Request().Context(), actorID(c), id); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) TransferOwnership(c echo.Context) error {
	var req struct {
		NewOwnerMemberID uuid.UUID `json:"new_owner_member_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.NewOwnerMemberID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "new_owner_member_id is required")
	}
	if err := h.engine.TransferOwnership(c.Request().Context(), actorID(c), req.NewOwnerMemberID); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Suspend(c echo.Context) error {
	return h.setSuspended(c, true)
}

func (h *Handler) Unsuspend(c echo.Context) error {
	return h.setSuspended(c, false)
}

func (h *Handler) setSuspended(c echo.Context, suspended bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.engine.SetSuspended(c.Request().Context(), actorID(c), id, suspended); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
