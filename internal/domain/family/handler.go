package family

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	api.GET("/invitations", h.ListInvitations)
	api.POST("/invitations", h.Invite)
	api.POST("/invitations/accept", h.AcceptInvitation)
	api.DELETE("/invitations/:id", h.RevokeInvitation)

	api.GET("/me/preferences", h.GetPreferences)
	api.PUT("/me/preferences", h.UpdatePreferences)
	api.GET("/me/tracked-metrics", h.TrackedMetrics)
}

func actorID(c echo.Context) uuid.UUID {
	return auth.ActorIDFromContext(c.Request().Context())
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context(), actorID(c))
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), actorID(c), in)
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), actorID(c), id)
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), actorID(c), id, in)
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// DeletePatient soft-deletes unless ?hard=true.
func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	hard := c.QueryParam("hard") == "true"
	if err := h.svc.DeletePatient(c.Request().Context(), actorID(c), id, hard); err != nil {
		return access.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListInvitations(c echo.Context) error {
	invs, err := h.svc.ListInvitations(c.Request().Context(), actorID(c))
	if err != nil {
		return access.HTTPError(err)
	}
	if invs == nil {
		invs = []*Invitation{}
	}
	return c.JSON(http.StatusOK, invs)
}

func (h *Handler) Invite(c echo.Context) error {
	var in InviteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.Invite(c.Request().Context(), actorID(c), in)
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) AcceptInvitation(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	m, err := h.svc.AcceptInvitation(c.Request().Context(), actorID(c), req.Token)
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) RevokeInvitation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.RevokeInvitation(c.Request().Context(), actorID(c), id); err != nil {
		return access.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetPreferences(c echo.Context) error {
	p, err := h.svc.Preferences(c.Request().Context(), actorID(c))
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePreferences(c echo.Context) error {
	var p Preferences
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdatePreferences(c.Request().Context(), actorID(c), &p)
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) TrackedMetrics(c echo.Context) error {
	p, err := h.svc.Preferences(c.Request().Context(), actorID(c))
	if err != nil {
		return access.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"metrics": TrackedMetrics(p)})
}
