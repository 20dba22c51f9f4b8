package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carehub/carehub/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AuditEntry describes one access to household data.
type AuditEntry struct {
	RequestID  string
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	Route      string
	Method     string
	Path       string
	RemoteIP   string
	Status     int
}

// Audit emits an access_audit log line for every /api/v1 request once the
// handler has run. 401, 403 and 404 are logged at warn level.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c, err)
			evt := logger.Info()
			if entry.Status == http.StatusUnauthorized || entry.Status == http.StatusForbidden || entry.Status == http.StatusNotFound {
				evt = logger.Warn()
			}
			evt.
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("actor_id", entry.ActorID).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("route", entry.Route).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.Status).
				Msg("access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	entry := AuditEntry{
		RequestID: requestIDFrom(c),
		Action:    httpMethodToAction(req.Method),
		Route:     c.Path(),
		Method:    req.Method,
		Path:      req.URL.Path,
		RemoteIP:  c.RealIP(),
		Status:    c.Response().Status,
	}
	if he, ok := err.(*echo.HTTPError); ok {
		entry.Status = he.Code
	} else if err != nil && !c.Response().Committed {
		entry.Status = http.StatusInternalServerError
	}
	if actor := auth.ActorIDFromContext(req.Context()); actor != uuid.Nil {
		entry.ActorID = actor.String()
	}
	entry.Resource, entry.ResourceID = splitResource(req.URL.Path)
	return entry
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitResource returns the first path segment under /api/v1 and the first
// UUID segment after it, if any.
//
//	/api/v1/patients/<id>            -> patients, <id>
//	/api/v1/shopping/items/<id>/...  -> shopping, <id>
//	/api/v1/members                  -> members, ""
func splitResource(path string) (resource, id string) {
	rest := strings.Trim(strings.TrimPrefix(path, apiPrefix), "/")
	if rest == "" {
		return "unknown", ""
	}
	segments := strings.Split(rest, "/")
	resource = segments[0]
	for _, seg := range segments[1:] {
		if _, err := uuid.Parse(seg); err == nil {
			return resource, seg
		}
	}
	return resource, ""
}
