package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper is the middleware.Skipper for the public infrastructure routes.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
