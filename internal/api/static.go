package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"

	"github.com/tphakala/upc-lookup/internal/logger"
)

// imageCacheControl lets browsers keep image files for a day; files are
// only rewritten when a product is re-enriched.
const imageCacheControl = "public, max-age=86400"

// registerImageRoutes serves the image store read-only under the public
// image path, e.g. /static/upc_images/<upc>/<file>.
func (s *Server) registerImageRoutes() {
	if s.images == nil {
		return
	}
	fsys := afero.NewIOFS(afero.NewReadOnlyFs(s.images.Fs()))
	route := strings.TrimRight(s.config.ImagePublicPath, "/") + "/*"
	s.echo.GET(route, echo.StaticDirectoryHandler(fsys, false), imageHeaders)
	s.log.Debug("image files served", logger.String("route", route))
}

// imageHeaders sets caching headers on static image responses.
func imageHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderCacheControl, imageCacheControl)
		return next(c)
	}
}
