package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"blink/internal/server/config"
	"blink/internal/server/web"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = errorHandler(handler)

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoints only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Pages
	e.GET("/", handler.HandleIndex)
	e.POST("/upload", handler.HandleUpload, uploadLimiter)
	e.GET("/f/:id", handler.HandleDetail)
	e.GET("/d/:id", handler.HandleDownload)
	e.GET("/recent", handler.HandleRecent)
	e.StaticFS("/static", web.Static())

	// JSON API
	e.POST("/api/upload", handler.HandleAPIUpload, uploadLimiter)
	e.GET("/api/info/:id", handler.HandleInfo)
	e.GET("/api/recent", handler.HandleRecentJSON)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/health", handler.HandleHealth)

	return e, nil
}

// errorHandler answers JSON on API routes and renders the error page elsewhere.
func errorHandler(h *Handler) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := http.StatusText(status)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			message = fmt.Sprint(he.Message)
		} else {
			slog.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
		}

		path := c.Request().URL.Path
		if strings.HasPrefix(path, "/api/") || path == "/health" {
			err = c.JSON(status, echo.Map{"error": message})
		} else {
			err = renderError(c, h.page(), status, http.StatusText(status), message)
		}
		if err != nil {
			slog.Error("failed to write error response", "error", err)
		}
	}
}
