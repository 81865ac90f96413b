package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"blink/internal/server/database"
	"blink/internal/server/service"

	"github.com/labstack/echo/v4"
)

const flashCookie = "blink_flash"

type flash struct {
	Kind    string
	Message string
}

// page carries what the shared layout needs.
type page struct {
	Flash              *flash
	MaxFileSize        int64
	MaxExpiryHours     int
	DefaultExpiryHours int
}

type detailPage struct {
	page
	Record   *database.Record
	Expired  bool
	ShareURL string
}

type recentPage struct {
	page
	Records []*database.Record
}

type errorPage struct {
	page
	Status  int
	Title   string
	Message string
}

func (h *Handler) page() page {
	return page{
		MaxFileSize:        h.cfg.MaxFileSize,
		MaxExpiryHours:     h.mgr.MaxExpiryHours(),
		DefaultExpiryHours: h.cfg.DefaultExpiryHours,
	}
}

// HandleIndex handles GET /, the upload form.
func (h *Handler) HandleIndex(c echo.Context) error {
	p := h.page()
	p.Flash = takeFlash(c)
	return c.Render(http.StatusOK, "index", p)
}

// HandleUpload handles POST /upload from the HTML form.
// Success redirects to the detail page; failures redirect back with a flash.
func (h *Handler) HandleUpload(c echo.Context) error {
	rec, err := h.upload(c)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileTooLarge):
			setFlash(c, "error", "File exceeds the "+humanSize(h.cfg.MaxFileSize)+" limit.")
		case errors.Is(err, service.ErrNoFile):
			setFlash(c, "error", "Please choose a file to upload.")
		case errors.Is(err, service.ErrInvalidExpiry):
			setFlash(c, "error", "Expiry must be zero or a positive number of hours.")
		case errors.Is(err, service.ErrValidation):
			setFlash(c, "error", "The upload could not be read.")
		default:
			return h.renderServiceError(c, err)
		}
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return c.Redirect(http.StatusSeeOther, "/f/"+rec.ID)
}

// HandleDetail handles GET /f/:id.
// An expired share renders once more with a banner and a 410 status.
func (h *Handler) HandleDetail(c echo.Context) error {
	lookup, err := h.mgr.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if lookup != nil && lookup.Reason == service.PurgeExpired {
			return c.Render(http.StatusGone, "detail", detailPage{
				page:    h.page(),
				Record:  lookup.Record,
				Expired: true,
			})
		}
		return h.renderServiceError(c, err)
	}

	return c.Render(http.StatusOK, "detail", detailPage{
		page:     h.page(),
		Record:   lookup.Record,
		ShareURL: h.detailURL(lookup.Record.ID),
	})
}

// HandleDownload handles GET /d/:id.
// Streams the file as an attachment. Closing the download consumes one-time
// shares even when the client disconnects mid-transfer.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.mgr.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.renderServiceError(c, err)
	}
	defer dl.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, dl.ContentType())
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": dl.Record.OriginalName,
	}))
	header.Set("X-Content-Type-Options", "nosniff")
	if dl.Record.Checksum != "" {
		header.Set("ETag", `"`+dl.Record.Checksum+`"`)
	}
	if dl.Record.OneTime {
		header.Set("Cache-Control", "no-store")
	}

	http.ServeContent(c.Response(), c.Request(), dl.Record.OriginalName, dl.ModTime, dl.Content)
	return nil
}

// HandleRecent handles GET /recent.
func (h *Handler) HandleRecent(c echo.Context) error {
	recs, err := h.mgr.ListRecent(c.Request().Context(), h.cfg.RecentLimit)
	if err != nil {
		return h.renderServiceError(c, err)
	}
	return c.Render(http.StatusOK, "recent", recentPage{page: h.page(), Records: recs})
}

// renderServiceError is the HTML counterpart of mapServiceError.
func (h *Handler) renderServiceError(c echo.Context, err error) error {
	status, title, message := http.StatusInternalServerError, "Server error", "Something went wrong. Please try again."
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, title, message = http.StatusNotFound, "Not found", "This link does not exist or is no longer available."
	case errors.Is(err, service.ErrGone):
		status, title, message = http.StatusGone, "Expired", "This link has expired and the file has been removed."
	case errors.Is(err, service.ErrValidation):
		status, title, message = http.StatusBadRequest, "Bad request", err.Error()
	default:
		slog.Error("request failed", "path", c.Request().URL.Path, "error", err)
	}
	return renderError(c, h.page(), status, title, message)
}

func renderError(c echo.Context, p page, status int, title, message string) error {
	return c.Render(status, "error", errorPage{page: p, Status: status, Title: title, Message: message})
}

func setFlash(c echo.Context, kind, message string) {
	c.SetCookie(&http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(kind + ":" + message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash reads and clears the flash cookie.
func takeFlash(c echo.Context) *flash {
	cookie, err := c.Cookie(flashCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	c.SetCookie(&http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})

	raw, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(raw, ":")
	if !ok || message == "" {
		return nil
	}
	if kind != "error" {
		kind = "info"
	}
	return &flash{Kind: kind, Message: message}
}
