package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blink/internal/server/config"
	"blink/internal/server/database"
	"blink/internal/server/service"

	"github.com/labstack/echo/v4"
)

// multipartOverhead is the slack allowed on top of MaxFileSize for
// multipart boundaries and the small form fields.
const multipartOverhead = 1 << 20

// Handler contains the HTTP handlers for blink.
type Handler struct {
	mgr *service.Manager
	cfg *config.Config
}

// NewHandler creates a new handler backed by the lifecycle manager.
func NewHandler(mgr *service.Manager, cfg *config.Config) *Handler {
	return &Handler{mgr: mgr, cfg: cfg}
}

// shareResponse is the JSON view of a record.
type shareResponse struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	DownloadURL  string     `json:"download_url"`
	OriginalName string     `json:"original_name"`
	SizeBytes    int64      `json:"size_bytes"`
	Mime         string     `json:"mime,omitempty"`
	Checksum     string     `json:"checksum,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at"`
	OneTime      bool       `json:"one_time"`
	Downloads    int64      `json:"downloads"`
}

func (h *Handler) shareResponse(rec *database.Record) shareResponse {
	return shareResponse{
		ID:           rec.ID,
		URL:          h.detailURL(rec.ID),
		DownloadURL:  h.cfg.BaseURL + "/d/" + rec.ID,
		OriginalName: rec.OriginalName,
		SizeBytes:    rec.SizeBytes,
		Mime:         rec.Mime,
		Checksum:     rec.Checksum,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
		OneTime:      rec.OneTime,
		Downloads:    rec.Downloads,
	}
}

func (h *Handler) detailURL(id string) string {
	return h.cfg.BaseURL + "/f/" + id
}

// HandleAPIUpload handles POST /api/upload.
// Accepts the same multipart form as the HTML upload and answers with JSON.
func (h *Handler) HandleAPIUpload(c echo.Context) error {
	rec, err := h.upload(c)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, h.shareResponse(rec))
}

// HandleInfo handles GET /api/info/:id.
// Returns share metadata without serving the file.
func (h *Handler) HandleInfo(c echo.Context) error {
	lookup, err := h.mgr.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if lookup != nil && lookup.Reason == service.PurgeExpired {
			return mapServiceError(c, service.ErrGone)
		}
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.shareResponse(lookup.Record))
}

// HandleRecentJSON handles GET /api/recent.
func (h *Handler) HandleRecentJSON(c echo.Context) error {
	limit := h.cfg.RecentLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	recs, err := h.mgr.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]shareResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.shareResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.mgr.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.mgr.Stats(c.Request().Context())
	if err != nil {
		slog.Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_shares":       stats.TotalRecords,
		"active_shares":      stats.ActiveRecords,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanSize(stats.StorageUsed),
	})
}

// upload reads the multipart form shared by both upload routes and hands the
// file to the manager.
func (h *Handler) upload(c echo.Context) (*database.Record, error) {
	req := c.Request()
	limit := h.cfg.MaxFileSize + multipartOverhead
	if req.ContentLength > limit {
		return nil, service.ErrFileTooLarge
	}
	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, formError(err)
	}
	if fileHeader.Filename == "" {
		return nil, service.ErrNoFile
	}
	if fileHeader.Size > h.cfg.MaxFileSize {
		return nil, service.ErrFileTooLarge
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	defer src.Close()

	return h.mgr.Upload(req.Context(), service.UploadParams{
		Filename:    fileHeader.Filename,
		Body:        src,
		ExpiryHours: parseExpiry(c.FormValue("expires"), h.cfg.DefaultExpiryHours),
		OneTime:     c.FormValue("mode") == "one",
	})
}

// formError classifies a failure to read the multipart form.
func formError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, multipart.ErrMessageTooLarge):
		return service.ErrFileTooLarge
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return service.ErrNoFile
	default:
		return fmt.Errorf("%w: malformed upload form: %w", service.ErrValidation, err)
	}
}

// parseExpiry reads the expires field. Anything unparsable falls back to the
// default; range checks belong to the manager.
func parseExpiry(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return hours
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "share not found"})
	case errors.Is(err, service.ErrGone):
		return c.JSON(http.StatusGone, echo.Map{"error": "share has expired"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrNoFile):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file is required (use form field 'file')"})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrStorageWrite):
		slog.Error("storage write failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store file"})
	default:
		slog.Error("unhandled service error", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
