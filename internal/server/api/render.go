package api

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"blink/internal/server/web"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

var templateFuncs = template.FuncMap{
	"bytes": humanSize,
	"ago":   humanize.Time,
	"date":  formatDate,
}

func humanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04 UTC")
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04 UTC")
	default:
		return ""
	}
}

// Renderer renders the embedded page templates for echo.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page template.
func NewRenderer() (*Renderer, error) {
	pages, err := web.ParsePages(templateFuncs)
	if err != nil {
		return nil, err
	}
	return &Renderer{pages: pages}, nil
}

// Render implements echo.Renderer.
func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}
