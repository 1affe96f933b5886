package api

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"taskboard/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

type templates struct {
	t *template.Template
}

func newTemplates() *templates {
	return &templates{t: template.Must(template.ParseFS(templateFS, "templates/*.html"))}
}

func (r *templates) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return r.t.ExecuteTemplate(w, name, data)
}

type landingPage struct {
	Title     string
	Email     string
	Error     string
	LocalMode bool
}

type boardPage struct {
	Title  string
	Email  string
	ViewID string
}

type taskPage struct {
	Title string
	Task  *domain.Task
}
