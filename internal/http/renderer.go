package httpx

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
)

//go:embed templates/*.tmpl templates/pages/*.tmpl
var templateFS embed.FS

// Page names. Each has a "<name>-content" template under templates/pages.
const (
	pageHome           = "home"
	pageLogin          = "login"
	pageAdminLogin     = "admin_login"
	pageRegister       = "register"
	pageRoleSelection  = "role_selection"
	pageHealthProfile  = "health_profile"
	pageDashboard      = "dashboard"
	pageFeature        = "feature"
	pageAdminDashboard = "admin_dashboard"
	pageLoading        = "loading"
	pageNotFound       = "not_found"
)

// PageData is the view model shared by every page.
type PageData struct {
	Page       string
	Title      string
	Path       string
	User       *domainauth.Identity
	IsAdmin    bool
	ErrorTitle string
	Error      string
	Email      string
	Form       map[string]string
	Params     map[string]string
	Admins     []domainauth.RoleAssignment
}

// TemplateRenderer renders the page shell around a page's content block.
type TemplateRenderer struct {
	t      *template.Template
	logger *slog.Logger
}

// NewTemplateRenderer parses the embedded templates.
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &TemplateRenderer{logger: logger}

	var t *template.Template
	funcs := template.FuncMap{
		"content": func(data PageData) (template.HTML, error) {
			var buf bytes.Buffer
			if err := t.ExecuteTemplate(&buf, data.Page+"-content", data); err != nil {
				return "", err
			}
			//nolint:gosec // output of html/template execution is already escaped
			return template.HTML(buf.String()), nil
		},
	}
	t, err := template.New("root").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl", "templates/pages/*.tmpl")
	if err != nil {
		logger.Error("template parsing failed", slog.Any("error", err))
		return nil, err
	}
	r.t = t
	return r, nil
}

// Render writes data.Page inside the layout with the given status.
func (r *TemplateRenderer) Render(w http.ResponseWriter, status int, data PageData) error {
	if r.t.Lookup(data.Page+"-content") == nil {
		return fmt.Errorf("unknown page %q", data.Page)
	}
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error("template execution failed", slog.String("page", data.Page), slog.Any("error", err))
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		r.logger.Error("failed to write rendered template", slog.String("page", data.Page), slog.Any("error", err))
		return err
	}
	return nil
}
