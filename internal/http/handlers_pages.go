package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
)

// PageHandlers serves the HTML shell.
type PageHandlers struct {
	Renderer *TemplateRenderer
	// Admins lists administrators on the admin dashboard when set.
	Admins RoleAdmin
	Logger *slog.Logger
}

func (h *PageHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// pageData fills the viewer fields from the request's workspace without
// waiting for hydration.
func pageData(r *http.Request, page, title string) PageData {
	d := PageData{Page: page, Title: title, Path: r.URL.Path}
	if ws := WorkspaceFrom(r.Context()); ws != nil {
		if st := ws.Auth.State(); st.Authenticated() {
			d.User = st.Identity
			d.IsAdmin = ws.AdminState().IsAdmin
		}
	}
	return d
}

func (h *PageHandlers) render(w http.ResponseWriter, status int, data PageData) {
	if err := h.Renderer.Render(w, status, data); err != nil {
		h.logger().Error("render page", "page", data.Page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Page renders a page with no data beyond the viewer.
func (h *PageHandlers) Page(page, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, http.StatusOK, pageData(r, page, title))
	}
}

// WellnessActivity renders /wellness/{id}.
func (h *PageHandlers) WellnessActivity(w http.ResponseWriter, r *http.Request) {
	d := pageData(r, pageFeature, "Wellness Activity")
	d.Params = map[string]string{"id": r.PathValue("id")}
	h.render(w, http.StatusOK, d)
}

// AdminDashboard renders the admin landing page.
func (h *PageHandlers) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	d := pageData(r, pageAdminDashboard, "Admin Dashboard")
	if h.Admins != nil {
		admins, err := h.Admins.ListByRole(r.Context(), domainauth.RoleAdmin)
		if err != nil {
			h.logger().WarnContext(r.Context(), "list admins for dashboard", "error", err)
		}
		d.Admins = admins
	}
	h.render(w, http.StatusOK, d)
}

// Loading is the guard's pending response: a 202 page that polls itself.
func (h *PageHandlers) Loading() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.render(w, http.StatusAccepted, PageData{Page: pageLoading, Title: "Loading", Path: r.URL.RequestURI()})
	})
}

// NotFound answers unknown paths.
func (h *PageHandlers) NotFound(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found"})
		return
	}
	h.render(w, http.StatusNotFound, pageData(r, pageNotFound, "Not Found"))
}
