package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mindguard/mindguard-api/config"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/service"
)

// RouterServices groups dependencies for NewRouter.
type RouterServices struct {
	Workspaces Workspaces          // Required
	Roles      service.RoleChecker // Required
	// RoleAdmin enables the admin roles API when role assignments are stored locally.
	RoleAdmin RoleAdmin

	HTTP         config.HTTPConfig
	RefreshSkew  time.Duration
	CookieMaxAge time.Duration

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// protectedPages are the signed-in feature pages behind the plain guard.
var protectedPages = []struct{ path, title string }{
	{"/checkin", "Daily Check-in"},
	{"/chat", "Chat"},
	{"/reports", "Reports"},
	{"/wellness", "Wellness Activities"},
	{"/gratitude", "Gratitude Journal"},
	{"/morning-routine", "Morning Routine"},
	{"/stress-relief", "Stress Relief"},
	{"/profile", "Profile"},
	{"/settings", "Settings"},
	{"/help", "Help"},
	{"/blog", "Blog"},
	{"/tips", "Tips"},
}

// NewRouter builds the HTTP handler for the whole service.
func NewRouter(svc RouterServices) (http.Handler, error) {
	if svc.Workspaces == nil {
		return nil, errors.New("router: workspaces are required")
	}
	if svc.Roles == nil {
		return nil, errors.New("router: role checker is required")
	}
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer, err := NewTemplateRenderer(logger)
	if err != nil {
		return nil, err
	}
	pages := &PageHandlers{Renderer: renderer, Admins: svc.RoleAdmin, Logger: logger}
	cookie := SessionCookie{Domain: svc.HTTP.CookieDomain, MaxAge: svc.CookieMaxAge}
	authH := &AuthHandlers{Roles: svc.Roles, Workspaces: svc.Workspaces, Cookie: cookie, Pages: pages, Logger: logger}
	guard := &Guard{Timeout: svc.HTTP.GuardPendingTimeout, Metrics: svc.Metrics, Logger: logger, Pending: pages.Loading()}
	proxies, err := svc.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	throttle := NewRateLimiter(svc.HTTP.AuthRequestsPerMinute, proxies).Middleware
	plain := func(h http.HandlerFunc) http.Handler { return guard.Plain(h) }
	admin := func(h http.HandlerFunc) http.Handler { return guard.Admin(h) }

	app := http.NewServeMux()

	// Public pages
	app.Handle("GET /{$}", pages.Page(pageHome, "MindGuard"))
	app.Handle("GET /login", pages.Page(pageLogin, "Sign in"))
	app.Handle("GET /register", pages.Page(pageRegister, "Create account"))
	app.Handle("GET /role-selection", pages.Page(pageRoleSelection, "Choose your role"))
	app.Handle("GET /health-profile", pages.Page(pageHealthProfile, "Health profile"))
	app.Handle("GET /admin/login", pages.Page(pageAdminLogin, "Admin sign-in"))

	// Auth actions
	app.Handle("POST /auth/login", throttle(http.HandlerFunc(authH.Login)))
	app.Handle("POST /auth/register", throttle(http.HandlerFunc(authH.Register)))
	app.Handle("POST /admin/login", throttle(http.HandlerFunc(authH.AdminLogin)))
	app.HandleFunc("POST /auth/logout", authH.Logout)
	app.HandleFunc("GET /auth/status", authH.Status)

	// Protected pages
	app.Handle("GET /dashboard", plain(pages.Page(pageDashboard, "Dashboard")))
	for _, p := range protectedPages {
		app.Handle("GET "+p.path, plain(pages.Page(pageFeature, p.title)))
	}
	app.Handle("GET /wellness/{id}", plain(pages.WellnessActivity))
	app.Handle("GET /admin/dashboard", admin(pages.AdminDashboard))

	// Wellness API
	var api WellnessHandlers
	app.Handle("POST /api/predict", plain(api.Predict))
	app.Handle("POST /api/chat", plain(api.Chat))
	app.Handle("POST /api/chat_with_report", plain(api.ChatWithReport))
	app.Handle("POST /api/user/role", plain(api.SetRole))
	app.Handle("GET /api/user/health-profile", plain(api.GetHealthProfile))
	app.Handle("POST /api/user/health-profile", plain(api.SaveHealthProfile))

	if svc.RoleAdmin != nil {
		adminH := &AdminHandlers{Roles: svc.RoleAdmin, Logger: logger}
		app.Handle("GET /api/admin/roles", admin(adminH.List))
		app.Handle("POST /api/admin/roles", admin(adminH.Grant))
		app.Handle("DELETE /api/admin/roles/{user_id}", admin(adminH.Revoke))
	}

	app.HandleFunc("/", pages.NotFound)

	ws := &WorkspaceMiddleware{
		Registry:    svc.Workspaces,
		Cookie:      cookie,
		RefreshSkew: svc.RefreshSkew,
		Logger:      logger,
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", healthHandler)
	root.Handle("/", ws.Handler(app))

	return Chain(root,
		Recover(logger),
		Logging(logger),
		apiOnly(CORS(svc.HTTP.CORSOrigins)),
	), nil
}

// apiOnly applies mw to /api/ paths and passes everything else through.
func apiOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
