package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/service"
)

// SessionCookieName identifies the browser's workspace.
const SessionCookieName = "mg_session"

// Workspaces hands out the per-browser auth workspace.
type Workspaces interface {
	Acquire(key string) (*service.Workspace, error)
	Release(ws *service.Workspace)
	// Rotate re-keys ws and returns the key the browser must present next.
	Rotate(ctx context.Context, ws *service.Workspace) (string, error)
}

type workspaceKey struct{}

// WithWorkspace stores ws in ctx.
func WithWorkspace(ctx context.Context, ws *service.Workspace) context.Context {
	return context.WithValue(ctx, workspaceKey{}, ws)
}

// WorkspaceFrom returns the workspace stored in ctx, or nil.
func WorkspaceFrom(ctx context.Context) *service.Workspace {
	ws, _ := ctx.Value(workspaceKey{}).(*service.Workspace)
	return ws
}

// WorkspaceMiddleware binds each request to the workspace named by its
// session cookie, issuing a new cookie on first visit.
type WorkspaceMiddleware struct {
	Registry Workspaces
	Cookie   SessionCookie
	// RefreshSkew refreshes access tokens this long before expiry.
	RefreshSkew time.Duration
	Logger      *slog.Logger
}

func (m *WorkspaceMiddleware) Handler(next http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, fresh := workspaceKeyFor(r)
		if fresh {
			m.Cookie.Set(w, r, key)
		}

		ws, err := m.Registry.Acquire(key)
		if err != nil {
			logger.ErrorContext(r.Context(), "acquire workspace failed", "error", err)
			WriteError(w, ErrorParams{
				Code:    http.StatusServiceUnavailable,
				ErrCode: "unavailable",
				Err:     errors.New("service is shutting down"),
			})
			return
		}
		defer m.Registry.Release(ws)

		m.maybeRefresh(r.Context(), ws, logger)
		next.ServeHTTP(w, r.WithContext(WithWorkspace(r.Context(), ws)))
	})
}

// maybeRefresh only refreshes an already hydrated store so the request
// never blocks on hydration here; the guards do the waiting.
func (m *WorkspaceMiddleware) maybeRefresh(ctx context.Context, ws *service.Workspace, logger *slog.Logger) {
	select {
	case <-ws.Store.Hydrated():
	default:
		return
	}
	if err := ws.Store.RefreshIfNeeded(ctx, m.RefreshSkew); err != nil {
		if errors.Is(err, domainauth.ErrNotAuthenticated) {
			logger.InfoContext(ctx, "session expired", "workspace", ws.Key())
			return
		}
		logger.WarnContext(ctx, "session refresh failed; keeping current token", "error", err)
	}
}

func workspaceKeyFor(r *http.Request) (key string, fresh bool) {
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String(), false
		}
	}
	return uuid.NewString(), true
}

// SessionCookie issues the cookie that names a browser's workspace.
type SessionCookie struct {
	Domain string
	// MaxAge matches the persisted session lifetime. Zero makes a browser-session cookie.
	MaxAge time.Duration
}

// Set writes the cookie for key, replacing any workspace cookie already
// queued on this response.
func (c SessionCookie) Set(w http.ResponseWriter, r *http.Request, key string) {
	h := w.Header()
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, SessionCookieName+"=") {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}

	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    key,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	}
	if c.MaxAge > 0 {
		cookie.MaxAge = int(c.MaxAge / time.Second)
	}
	http.SetCookie(w, cookie)
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
