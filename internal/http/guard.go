package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/observability/metrics"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/service"
)

const (
	guardPlain = "plain"
	guardAdmin = "admin"
)

// Guard gates routes on the workspace's auth and role state.
type Guard struct {
	// Timeout bounds the wait for a verdict. Zero waits as long as the request.
	Timeout time.Duration
	Metrics statsd.Sink
	Logger  *slog.Logger
	// Pending renders the loading page for browser requests.
	Pending http.Handler
}

// Plain lets signed-in users through and sends everyone else to /login.
func (g *Guard) Plain(next http.Handler) http.Handler {
	return g.wrap(guardPlain, func(ctx context.Context, ws *service.Workspace) domainauth.Decision {
		return ws.AwaitPlain(ctx)
	}, next)
}

// Admin lets admins through, sends anonymous visitors to /admin/login and
// signed-in non-admins to /dashboard.
func (g *Guard) Admin(next http.Handler) http.Handler {
	return g.wrap(guardAdmin, func(ctx context.Context, ws *service.Workspace) domainauth.Decision {
		return ws.AwaitAdmin(ctx)
	}, next)
}

func (g *Guard) wrap(
	name string,
	await func(context.Context, *service.Workspace) domainauth.Decision,
	next http.Handler,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws := WorkspaceFrom(r.Context())
		if ws == nil {
			g.logger().ErrorContext(r.Context(), "guarded route reached without a workspace", "path", r.URL.Path)
			WriteAppError(w, errors.New("missing workspace"))
			return
		}

		ctx := r.Context()
		if g.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.Timeout)
			defer cancel()
		}
		d := await(ctx, ws)
		metrics.EmitGuardDecision(g.Metrics, name, d)

		switch d.Outcome {
		case domainauth.OutcomeRender:
			next.ServeHTTP(w, r)
		case domainauth.OutcomeRedirect:
			g.deny(w, r, ws, d)
		default:
			if r.Context().Err() != nil {
				return
			}
			g.pending(w, r)
		}
	})
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, ws *service.Workspace, d domainauth.Decision) {
	if !isAPIRequest(r) {
		redirect(w, r, d.Location)
		return
	}
	if d.Location != domainauth.LandingPath {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return
	}
	p := ErrorParams{
		Code:    http.StatusForbidden,
		ErrCode: "insufficient_permissions",
		Err:     errors.New("admin role required"),
	}
	if admin := ws.AdminState(); admin.LookupFailed {
		p.ErrCode = "role_lookup_failed"
		p.Err = domainauth.ErrLookupFailure
	}
	WriteError(w, p)
}

func (g *Guard) pending(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	if isAPIRequest(r) || g.Pending == nil {
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	g.Pending.ServeHTTP(w, r)
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
