package httpx

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	apperrors "github.com/mindguard/mindguard-api/internal/errors"
	"github.com/mindguard/mindguard-api/internal/service"
)

// Post-action destinations.
const (
	roleSelectionPath  = "/role-selection"
	adminDashboardPath = "/admin/dashboard"
)

const accessDeniedMessage = "You are not an admin."

// AuthHandlers serves sign-in, registration, and sign-out.
type AuthHandlers struct {
	// Roles answers the admin check that follows an admin sign-in.
	Roles service.RoleChecker
	// Workspaces re-keys the workspace once a session is installed.
	Workspaces Workspaces
	Cookie     SessionCookie
	Pages      *PageHandlers
	Logger     *slog.Logger
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FullName        string `json:"full_name"`
	Gender          string `json:"gender"`
	DOB             string `json:"dob"`
	City            string `json:"city"`
	Country         string `json:"country"`
}

type authResponse struct {
	Redirect string               `json:"redirect"`
	User     *domainauth.Identity `json:"user,omitempty"`
	// SignedIn is false after a registration that awaits email confirmation.
	SignedIn bool `json:"signed_in"`
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Login signs in and sends the user to the dashboard.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	var in credentials
	if !readCredentials(w, r, &in) {
		return
	}

	page := PageData{Page: pageLogin, Title: "Sign in", Email: in.Email}
	id, err := ws.Auth.SignIn(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err == nil {
		err = h.rotate(w, r, ws)
	}
	if err != nil {
		h.fail(w, r, "Login Failed", err, page)
		return
	}
	h.succeed(w, r, http.StatusOK, authResponse{Redirect: domainauth.LandingPath, User: id, SignedIn: true})
}

// AdminLogin signs in, then checks the admin role for the identity just
// returned. A non-admin stays signed in but is refused.
func (h *AuthHandlers) AdminLogin(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	var in credentials
	if !readCredentials(w, r, &in) {
		return
	}
	page := PageData{Page: pageAdminLogin, Title: "Admin sign-in", Email: in.Email}

	id, err := ws.Auth.SignIn(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err == nil {
		err = h.rotate(w, r, ws)
	}
	if err != nil {
		h.fail(w, r, "Login Failed", err, page)
		return
	}

	isAdmin, err := h.Roles.IsAdmin(r.Context(), id.ID)
	if err != nil {
		h.logger().WarnContext(r.Context(), "admin role check failed", "user_id", id.ID, "error", err)
		h.fail(w, r, "Login Failed", fmt.Errorf("%w: %w", domainauth.ErrLookupFailure, err), page)
		return
	}
	if !isAdmin {
		h.logger().InfoContext(r.Context(), "admin sign-in refused", "user_id", id.ID)
		h.fail(w, r, "Access Denied", apperrors.Forbidden(accessDeniedMessage), page)
		return
	}
	h.succeed(w, r, http.StatusOK, authResponse{Redirect: adminDashboardPath, User: id, SignedIn: true})
}

// Register creates an account and continues to role selection, whether or
// not the provider signed the user in.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	var in registerRequest
	if !readRegistration(w, r, &in) {
		return
	}
	page := PageData{
		Page:  pageRegister,
		Title: "Create account",
		Email: in.Email,
		Form: map[string]string{
			"full_name": in.FullName, "gender": in.Gender, "dob": in.DOB, "city": in.City, "country": in.Country,
		},
	}
	if in.Password != in.ConfirmPassword {
		h.fail(w, r, "Registration Failed",
			apperrors.ValidationField("confirm_password", "passwords do not match"), page)
		return
	}

	id, err := ws.Auth.SignUp(r.Context(), domainauth.SignUpInput{
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
		Profile: domainauth.ProfileAttributes{
			FullName: strings.TrimSpace(in.FullName),
			Gender:   in.Gender,
			DOB:      in.DOB,
			City:     strings.TrimSpace(in.City),
			Country:  strings.TrimSpace(in.Country),
		},
	})
	signedIn := err == nil && ws.Store.CurrentSession() != nil
	if signedIn {
		err = h.rotate(w, r, ws)
	}
	if err != nil {
		h.fail(w, r, "Registration Failed", err, page)
		return
	}
	h.succeed(w, r, http.StatusCreated, authResponse{Redirect: roleSelectionPath, User: id, SignedIn: signedIn})
}

// rotate moves a freshly authenticated workspace to a new key and sends it
// to the browser, so a key handed out before sign-in never names a session.
// On failure the session is dropped rather than left under the old key.
func (h *AuthHandlers) rotate(w http.ResponseWriter, r *http.Request, ws *service.Workspace) error {
	if h.Workspaces == nil {
		return nil
	}
	key, err := h.Workspaces.Rotate(r.Context(), ws)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "rotate workspace failed", "error", err)
		ws.Auth.SignOut(r.Context())
		return fmt.Errorf("secure session: %w", err)
	}
	h.Cookie.Set(w, r, key)
	return nil
}

// Logout signs out and returns to the sign-in page. It never fails.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	WorkspaceFrom(r.Context()).Auth.SignOut(r.Context())
	h.succeed(w, r, http.StatusOK, authResponse{Redirect: domainauth.LoginPath})
}

type adminStatus struct {
	IsAdmin      bool `json:"is_admin"`
	Loading      bool `json:"loading"`
	LookupFailed bool `json:"lookup_failed"`
}

type statusResponse struct {
	Loading       bool                 `json:"loading"`
	Authenticated bool                 `json:"authenticated"`
	User          *domainauth.Identity `json:"user"`
	Admin         adminStatus          `json:"admin"`
}

// Status reports the workspace's current auth and role state without waiting.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	st := ws.Auth.State()
	admin := ws.AdminState()
	WriteJSON(w, http.StatusOK, statusResponse{
		Loading:       st.Loading,
		Authenticated: st.Authenticated(),
		User:          st.Identity,
		Admin:         adminStatus{IsAdmin: admin.IsAdmin, Loading: admin.Loading, LookupFailed: admin.LookupFailed},
	})
}

func (h *AuthHandlers) succeed(w http.ResponseWriter, r *http.Request, status int, resp authResponse) {
	if wantsJSON(r) {
		WriteJSON(w, status, resp)
		return
	}
	redirect(w, r, resp.Redirect)
}

// fail answers JSON clients with an error body and browsers with the form
// page carrying a toast.
func (h *AuthHandlers) fail(w http.ResponseWriter, r *http.Request, title string, err error, page PageData) {
	p := errorParamsFor(err)
	if p.Code >= http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), "auth action failed", "path", r.URL.Path, "error", err)
	}
	if wantsJSON(r) || h.Pages == nil {
		WriteError(w, p)
		return
	}
	page.Path = r.URL.Path
	page.ErrorTitle = title
	page.Error = p.Err.Error()
	h.Pages.render(w, p.Code, page)
}

func readCredentials(w http.ResponseWriter, r *http.Request, dst *credentials) bool {
	if isJSONBody(r) {
		return DecodeJSON(w, r, dst)
	}
	if !parseForm(w, r) {
		return false
	}
	dst.Email = r.PostFormValue("email")
	dst.Password = r.PostFormValue("password")
	return true
}

func readRegistration(w http.ResponseWriter, r *http.Request, dst *registerRequest) bool {
	if isJSONBody(r) {
		return DecodeJSON(w, r, dst)
	}
	if !parseForm(w, r) {
		return false
	}
	*dst = registerRequest{
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
		FullName:        r.PostFormValue("full_name"),
		Gender:          r.PostFormValue("gender"),
		DOB:             r.PostFormValue("dob"),
		City:            r.PostFormValue("city"),
		Country:         r.PostFormValue("country"),
	}
	return true
}

func isJSONBody(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
		return false
	}
	return true
}
