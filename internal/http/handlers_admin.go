package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	apperrors "github.com/mindguard/mindguard-api/internal/errors"
)

// RoleAdmin manages role assignments.
type RoleAdmin interface {
	ListByRole(ctx context.Context, role domainauth.Role) ([]domainauth.RoleAssignment, error)
	Grant(ctx context.Context, userID string, role domainauth.Role) (*domainauth.RoleAssignment, error)
	Revoke(ctx context.Context, userID string, role domainauth.Role) error
}

// AdminHandlers exposes admin role management to admins.
type AdminHandlers struct {
	Roles  RoleAdmin
	Logger *slog.Logger
}

type grantRequest struct {
	UserID string `json:"user_id"`
}

type adminList struct {
	Admins []domainauth.RoleAssignment `json:"admins"`
}

func (h *AdminHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func actorID(r *http.Request) string {
	if ws := WorkspaceFrom(r.Context()); ws != nil {
		if id := ws.Auth.State().Identity; id != nil {
			return id.ID
		}
	}
	return ""
}

// List handles GET /api/admin/roles.
func (h *AdminHandlers) List(w http.ResponseWriter, r *http.Request) {
	admins, err := h.Roles.ListByRole(r.Context(), domainauth.RoleAdmin)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "list admins", "error", err)
		WriteAppError(w, err)
		return
	}
	if admins == nil {
		admins = []domainauth.RoleAssignment{}
	}
	WriteJSON(w, http.StatusOK, adminList{Admins: admins})
}

// Grant handles POST /api/admin/roles.
func (h *AdminHandlers) Grant(w http.ResponseWriter, r *http.Request) {
	var in grantRequest
	if !DecodeJSON(w, r, &in) {
		return
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		WriteAppError(w, apperrors.ValidationField("user_id", "user_id is required"))
		return
	}
	ra, err := h.Roles.Grant(r.Context(), userID, domainauth.RoleAdmin)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	h.logger().InfoContext(r.Context(), "admin role granted", "user_id", userID, "by", actorID(r))
	WriteJSON(w, http.StatusCreated, ra)
}

// Revoke handles DELETE /api/admin/roles/{user_id}. Admins cannot revoke
// their own role.
func (h *AdminHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == actorID(r) {
		WriteAppError(w, apperrors.Conflict("cannot revoke your own admin role"))
		return
	}
	if err := h.Roles.Revoke(r.Context(), userID, domainauth.RoleAdmin); err != nil {
		WriteAppError(w, err)
		return
	}
	h.logger().InfoContext(r.Context(), "admin role revoked", "user_id", userID, "by", actorID(r))
	w.WriteHeader(http.StatusNoContent)
}
