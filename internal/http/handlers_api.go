package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mindguard/mindguard-api/internal/service"
)

// WellnessHandlers proxies the signed-in user's wellness calls to the
// backend through the workspace's API client.
type WellnessHandlers struct{}

// Predict handles POST /api/predict.
func (WellnessHandlers) Predict(w http.ResponseWriter, r *http.Request) {
	var in service.CheckinInput
	if !DecodeJSON(w, r, &in) {
		return
	}
	p, err := WorkspaceFrom(r.Context()).Wellness.Predict(r.Context(), in)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

type chatReply struct {
	Response string `json:"response"`
}

// Chat handles POST /api/chat.
func (h WellnessHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	h.chat(w, r, false)
}

// ChatWithReport handles POST /api/chat_with_report.
func (h WellnessHandlers) ChatWithReport(w http.ResponseWriter, r *http.Request) {
	h.chat(w, r, true)
}

func (WellnessHandlers) chat(w http.ResponseWriter, r *http.Request, withReport bool) {
	var in service.ChatInput
	if !DecodeJSON(w, r, &in) {
		return
	}
	reply, err := WorkspaceFrom(r.Context()).Wellness.Chat(r.Context(), in, withReport)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, chatReply{Response: reply})
}

// SetRole handles POST /api/user/role.
func (WellnessHandlers) SetRole(w http.ResponseWriter, r *http.Request) {
	var in service.RoleProfile
	if !DecodeJSON(w, r, &in) {
		return
	}
	if err := WorkspaceFrom(r.Context()).Wellness.SetRole(r.Context(), in); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SaveHealthProfile handles POST /api/user/health-profile. The body is
// free-form JSON and forwarded as is.
func (WellnessHandlers) SaveHealthProfile(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_body", Err: errors.New("request body too large")})
		return
	}
	if err := WorkspaceFrom(r.Context()).Wellness.SaveHealthProfile(r.Context(), json.RawMessage(raw)); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetHealthProfile handles GET /api/user/health-profile.
func (WellnessHandlers) GetHealthProfile(w http.ResponseWriter, r *http.Request) {
	raw, err := WorkspaceFrom(r.Context()).Wellness.GetHealthProfile(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, raw)
}
