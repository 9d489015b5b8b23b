package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mindguard/mindguard-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCheckin() service.CheckinInput {
	return service.CheckinInput{Fatigue: 7, Stress: 8, SleepHours: 5, WorkHours: 10, ScreenTime: 9, SocialMediaHours: 3}
}

func TestPredict_ForwardsWithBearerToken(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	var got service.CheckinInput
	f.setBackend(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		WriteJSON(w, http.StatusOK, map[string]any{"probability": 0.81, "risk_level": "high", "explanation": "little sleep"})
	})
	cookie := f.signIn(t, "u1@example.com")

	rec := f.postJSON("/api/predict", validCheckin(), cookie)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decodeBody[service.Prediction](t, rec)
	assert.Equal(t, "high", p.RiskLevel)
	assert.InDelta(t, 0.81, p.Probability, 1e-9)
	assert.Equal(t, validCheckin(), got)

	auth := f.backendAuth()
	require.Len(t, auth, 1)
	assert.True(t, strings.HasPrefix(auth[0], "Bearer access-u1-"), auth[0])
}

func TestPredict_ValidationNeverReachesBackend(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	cookie := f.signIn(t, "u1@example.com")

	in := validCheckin()
	in.Stress = 42
	rec := f.postJSON("/api/predict", in, cookie)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "stress", decodeBody[errorBody](t, rec).Field)
	assert.Empty(t, f.backendAuth())
}

func TestChat(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	f.setBackend(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chat_with_report" {
			WriteJSON(w, http.StatusOK, map[string]string{"message": "Your week looked heavy."})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"response": "I'm here."})
	})
	cookie := f.signIn(t, "u1@example.com")

	rec := f.postJSON("/api/chat", service.ChatInput{Message: "hi"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "I'm here.", decodeBody[chatReply](t, rec).Response)

	rec = f.postJSON("/api/chat_with_report", service.ChatInput{}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Your week looked heavy.", decodeBody[chatReply](t, rec).Response)

	rec = f.postJSON("/api/chat", service.ChatInput{Message: "  "}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetRole(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	cookie := f.signIn(t, "u1@example.com")

	rec := f.postJSON("/api/user/role", service.RoleProfile{Role: "student", College: "IIT", Course: "CS", Year: "2"}, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.postJSON("/api/user/role", service.RoleProfile{Role: "employee"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthProfile(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	var mu sync.Mutex
	stored := ""
	f.setBackend(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			stored = string(body)
			WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		if stored == "" {
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(stored))
	})
	cookie := f.signIn(t, "u1@example.com")

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/api/user/health-profile", nil), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code, "backend client errors pass through")
	assert.Equal(t, "upstream", decodeBody[errorBody](t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/api/user/health-profile", strings.NewReader(`{"sleep_hours":7}`))
	req.Header.Set("Content-Type", "application/json")
	rec = f.serve(req, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.serve(httptest.NewRequest(http.MethodGet, "/api/user/health-profile", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sleep_hours":7}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/user/health-profile", strings.NewReader(`{broken`))
	rec = f.serve(req, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackendOutageIsBadGateway(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	f.setBackend(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	cookie := f.signIn(t, "u1@example.com")

	rec := f.postJSON("/api/predict", validCheckin(), cookie)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
