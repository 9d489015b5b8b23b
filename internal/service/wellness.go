package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
	apperrors "github.com/mindguard/mindguard-api/internal/errors"
)

// replyExpr picks the assistant text out of a chat response.
const replyExpr = "response || message"

// BackendAPI is the subset of the API client used by WellnessService.
type BackendAPI interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// CheckinInput is a daily check-in submitted for risk scoring.
type CheckinInput struct {
	Fatigue          int     `json:"fatigue"            validate:"gte=1,lte=10"`
	Stress           int     `json:"stress"             validate:"gte=1,lte=10"`
	SleepHours       float64 `json:"sleep_hours"        validate:"gte=0,lte=24"`
	WorkHours        float64 `json:"work_hours"         validate:"gte=0,lte=24"`
	StudyHours       float64 `json:"study_hours"        validate:"gte=0,lte=24"`
	ScreenTime       float64 `json:"screen_time"        validate:"gte=0,lte=24"`
	SocialMediaHours float64 `json:"social_media_hours" validate:"gte=0,lte=24"`
}

// Prediction is the backend's burnout risk verdict.
type Prediction struct {
	Probability float64 `json:"probability"`
	RiskLevel   string  `json:"risk_level"`
	Explanation string  `json:"explanation"`
}

// ChatMessage is one turn of a chat transcript.
type ChatMessage struct {
	Role    string `json:"role"    validate:"oneof=user assistant"`
	Content string `json:"content"`
}

// ChatInput is a chat request with its transcript so far.
type ChatInput struct {
	Message  string        `json:"message"  validate:"max=4000"`
	Messages []ChatMessage `json:"messages" validate:"dive"`
}

// RoleProfile is the occupation chosen during onboarding.
type RoleProfile struct {
	Role       string `json:"role"                 validate:"required,oneof=student employee"`
	College    string `json:"college,omitempty"    validate:"required_if=Role student"`
	Course     string `json:"course,omitempty"     validate:"required_if=Role student"`
	Year       string `json:"year,omitempty"       validate:"required_if=Role student"`
	Company    string `json:"company,omitempty"    validate:"required_if=Role employee"`
	RoleTitle  string `json:"role_title,omitempty" validate:"required_if=Role employee"`
	Department string `json:"department,omitempty" validate:"required_if=Role employee"`
	WorkType   string `json:"work_type,omitempty"  validate:"omitempty,oneof=remote onsite hybrid"`
}

// WellnessService sends the signed-in user's wellness data to the backend.
type WellnessService struct {
	api BackendAPI
}

func NewWellnessService(api BackendAPI) *WellnessService {
	return &WellnessService{api: api}
}

// Predict scores a check-in.
func (s *WellnessService) Predict(ctx context.Context, in CheckinInput) (*Prediction, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}
	raw, err := s.api.Post(ctx, "/predict", in)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	var p Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}

// Chat sends a message and returns the assistant reply. With withReport the
// backend also considers the user's stored reports.
func (s *WellnessService) Chat(ctx context.Context, in ChatInput, withReport bool) (string, error) {
	if !withReport && strings.TrimSpace(in.Message) == "" {
		return "", apperrors.ValidationField("message", "message is required")
	}
	if err := ValidateStruct(in); err != nil {
		return "", err
	}
	path := "/chat"
	if withReport {
		path = "/chat_with_report"
	}
	raw, err := s.api.Post(ctx, path, in)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return extractReply(raw)
}

// SetRole records the onboarding role profile.
func (s *WellnessService) SetRole(ctx context.Context, in RoleProfile) error {
	if err := ValidateStruct(in); err != nil {
		return err
	}
	if _, err := s.api.Post(ctx, "/user/role", in); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// SaveHealthProfile stores the free-form health baseline.
func (s *WellnessService) SaveHealthProfile(ctx context.Context, profile json.RawMessage) error {
	if !json.Valid(profile) {
		return apperrors.Validation("health profile must be valid JSON")
	}
	if _, err := s.api.Post(ctx, "/user/health-profile", profile); err != nil {
		return fmt.Errorf("save health profile: %w", err)
	}
	return nil
}

// GetHealthProfile fetches the stored health baseline.
func (s *WellnessService) GetHealthProfile(ctx context.Context) (json.RawMessage, error) {
	raw, err := s.api.Get(ctx, "/user/health-profile")
	if err != nil {
		return nil, fmt.Errorf("get health profile: %w", err)
	}
	return raw, nil
}

// extractReply returns the first non-empty of response or message, and
// falls back to the raw JSON text.
func extractReply(raw json.RawMessage) (string, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode chat reply: %w", err)
	}
	v, err := jmespath.Search(replyExpr, data)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", replyExpr, err)
	}
	switch reply := v.(type) {
	case string:
		if reply != "" {
			return reply, nil
		}
	case nil:
	default:
		b, err := json.Marshal(reply)
		if err == nil {
			return string(b), nil
		}
	}
	return string(raw), nil
}
