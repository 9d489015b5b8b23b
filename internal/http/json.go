package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mindguard/mindguard-api/internal/apiclient"
	"github.com/mindguard/mindguard-api/internal/data"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	apperrors "github.com/mindguard/mindguard-api/internal/errors"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes the request body into dst. On failure a 400 response has
// already been written and false is returned.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	Field   string
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	msg := http.StatusText(p.Code)
	if p.Err != nil {
		msg = p.Err.Error()
	}
	WriteJSON(w, p.Code, errorBody{Error: p.ErrCode, Message: msg, Field: p.Field})
}

// WriteAppError maps err onto a status and error code and writes it.
// Internal failures are reported without their cause.
func WriteAppError(w http.ResponseWriter, err error) {
	WriteError(w, errorParamsFor(err))
}

var errInternal = errors.New("internal error")

func errorParamsFor(err error) ErrorParams {
	var appErr *apperrors.AppError
	var upstream *apiclient.HTTPError
	switch {
	case errors.Is(err, domainauth.ErrInvalidCredentials):
		return ErrorParams{Code: http.StatusUnauthorized, ErrCode: "invalid_credentials", Err: domainauth.ErrInvalidCredentials}
	case errors.Is(err, domainauth.ErrNotAuthenticated):
		return ErrorParams{Code: http.StatusUnauthorized, ErrCode: "authentication_required", Err: domainauth.ErrNotAuthenticated}
	case errors.Is(err, domainauth.ErrLookupFailure):
		return ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "role_lookup_failed", Err: domainauth.ErrLookupFailure}
	case errors.As(err, &appErr):
		p := ErrorParams{Code: appErr.HTTPStatus(), ErrCode: string(appErr.Code), Field: appErr.Field, Err: errInternal}
		if appErr.Code != apperrors.ErrCodeInternal {
			p.Err = errors.New(appErr.Message)
		}
		return p
	case errors.Is(err, domainauth.ErrRegistration):
		return ErrorParams{Code: http.StatusBadRequest, ErrCode: "registration_failed", Err: err}
	case errors.Is(err, data.ErrRoleNotFound):
		return ErrorParams{Code: http.StatusNotFound, ErrCode: string(apperrors.ErrCodeNotFound), Err: data.ErrRoleNotFound}
	case errors.Is(err, data.ErrUserIDRequired), errors.Is(err, data.ErrRoleRequired):
		return ErrorParams{Code: http.StatusBadRequest, ErrCode: string(apperrors.ErrCodeValidation), Err: err}
	case errors.As(err, &upstream):
		// Client errors pass through so the caller sees e.g. a missing profile as 404.
		code := http.StatusBadGateway
		if upstream.Status >= 400 && upstream.Status < 500 {
			code = upstream.Status
		}
		return ErrorParams{Code: code, ErrCode: string(apperrors.ErrCodeUpstream), Err: upstream}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorParams{Code: http.StatusGatewayTimeout, ErrCode: string(apperrors.ErrCodeTimeout), Err: context.DeadlineExceeded}
	default:
		return ErrorParams{Code: http.StatusInternalServerError, ErrCode: string(apperrors.ErrCodeInternal), Err: errInternal}
	}
}
