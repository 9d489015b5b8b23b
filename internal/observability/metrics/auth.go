package metrics

import (
	"strconv"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	obserrors "github.com/mindguard/mindguard-api/internal/observability/errors"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Auth operation names.
const (
	OpSignIn    = "sign_in"
	OpSignUp    = "sign_up"
	OpSignOut   = "sign_out"
	OpRefresh   = "refresh"
	OpHydrate   = "hydrate"
	OpRoleCheck = "role_lookup"

	OpPersistSave   = "persist_save"
	OpPersistDelete = "persist_delete"
)

// EmitAuthOperation counts a session store or role lookup operation.
func EmitAuthOperation(sink statsd.Sink, op string, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"op": op, "result": ResultSuccess}
	if err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(err)
	}
	sink.Count("auth.operation", 1, tags)
}

// EmitGuardDecision counts a route guard verdict.
func EmitGuardDecision(sink statsd.Sink, guard string, d domainauth.Decision) {
	if sink == nil {
		return
	}
	sink.Count("guard.decision", 1, map[string]string{
		"guard":   guard,
		"outcome": d.Outcome.String(),
	})
}

// APIRequest describes one outbound call to the scoring/chat backend.
type APIRequest struct {
	Method   string
	Status   int
	Duration time.Duration
	Err      error
}

// EmitAPIRequest counts and times an outbound backend request.
func EmitAPIRequest(sink statsd.Sink, in APIRequest) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"method": in.Method,
		"status": StatusClass(in.Status),
	}
	if in.Err != nil && in.Status == 0 {
		tags["error_class"] = obserrors.Classify(in.Err)
	}
	sink.Count("api.request", 1, tags)
	if in.Duration > 0 {
		sink.Timing("api.request.duration", in.Duration, CloneTags(tags))
	}
}

// EmitWorkspaceEvicted records idle workspace evictions.
func EmitWorkspaceEvicted(sink statsd.Sink, n int) {
	if sink == nil || n <= 0 {
		return
	}
	sink.Count("workspace.evicted", int64(n), nil)
}

// StatusClass buckets an HTTP status as "2xx", "4xx", etc. Zero means no response.
func StatusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
