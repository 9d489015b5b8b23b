package config

import (
	"strings"
	"time"
)

// BackendConfig points at the external scoring/chat API.
type BackendConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8000"`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"30s"`
}

// Sanitize trims the base URL and clamps the timeout.
func (b *BackendConfig) Sanitize() {
	b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	if b.Timeout <= 0 {
		b.Timeout = 30 * time.Second
	}
}

// WorkspaceConfig controls per-browser workspace lifetime and session persistence.
type WorkspaceConfig struct {
	IdleTTL       time.Duration `env:"IDLE_TTL"       envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	// SessionTTL is how long a persisted session survives without activity.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	KeyPrefix  string        `env:"KEY_PREFIX"  envDefault:"mindguard:session:"`
}

// Sanitize enforces sane lower bounds.
func (w *WorkspaceConfig) Sanitize() {
	if w.IdleTTL <= 0 {
		w.IdleTTL = 30 * time.Minute
	}
	if w.SweepInterval <= 0 {
		w.SweepInterval = time.Minute
	}
	if w.SessionTTL <= 0 {
		w.SessionTTL = 7 * 24 * time.Hour
	}
	if w.KeyPrefix == "" {
		w.KeyPrefix = "mindguard:session:"
	}
}
