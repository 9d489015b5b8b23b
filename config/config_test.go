package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_ParseAuthEnv(t *testing.T) {
	t.Setenv("AUTH_MODE", "Supabase")
	t.Setenv("ROLE_SOURCE", "postgres")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_JWKS_URL", "https://abc.supabase.co/auth/v1/.well-known/jwks.json")
	t.Setenv("ADMIN_USER_IDS", " u1 ,,u2")
	t.Setenv("DB_ENABLED", "true")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, AuthModeSupabase, cfg.Auth.Mode)
	assert.Equal(t, RoleSourcePostgres, cfg.Auth.RoleSource)
	assert.Equal(t, "https://abc.supabase.co", cfg.Auth.Supabase.URL)
	assert.Equal(t, "https://abc.supabase.co/auth/v1", cfg.Auth.Supabase.Issuer)
	assert.Equal(t, "anon", cfg.Auth.Supabase.ServiceRoleKey, "service key falls back to anon key")
	assert.Equal(t, []string{"u1", "u2"}, cfg.Auth.AdminUserIDs)
	assert.Equal(t, 60*time.Second, cfg.Auth.RefreshSkew)
	assert.Zero(t, cfg.Auth.RoleLookupTimeout, "role lookups are unbounded unless configured")
	require.NoError(t, cfg.Validate())
}

func TestAuthMode_UnmarshalText(t *testing.T) {
	var m AuthMode
	require.NoError(t, m.UnmarshalText([]byte("MOCK")))
	assert.Equal(t, AuthModeMock, m)
	require.Error(t, m.UnmarshalText([]byte("oauth")))

	var r RoleSource
	require.NoError(t, r.UnmarshalText([]byte("static")))
	assert.Equal(t, RoleSourceStatic, r)
	require.Error(t, r.UnmarshalText([]byte("ldap")))
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name: "mock outside dev",
			mutate: func(c *AppConfig) {
				c.Auth.Mode = AuthModeMock
				c.Auth.RoleSource = RoleSourceStatic
			},
			wantErr: "only allowed in development",
		},
		{
			name: "supabase without url",
			mutate: func(c *AppConfig) {
				c.Auth.Mode = AuthModeSupabase
			},
			wantErr: "SUPABASE_URL",
		},
		{
			name: "postgres roles without db",
			mutate: func(c *AppConfig) {
				c.IsDev = true
				c.Auth.Mode = AuthModeMock
				c.Auth.RoleSource = RoleSourcePostgres
				c.Auth.DevAuth.SigningKey = "k"
			},
			wantErr: "DB_ENABLED",
		},
		{
			name: "public suffix cookie domain",
			mutate: func(c *AppConfig) {
				c.IsDev = true
				c.Auth.Mode = AuthModeMock
				c.Auth.RoleSource = RoleSourceStatic
				c.Auth.DevAuth.SigningKey = "k"
				c.HTTP.CookieDomain = "co.uk"
			},
			wantErr: "public suffix",
		},
		{
			name: "valid dev config",
			mutate: func(c *AppConfig) {
				c.IsDev = true
				c.Auth.Mode = AuthModeMock
				c.Auth.RoleSource = RoleSourceStatic
				c.Auth.DevAuth.SigningKey = "k"
				c.HTTP.CookieDomain = "app.mindguard.io"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg AppConfig
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHTTPConfig_Sanitize(t *testing.T) {
	h := HTTPConfig{
		CookieDomain:          " .MindGuard.io ",
		CORSOrigins:           []string{" https://a.example ", ""},
		AuthRequestsPerMinute: -1,
		GuardPendingTimeout:   -time.Second,
	}
	h.Sanitize()

	assert.Equal(t, "mindguard.io", h.CookieDomain)
	assert.Equal(t, []string{"https://a.example"}, h.CORSOrigins)
	assert.Equal(t, 10, h.AuthRequestsPerMinute)
	assert.Zero(t, h.GuardPendingTimeout)
}

func TestHTTPConfig_TrustedProxyPrefixes(t *testing.T) {
	h := HTTPConfig{TrustedProxies: []string{" 10.0.0.0/8 ", "", "192.0.2.7", "2001:db8::/32"}}
	h.Sanitize()

	got, err := h.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.0.2.7/32", got[1].String())
	assert.Equal(t, "2001:db8::/32", got[2].String())

	h.TrustedProxies = []string{"not-an-ip"}
	_, err = h.TrustedProxyPrefixes()
	require.Error(t, err)
	assert.ErrorContains(t, h.Validate(), "HTTP_TRUSTED_PROXIES")
}

func TestWorkspaceAndBackend_Sanitize(t *testing.T) {
	w := WorkspaceConfig{}
	w.Sanitize()
	assert.Equal(t, 30*time.Minute, w.IdleTTL)
	assert.Equal(t, "mindguard:session:", w.KeyPrefix)

	b := BackendConfig{BaseURL: " https://api.example/ "}
	b.Sanitize()
	assert.Equal(t, "https://api.example", b.BaseURL)
	assert.Equal(t, 30*time.Second, b.Timeout)
}

func TestRedisConfig_Configured(t *testing.T) {
	assert.False(t, (&RedisConfig{}).Configured())
	assert.True(t, (&RedisConfig{URI: "localhost:6379"}).Configured())
	assert.False(t, (&RedisConfig{Password: "secret"}).Configured())

	var nilCfg *RedisConfig
	assert.False(t, nilCfg.Configured())
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	c := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "  "}
	c.Sanitize()
	assert.False(t, c.IsEnabled())

	c = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " 127.0.0.1:8125 "}
	c.Sanitize()
	assert.True(t, c.IsEnabled())
	assert.Equal(t, "127.0.0.1:8125", c.StatsdAddress)
}
