package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// CookieDomain is the domain for the workspace cookie.
	// Leave empty to use the request host.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// CORSOrigins are the origins allowed to call /api/ from a browser.
	CORSOrigins []string `env:"HTTP_CORS_ORIGINS" envSeparator:","`

	// AuthRequestsPerMinute throttles sign-in and registration per client.
	AuthRequestsPerMinute int `env:"HTTP_AUTH_RPM" envDefault:"10"`

	// GuardPendingTimeout bounds how long a guarded request waits for session
	// hydration and role lookup. Zero waits for the request context.
	GuardPendingTimeout time.Duration `env:"GUARD_PENDING_TIMEOUT" envDefault:"0s"`

	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty keys clients on the peer address.
	TrustedProxies []string `env:"HTTP_TRUSTED_PROXIES" envSeparator:","`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.CookieDomain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h.CookieDomain)), ".")
	if h.AuthRequestsPerMinute <= 0 {
		h.AuthRequestsPerMinute = 10
	}
	if h.GuardPendingTimeout < 0 {
		h.GuardPendingTimeout = 0
	}
	origins := h.CORSOrigins[:0]
	for _, o := range h.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	h.CORSOrigins = origins
	proxies := h.TrustedProxies[:0]
	for _, p := range h.TrustedProxies {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	h.TrustedProxies = proxies
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (h *HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("HTTP_TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("HTTP_TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Validate rejects malformed proxy entries and cookie domains that browsers
// would refuse or share across sites.
func (h *HTTPConfig) Validate() error {
	if _, err := h.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if h.CookieDomain == "" || h.CookieDomain == "localhost" {
		return nil
	}
	// EffectiveTLDPlusOne fails for bare public suffixes such as "co.uk".
	if _, err := publicsuffix.EffectiveTLDPlusOne(h.CookieDomain); err != nil {
		return fmt.Errorf("APP_COOKIE_DOMAIN %q is a public suffix: %w", h.CookieDomain, err)
	}
	return nil
}
