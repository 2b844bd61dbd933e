// Package endpoint guards configurable service base URLs: https only, no credentials or
// query in the URL, host on an allow-list.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// Policy describes one configurable endpoint. Var and HostsVar name the environment
// variables in error messages.
type Policy struct {
	Var          string
	HostsVar     string
	DefaultURL   string
	DefaultHosts []string
}

// Normalize trims the URL and falls back to the default.
func (p Policy) Normalize(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = p.DefaultURL
	}
	return strings.TrimRight(baseURL, "/")
}

func (p Policy) Validate(baseURL string, allowedHosts []string) error {
	baseURL = p.Normalize(baseURL)

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", p.Var, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid %s %q: absolute URL with host is required", p.Var, baseURL)
	}
	if u.User != nil {
		return fmt.Errorf("invalid %s %q: userinfo is not allowed", p.Var, baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid %s %q: query and fragment are not allowed", p.Var, baseURL)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("invalid %s %q: host is required", p.Var, baseURL)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("invalid %s %q: https is required", p.Var, baseURL)
	}

	if _, ok := p.Hosts(allowedHosts)[host]; !ok {
		return fmt.Errorf("invalid %s %q: host %q is not in %s", p.Var, baseURL, host, p.HostsVar)
	}
	return nil
}

// Hosts normalizes a configured allow-list ("https://Proxy.internal:443/" -> "proxy.internal").
// An empty or blank list yields the default hosts.
func (p Policy) Hosts(allowedHosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		if v := hostOf(h); v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, h := range p.DefaultHosts {
		out[hostOf(h)] = struct{}{}
	}
	return out
}

func hostOf(h string) string {
	v := strings.ToLower(strings.TrimSpace(h))
	v = strings.TrimPrefix(v, "http://")
	v = strings.TrimPrefix(v, "https://")
	v = strings.Trim(v, "/")
	if i := strings.Index(v, ":"); i >= 0 {
		v = v[:i]
	}
	return v
}
