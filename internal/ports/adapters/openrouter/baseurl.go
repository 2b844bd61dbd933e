package openrouter

import "github.com/forPelevin/capburn/internal/ports/adapters/endpoint"

const defaultBaseURL = "https://openrouter.ai"

var baseURLPolicy = endpoint.Policy{
	Var:          "OPENROUTER_BASE_URL",
	HostsVar:     "OPENROUTER_ALLOWED_HOSTS",
	DefaultURL:   defaultBaseURL,
	DefaultHosts: []string{"openrouter.ai", "api.openrouter.ai"},
}

func normalizeBaseURL(baseURL string) string { return baseURLPolicy.Normalize(baseURL) }

// ValidateBaseURL rejects base URLs that could leak the API key: non-https schemes,
// embedded credentials and hosts outside allowedHosts (defaults to openrouter.ai).
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	return baseURLPolicy.Validate(baseURL, allowedHosts)
}
