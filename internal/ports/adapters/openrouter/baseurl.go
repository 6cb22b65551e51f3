package openrouter

import (
	"net/url"
	"strings"

	"github.com/forPelevin/autoclip/internal/errs"
)

const DefaultBaseURL = "https://openrouter.ai"

var defaultAllowedHosts = map[string]struct{}{
	"openrouter.ai":     {},
	"api.openrouter.ai": {},
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL accepts only bare https URLs whose host is in allowedHosts,
// or in the OpenRouter defaults when allowedHosts is empty. The API key is
// sent to this host, so anything looser is a config error.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	baseURL = normalizeBaseURL(baseURL)

	u, err := url.Parse(baseURL)
	if err != nil {
		return errs.Wrap(errs.Validation, err, "OPENROUTER_BASE_URL")
	}
	switch {
	case !u.IsAbs() || u.Hostname() == "":
		return errs.Errorf(errs.Validation, "OPENROUTER_BASE_URL %q: absolute URL with host is required", baseURL)
	case u.User != nil:
		return errs.Errorf(errs.Validation, "OPENROUTER_BASE_URL %q: userinfo is not allowed", baseURL)
	case u.RawQuery != "" || u.Fragment != "":
		return errs.Errorf(errs.Validation, "OPENROUTER_BASE_URL %q: query and fragment are not allowed", baseURL)
	case !strings.EqualFold(u.Scheme, "https"):
		return errs.Errorf(errs.Validation, "OPENROUTER_BASE_URL %q: https is required", baseURL)
	}

	host := strings.ToLower(u.Hostname())
	if _, ok := allowedHostSet(allowedHosts)[host]; !ok {
		return errs.Errorf(errs.Validation, "OPENROUTER_BASE_URL %q: host %q is not in OPENROUTER_ALLOWED_HOSTS", baseURL, host)
	}
	return nil
}

// ParseAllowedHosts splits a comma separated OPENROUTER_ALLOWED_HOSTS value.
func ParseAllowedHosts(v string) []string {
	var out []string
	for _, h := range strings.Split(v, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func allowedHostSet(hosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		if i := strings.Index(v, ":"); i >= 0 {
			v = v[:i]
		}
		if v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) == 0 {
		return defaultAllowedHosts
	}
	return out
}
