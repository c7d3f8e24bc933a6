package security

import (
	"net/url"
	"strings"
)

// secretParamMarkers flag query parameter names that likely carry secrets.
// Matching is substring-based so api_key, x-api-key, and apikey all hit.
var secretParamMarkers = []string{
	"password", "passwd", "pwd",
	"secret", "token", "auth", "bearer", "credential",
	"key", "api_key", "apikey", "api-key",
	"session", "sessionid", "sid", "private",
}

// RedactURL strips credentials and secret-looking query parameters from a
// URL so it can be logged. Unparseable input is replaced wholesale.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}
	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			if secretParam(key) {
				query.Set(key, "[REDACTED]")
			}
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

func secretParam(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range secretParamMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
