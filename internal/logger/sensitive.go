package logger

import (
	"net/url"
	"regexp"
)

// sensitiveDataPatterns match credentials that may appear in URLs or header dumps
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|user)[_-]?key[\s:=]+)([^;,&\s]{5,})`),
}

// sensitiveQueryParams are dropped from logged URLs
var sensitiveQueryParams = []string{"key", "api_key", "apikey", "user_key", "token"}

// RedactSensitiveData replaces credentials in free text with "[REDACTED]".
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// SanitizeURL returns rawURL with credential query parameters redacted.
// Unparseable input is passed through RedactSensitiveData.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RedactSensitiveData(rawURL)
	}
	q := u.Query()
	changed := false
	for _, param := range sensitiveQueryParams {
		if q.Has(param) {
			q.Set(param, "[REDACTED]")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	u.User = nil
	return u.String()
}
