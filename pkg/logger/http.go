package logger

import (
	"net/http"
	"strings"
)

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
}

func redactHeaderValue(key, val string) string {
	if sensitiveHeaders[strings.ToLower(key)] {
		return "[REDACTED]"
	}
	return val
}

// SafeHeaders builds a redacted header string for logging.
func SafeHeaders(h http.Header) string {
	parts := make([]string, 0, len(h))
	for k, vs := range h {
		parts = append(parts, k+"="+redactHeaderValue(k, strings.Join(vs, ",")))
	}
	return strings.Join(parts, "; ")
}

// LogRequest logs a concise, safe summary of an incoming request.
func LogRequest(r *http.Request) {
	if Log == nil {
		return
	}
	Debug("incoming_request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "headers", SafeHeaders(r.Header))
}
