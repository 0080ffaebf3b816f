package generation

import (
	"fmt"
	"net/http"
	"strings"
)

// Policy markers observed across provider error payloads. A 4xx response
// whose body mentions one of these is a permanent rejection; every other
// failure is treated as transient and retried.
var policyMarkers = []string{
	"content_policy",
	"content policy",
	"safety system",
	"moderation",
	"nsfw",
	"prohibited",
}

// classify maps a non-200 provider response to the pipeline's error
// taxonomy; it never returns nil. Rate limits and server-side errors are
// always transient; 4xx responses are permanent only when the body carries
// a policy marker, because providers also return 4xx for retryable
// conditions like quota windows. Any other status (202 queued, redirects)
// carries no media and is retried.
func classify(statusCode int, body string) error {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return &TransientError{Reason: shorten(body, statusCode)}
	}
	if statusCode >= 400 {
		lower := strings.ToLower(body)
		for _, marker := range policyMarkers {
			if strings.Contains(lower, marker) {
				return &PolicyError{Reason: shorten(body, statusCode)}
			}
		}
		return &TransientError{Reason: shorten(body, statusCode)}
	}
	return &TransientError{Reason: fmt.Sprintf("unexpected status %d: %s", statusCode, shorten(body, statusCode))}
}

func shorten(body string, statusCode int) string {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return http.StatusText(statusCode)
	}
	return body
}
