package delivery

import "strings"

// classifyReason buckets a failed attempt for metrics. 4xx responses
// currently consume the same retry budget as 5xx and transport errors.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
