package store

import "kambafy/internal/model"

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}

// codeClass buckets a response status for stats ("none" for transport failures).
func codeClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "c2xx"
	case status >= 300 && status < 400:
		return "c3xx"
	case status >= 400 && status < 500:
		return "c4xx"
	case status >= 500 && status < 600:
		return "c5xx"
	default:
		return "none"
	}
}

func matchesFilter(a model.DeliveryAttempt, f model.DeliveryFilter) bool {
	if f.EventName != "" && a.EventName != f.EventName {
		return false
	}
	if f.RegistrationID != "" && a.RegistrationID != f.RegistrationID {
		return false
	}
	switch f.Status {
	case "success":
		return a.Success
	case "failed":
		return !a.Success
	}
	return true
}
