package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"kambafy/internal/store"
	"kambafy/internal/webhooks"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses. Anything unrecognised
// is an infrastructure failure and answers 500 with the given title.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	switch {
	case errors.Is(err, webhooks.ErrEventRequired),
		errors.Is(err, webhooks.ErrScopeRequired),
		errors.Is(err, webhooks.ErrDataRequired),
		errors.Is(err, webhooks.ErrInvalidData):
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, webhooks.ErrNoPartnerWebhook):
		writeProblem(w, http.StatusUnprocessableEntity, "Partner webhook not configured", err.Error(), r.URL.Path)
	default:
		s.Logger.Error(title, "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
