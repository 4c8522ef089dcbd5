package api

import (
	"net/http"
	"time"

	"kambafy/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":    buildinfo.Info(),
		"time":     time.Now().UTC().Format(time.RFC3339),
		"authMode": s.Auth.Mode,
		"config":   s.debug,
	})
}
