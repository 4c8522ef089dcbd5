package api

import (
	"context"
	"net/http"
	"strings"

	"kambafy/internal/auth"
)

type ctxKeyPrincipal struct{}

// authenticate resolves the caller. A bearer token is verified with the
// configured verifier; without one, dev mode trusts X-Owner-Id and X-Role.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.principal(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kambafy"`)
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid credentials", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	})
}

func (s *Server) principal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		p, err := s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			s.Logger.Debug("token rejected", "error", err)
			return auth.Principal{}, false
		}
		return p, true
	}
	if s.Auth.Mode != "dev" {
		return auth.Principal{}, false
	}
	owner := r.Header.Get("X-Owner-Id")
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = "seller"
	}
	if owner == "" && role != "admin" {
		return auth.Principal{}, false
	}
	return auth.Principal{OwnerID: owner, Role: role}, true
}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}

// ownerFor returns the owner a request acts on. Admins may name any owner
// with ?ownerId=; everyone else acts on their own.
func ownerFor(r *http.Request) (string, bool) {
	p := principalFrom(r.Context())
	if p.IsAdmin() {
		if o := r.URL.Query().Get("ownerId"); o != "" {
			return o, true
		}
	}
	return p.OwnerID, p.OwnerID != ""
}
