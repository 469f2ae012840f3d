package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"workhive.org/internal/token"
	"workhive.org/internal/workspace"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		userID, err := a.tokens.ParseAccess(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := token.ContextWithUser(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerID extracts the authenticated user and writes 401 on absence.
func callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := token.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return id, ok
}

// requireRole resolves the caller's role in a workspace and rejects with
// 403 below the minimum. A missing grant is reported as 404 so the
// workspace's existence leaks nothing.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, userID, workspaceID int64, min workspace.Role) bool {
	role, err := a.svc.RoleOf(r.Context(), userID, workspaceID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "workspace not found")
		} else {
			handleServiceError(w, r, err)
		}
		return false
	}
	if role < min {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
