package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"workhive.org/internal/audit"
	"workhive.org/internal/workspace"
)

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/grants/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	grantID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "grant not found")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.revokeGrant(w, r, userID, grantID)
	case len(parts) == 2 && parts[1] == "accept":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.acceptGrant(w, r, userID, grantID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// acceptGrant marks the caller's invitation as accepted. The grant must be
// keyed to the caller.
func (a *API) acceptGrant(w http.ResponseWriter, r *http.Request, userID, grantID int64) {
	g, err := a.svc.GrantByID(r.Context(), grantID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if g.UserID == nil || *g.UserID != userID {
		writeError(w, r, http.StatusNotFound, "grant not found")
		return
	}

	accepted, err := a.svc.AcceptGrant(r.Context(), grantID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "grant.accepted", map[string]any{
		"grant_id":     grantID,
		"workspace_id": accepted.WorkspaceID,
	})
	writeJSON(w, http.StatusOK, accepted)
}

// revokeGrant removes a grant on behalf of a workspace admin. Owner grants
// are never revokable through this endpoint.
func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, userID, grantID int64) {
	g, err := a.svc.GrantByID(r.Context(), grantID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if g.Role == workspace.RoleOwner {
		writeError(w, r, http.StatusConflict, "owner grant cannot be revoked")
		return
	}

	role, err := a.svc.RoleByGrant(r.Context(), userID, grantID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !role.CanManage() {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return
	}

	removed, err := a.svc.RevokeGrant(r.Context(), grantID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, "grant not found")
		return
	}
	_ = audit.LogEvent(r.Context(), "grant.revoked", map[string]any{
		"grant_id":     grantID,
		"workspace_id": g.WorkspaceID,
	})
	w.WriteHeader(http.StatusNoContent)
}
