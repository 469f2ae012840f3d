package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"workhive.org/internal/audit"
	"workhive.org/internal/obs"
	"workhive.org/internal/workspace"
)

type updateWorkspaceRequest struct {
	Public bool `json:"public"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func parseRole(s string) (workspace.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return workspace.RoleRead, true
	case "write":
		return workspace.RoleWrite, true
	case "admin":
		return workspace.RoleAdmin, true
	default:
		return 0, false
	}
}

func (a *API) handleWorkspacesCollection(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.listWorkspaces(w, r, userID)
	case http.MethodPost:
		a.createWorkspace(w, r, userID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listWorkspaces(w http.ResponseWriter, r *http.Request, userID int64) {
	memberships, err := a.svc.Workspaces(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []workspace.Membership{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": memberships})
}

func (a *API) createWorkspace(w http.ResponseWriter, r *http.Request, userID int64) {
	ws, err := a.svc.CreateWorkspace(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.WorkspacesCreatedTotal.Inc()
	_ = audit.LogEvent(r.Context(), "workspace.created", map[string]any{
		"workspace_id": ws.ID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/workspaces/%d", ws.ID))
	writeJSON(w, http.StatusCreated, ws)
}

func (a *API) handleWorkspaceResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/workspaces/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	wsID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "workspace not found")
		return
	}

	switch len(parts) {
	case 1:
		a.workspaceByID(w, r, userID, wsID)
	case 2:
		switch parts[1] {
		case "members":
			a.workspaceMembers(w, r, userID, wsID)
		case "invites":
			a.workspaceInvite(w, r, userID, wsID)
		case "leave":
			a.workspaceLeave(w, r, userID, wsID)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) workspaceByID(w http.ResponseWriter, r *http.Request, userID, wsID int64) {
	switch r.Method {
	case http.MethodGet:
		ok, err := a.svc.CanRead(r.Context(), userID, wsID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if !ok {
			writeError(w, r, http.StatusNotFound, "workspace not found")
			return
		}
		detail, err := a.svc.WorkspaceDetail(r.Context(), wsID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case http.MethodPatch:
		if !a.requireRole(w, r, userID, wsID, workspace.RoleAdmin) {
			return
		}
		var req updateWorkspaceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		ws, err := a.svc.UpdateWorkspace(r.Context(), wsID, req.Public)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workspace.updated", map[string]any{
			"workspace_id": wsID,
			"public":       req.Public,
		})
		writeJSON(w, http.StatusOK, ws)

	case http.MethodDelete:
		if !a.requireRole(w, r, userID, wsID, workspace.RoleOwner) {
			return
		}
		removed, err := a.svc.DeleteWorkspace(r.Context(), wsID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if !removed {
			writeError(w, r, http.StatusNotFound, "workspace not found")
			return
		}
		_ = audit.LogEvent(r.Context(), "workspace.deleted", map[string]any{
			"workspace_id": wsID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) workspaceMembers(w http.ResponseWriter, r *http.Request, userID, wsID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	// An email query switches from listing to a single membership probe.
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		if !a.requireRole(w, r, userID, wsID, workspace.RoleAdmin) {
			return
		}
		res, err := a.svc.MemberByEmail(r.Context(), wsID, email)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	ok, err := a.svc.CanRead(r.Context(), userID, wsID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "workspace not found")
		return
	}
	members, err := a.svc.Members(r.Context(), wsID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []workspace.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": members})
}

func (a *API) workspaceInvite(w http.ResponseWriter, r *http.Request, userID, wsID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireRole(w, r, userID, wsID, workspace.RoleAdmin) {
		return
	}

	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := parseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role must be read, write or admin")
		return
	}

	inv, err := a.svc.Invite(r.Context(), req.Email, wsID, role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.InvitesTotal.Inc()
	_ = audit.LogEvent(r.Context(), "workspace.member.invited", map[string]any{
		"workspace_id": wsID,
		"grant_id":     inv.GrantID,
		"registered":   inv.Invitee.IsRegistered(),
	})
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) workspaceLeave(w http.ResponseWriter, r *http.Request, userID, wsID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	left, err := a.svc.RevokeMember(r.Context(), userID, wsID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !left {
		writeError(w, r, http.StatusConflict, "owners cannot leave their workspace")
		return
	}
	_ = audit.LogEvent(r.Context(), "workspace.member.left", map[string]any{
		"workspace_id": wsID,
	})
	w.WriteHeader(http.StatusNoContent)
}
