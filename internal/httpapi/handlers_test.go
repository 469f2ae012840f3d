package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"workhive.org/internal/token"
	"workhive.org/internal/workspace"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	svc := workspace.NewInMemory(workspace.WithMemoryHasher(
		func(p string) (string, error) { return p, nil },
		func(hash, p string) error {
			if hash != p {
				return workspace.ErrBadCredentials
			}
			return nil
		},
	))
	tokens, err := token.NewManager(testSecret, token.WithIssuer("test"))
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	api := New(svc, tokens, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, bearer string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, bearer string) *http.Response {
	return c.do(http.MethodPost, path, body, bearer)
}

func (c *apiClient) get(path string, bearer string) *http.Response {
	return c.do(http.MethodGet, path, nil, bearer)
}

type authPayload struct {
	User   workspace.User `json:"user"`
	Tokens token.Pair     `json:"tokens"`
}

func (c *apiClient) register(name, email string) authPayload {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"name":     name,
		"email":    email,
		"password": "secret",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: unexpected status %d", email, resp.StatusCode)
	}
	payload := decode[authPayload](c.t, resp)
	if payload.Tokens.AccessToken == "" || payload.Tokens.RefreshToken == "" {
		c.t.Fatal("registration issued no tokens")
	}
	return payload
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRegisterLoginFlow(t *testing.T) {
	api := newTestAPI(t)

	alice := api.register("alice", "alice@example.com")
	if alice.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", alice.User)
	}

	resp := api.post("/v1/auth/register", map[string]any{
		"name":     "impostor",
		"email":    "alice@example.com",
		"password": "x",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "secret",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	login := decode[authPayload](t, resp)
	if login.Tokens.AccessToken == "" {
		t.Fatal("login issued no access token")
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.StatusCode)
	}
}

func TestRefreshAndRevoke(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice", "alice@example.com")

	resp := api.post("/v1/auth/refresh", map[string]any{
		"refresh_token": alice.Tokens.RefreshToken,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", resp.StatusCode)
	}
	refreshed := decode[map[string]token.Pair](t, resp)
	if refreshed["tokens"].RefreshToken == "" {
		t.Fatal("refresh issued no new pair")
	}

	resp = api.post("/v1/auth/revoke", nil, alice.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/refresh", map[string]any{
		"refresh_token": alice.Tokens.RefreshToken,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after revoke: expected 401, got %d", resp.StatusCode)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/workspaces", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatal("expected error message")
	}
}

func TestWorkspaceMembershipFlow(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice", "alice@example.com")

	// Registration already provisioned the private workspace.
	resp := api.get("/v1/workspaces", alice.Tokens.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	listing := decode[struct {
		Items []workspace.Membership `json:"items"`
	}](t, resp)
	if len(listing.Items) != 1 || listing.Items[0].Kind != workspace.KindPrivate {
		t.Fatalf("expected only the private workspace, got %+v", listing.Items)
	}

	resp = api.post("/v1/workspaces", nil, alice.Tokens.AccessToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	ws := decode[workspace.Workspace](t, resp)

	// Invite an email that has no account yet.
	wsPath := "/v1/workspaces/" + itoa(ws.ID)
	resp = api.post(wsPath+"/invites", map[string]any{
		"email": "bob@example.com",
		"role":  "write",
	}, alice.Tokens.AccessToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("invite: expected 201, got %d", resp.StatusCode)
	}
	inv := decode[struct {
		GrantID int64 `json:"grant_id"`
		Invitee struct {
			Registered bool `json:"registered"`
		} `json:"invitee"`
	}](t, resp)
	if inv.Invitee.Registered {
		t.Fatal("invitee should be unregistered")
	}

	// Duplicate invite conflicts.
	resp = api.post(wsPath+"/invites", map[string]any{
		"email": "bob@example.com",
		"role":  "read",
	}, alice.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate invite: expected 409, got %d", resp.StatusCode)
	}

	// Registering with the invited email claims the grant.
	bob := api.register("bob", "bob@example.com")
	resp = api.get("/v1/workspaces", bob.Tokens.AccessToken)
	bobListing := decode[struct {
		Items []workspace.Membership `json:"items"`
	}](t, resp)
	if len(bobListing.Items) != 2 {
		t.Fatalf("expected private workspace + claimed grant, got %+v", bobListing.Items)
	}

	// Bob accepts the invitation.
	resp = api.post("/v1/grants/"+itoa(inv.GrantID)+"/accept", nil, bob.Tokens.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", resp.StatusCode)
	}
	accepted := decode[workspace.Grant](t, resp)
	if !accepted.Accepted {
		t.Fatal("grant not accepted")
	}

	// Detail shows owner and both accepted members.
	resp = api.get(wsPath, alice.Tokens.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", resp.StatusCode)
	}
	detail := decode[workspace.WorkspaceDetail](t, resp)
	if detail.Owner == nil || detail.Owner.ID != alice.User.ID || detail.MemberCount != 2 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	// Bob cannot manage the workspace with a write role.
	resp = api.do(http.MethodPatch, wsPath, map[string]any{"public": true}, bob.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("write-role patch: expected 403, got %d", resp.StatusCode)
	}

	// Bob leaves; the owner cannot.
	resp = api.post(wsPath+"/leave", nil, bob.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("leave: expected 204, got %d", resp.StatusCode)
	}
	resp = api.post(wsPath+"/leave", nil, alice.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("owner leave: expected 409, got %d", resp.StatusCode)
	}
}

func TestWorkspaceVisibilityAndDeletion(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice", "alice@example.com")
	eve := api.register("eve", "eve@example.com")

	resp := api.post("/v1/workspaces", nil, alice.Tokens.AccessToken)
	ws := decode[workspace.Workspace](t, resp)
	wsPath := "/v1/workspaces/" + itoa(ws.ID)

	// Invisible to strangers while not public.
	resp = api.get(wsPath, eve.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger read: expected 404, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodPatch, wsPath, map[string]any{"public": true}, alice.Tokens.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", resp.StatusCode)
	}
	updated := decode[workspace.Workspace](t, resp)
	if !updated.Public {
		t.Fatal("workspace not public after patch")
	}

	resp = api.get(wsPath, eve.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public read: expected 200, got %d", resp.StatusCode)
	}

	// Deletion is owner-only.
	resp = api.do(http.MethodDelete, wsPath, nil, eve.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger delete: expected 404, got %d", resp.StatusCode)
	}
	resp = api.do(http.MethodDelete, wsPath, nil, alice.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("owner delete: expected 204, got %d", resp.StatusCode)
	}
}

func TestGrantRevocation(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice", "alice@example.com")
	api.register("bob", "bob@example.com")

	resp := api.post("/v1/workspaces", nil, alice.Tokens.AccessToken)
	ws := decode[workspace.Workspace](t, resp)
	wsPath := "/v1/workspaces/" + itoa(ws.ID)

	resp = api.post(wsPath+"/invites", map[string]any{
		"email": "bob@example.com",
		"role":  "read",
	}, alice.Tokens.AccessToken)
	inv := decode[struct {
		GrantID int64 `json:"grant_id"`
	}](t, resp)

	// Find the owner grant through the members listing.
	resp = api.get(wsPath+"/members", alice.Tokens.AccessToken)
	members := decode[struct {
		Items []workspace.Member `json:"items"`
	}](t, resp)
	var ownerGrantID int64
	for _, m := range members.Items {
		if m.Role == workspace.RoleOwner {
			ownerGrantID = m.Grant.ID
		}
	}
	if ownerGrantID == 0 {
		t.Fatalf("owner grant not listed: %+v", members.Items)
	}

	// Owner grants are not revokable.
	resp = api.do(http.MethodDelete, "/v1/grants/"+itoa(ownerGrantID), nil, alice.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("owner grant revoke: expected 409, got %d", resp.StatusCode)
	}

	// Member grants are, for admins.
	resp = api.do(http.MethodDelete, "/v1/grants/"+itoa(inv.GrantID), nil, alice.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("member grant revoke: expected 204, got %d", resp.StatusCode)
	}
}

func TestMemberProbeByEmail(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice", "alice@example.com")

	resp := api.post("/v1/workspaces", nil, alice.Tokens.AccessToken)
	ws := decode[workspace.Workspace](t, resp)

	q := url.Values{"email": []string{"ghost@example.com"}}
	resp = api.get("/v1/workspaces/"+itoa(ws.ID)+"/members?"+q.Encode(), alice.Tokens.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("probe: expected 200, got %d", resp.StatusCode)
	}
	probe := decode[struct {
		InWorkspace bool `json:"in_workspace"`
		Invitee     struct {
			Registered bool   `json:"registered"`
			Email      string `json:"email"`
		} `json:"invitee"`
	}](t, resp)
	if probe.InWorkspace || probe.Invitee.Registered || probe.Invitee.Email != "ghost@example.com" {
		t.Fatalf("unexpected probe result: %+v", probe)
	}
}

func TestHealthAndInfoEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp := api.get("/openapi.yaml", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml; charset=utf-8" {
		t.Fatalf("unexpected content type: %s", ct)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
