package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/workspaces":                  "/v1/workspaces",
		"/v1/workspaces/42":               "/v1/workspaces/:id",
		"/v1/workspaces/42/members":       "/v1/workspaces/:id/members",
		"/v1/workspaces/42/invites":       "/v1/workspaces/:id/invites",
		"/v1/workspaces/42/leave":         "/v1/workspaces/:id/leave",
		"/v1/workspaces/42/unknown":       "/v1/workspaces/42/unknown",
		"/v1/grants/7":                    "/v1/grants/:id",
		"/v1/grants/7/accept":             "/v1/grants/:id/accept",
		"/v1/workspaces/42/members?email": "/v1/workspaces/:id/members",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
