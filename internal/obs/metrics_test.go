package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                       "/",
		"/metrics":                               "/metrics",
		"/v1/info":                               "/v1/info",
		"/v1/tenants/g1/assignments":             "/v1/tenants/:tenant/assignments",
		"/v1/tenants/g1/proposals":               "/v1/tenants/:tenant/proposals",
		"/v1/tenants/g1/requests":                "/v1/tenants/:tenant/requests",
		"/v1/tenants/g1/requests/abc":            "/v1/tenants/:tenant/requests/:id",
		"/v1/tenants/g1/requests/abc/decision":   "/v1/tenants/:tenant/requests/:id/decision",
		"/v1/tenants/g1/requests/abc/amend":      "/v1/tenants/:tenant/requests/:id/amend",
		"/v1/tenants/g1/members/42/number":       "/v1/tenants/:tenant/members/:id/number",
		"/v1/tenants/g1/numbers/7/owner":         "/v1/tenants/:tenant/numbers/:id/owner",
		"/v1/tenants/g1/requests?status=pending": "/v1/tenants/:tenant/requests",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
