package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/config"
)

var (
	member = &auth.Identity{ID: "m1", Username: "user1", Roles: []auth.Role{auth.RoleUser}}
	admin  = &auth.Identity{ID: "m2", Username: "admin", Roles: []auth.Role{auth.RoleUser, auth.RoleAdmin}}
)

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/*/posts", "/api/v1/posts", true},
		{"/api/*/posts", "/api/v1/posts/", true},
		{"/api/*/posts", "/api/posts", false},
		{"/api/*/posts", "/api/v1/v2/posts", false},
		{"/api/*/posts/{id}", "/api/v1/posts/42", true},
		{"/api/*/posts/{id}", "/api/v1/posts/abc", false},
		{"/api/*/posts/{id}", "/api/v1/posts/4a", false},
		{"/api/*/posts/{id}", "/api/v1/posts", false},
		{"/api/*/posts/{postId}/comments", "/api/v1/posts/7/comments", true},
		{"/api/*/posts/{postId}/comments", "/api/v1/posts/7/comments/3", false},
		{"/h2-console/**", "/h2-console", true},
		{"/h2-console/**", "/h2-console/login.do", true},
		{"/h2-console/**", "/h2-console/a/b/c", true},
		{"/h2-console/**", "/h2", false},
		{"/api/*/**", "/api/v1", true},
		{"/api/*/**", "/api/v1/anything/at/all", true},
		{"/api/*/**", "/api", false},
		{"/api/*/**", "/apix/v1", false},
		{"/**", "/", true},
		{"/**", "/anything", true},
		{"/", "/", true},
		{"/", "/x", false},
		{"/api/*", "/api//", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.path))
		})
	}
}

func TestParsePattern_Errors(t *testing.T) {
	for _, raw := range []string{"", "api/v1", "/api/**/posts", "/api/{}/x", "/api/v*", "/api//x", "/api/{id"} {
		_, err := ParsePattern(raw)
		assert.Error(t, err, "pattern %q", raw)
	}
}

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		in   string
		want Requirement
	}{
		{"public", Public},
		{"PUBLIC", Public},
		{"authenticated", Authenticated},
		{"role:ADMIN", RequireRole(auth.RoleAdmin)},
		{"role:admin", RequireRole(auth.RoleAdmin)},
		{" Role: USER ", RequireRole(auth.RoleUser)},
	}
	for _, tt := range tests {
		got, err := ParseRequirement(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "everyone", "role:", "hasRole"} {
		_, err := ParseRequirement(bad)
		assert.Error(t, err, bad)
	}
}

func TestRule_MethodMatching(t *testing.T) {
	anyMethod := MustRule("*", "/x", "public")
	assert.True(t, anyMethod.Matches("GET", "/x"))
	assert.True(t, anyMethod.Matches("DELETE", "/x"))

	getOnly := MustRule("get", "/x", "public")
	assert.Equal(t, "GET", getOnly.Method)
	assert.True(t, getOnly.Matches("GET", "/x"))
	assert.True(t, getOnly.Matches("get", "/x"))
	assert.False(t, getOnly.Matches("POST", "/x"))

	assert.Equal(t, "GET /x public", getOnly.String())
	assert.Equal(t, "* /x public", anyMethod.String())
}

func TestTable_DefaultRules(t *testing.T) {
	table := NewTable(DefaultRules(), NoMatchPermit)

	tests := []struct {
		name     string
		method   string
		path     string
		identity *auth.Identity
		want     Outcome
	}{
		{"anonymous post listing", "GET", "/api/v1/posts", nil, Allow},
		{"anonymous single post", "GET", "/api/v1/posts/12", nil, Allow},
		{"anonymous comments", "GET", "/api/v1/posts/12/comments", nil, Allow},
		{"anonymous gen files", "GET", "/api/v1/posts/12/genFiles", nil, Allow},
		{"anonymous non-numeric post id", "GET", "/api/v1/posts/mine", nil, DenyUnauthenticated},
		{"anonymous create post", "POST", "/api/v1/posts", nil, DenyUnauthenticated},
		{"member create post", "POST", "/api/v1/posts", member, Allow},
		{"anonymous login", "POST", "/api/v1/members/login", nil, Allow},
		{"anonymous join", "POST", "/api/v1/members/join", nil, Allow},
		{"anonymous logout", "DELETE", "/api/v1/members/logout", nil, Allow},
		{"anonymous me", "GET", "/api/v1/members/me", nil, DenyUnauthenticated},
		{"anonymous statistics", "GET", "/api/v1/posts/statistics", nil, DenyUnauthenticated},
		{"member statistics", "GET", "/api/v1/posts/statistics", member, DenyForbidden},
		{"admin statistics", "GET", "/api/v1/posts/statistics", admin, Allow},
		{"statistics under v2 is only authenticated", "GET", "/api/v2/posts/statistics", member, Allow},
		{"h2 console", "GET", "/h2-console/login.do", nil, Allow},
		{"login start", "GET", "/oauth2/authorization/kakao", nil, Allow},
		{"login callback", "GET", "/login/oauth2/code/kakao", nil, Allow},
		{"health", "GET", "/health", nil, Allow},
		{"unmatched path permitted", "GET", "/elsewhere", nil, Allow},
		{"root permitted", "GET", "/", nil, Allow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Decide(tt.method, tt.path, tt.identity)
			assert.Equal(t, tt.want, got.Outcome, "decided by %s", got.RuleName())
		})
	}
}

func TestTable_DefaultRulesWithDeny(t *testing.T) {
	table := NewTable(DefaultRules(), NoMatchDeny)

	for _, path := range []string{
		"/oauth2/authorization/kakao",
		"/login/oauth2/code/kakao",
		"/health",
		"/api/v1/posts",
	} {
		d := table.Decide("GET", path, nil)
		assert.Equal(t, Allow, d.Outcome, "%s decided by %s", path, d.RuleName())
		assert.NotNil(t, d.Rule, path)
	}

	assert.Equal(t, DenyUnauthenticated, table.Decide("GET", "/elsewhere", nil).Outcome)
	assert.Equal(t, DenyUnauthenticated, table.Decide("POST", "/oauth2/authorization/kakao", nil).Outcome)
}

func TestTable_NonCanonicalPaths(t *testing.T) {
	table := NewTable(DefaultRules(), NoMatchPermit)

	tests := []struct {
		name     string
		path     string
		identity *auth.Identity
		want     Outcome
	}{
		{"double slash member", "/api/v1//posts/statistics", member, DenyForbidden},
		{"double slash anonymous", "/api/v1//posts/statistics", nil, DenyUnauthenticated},
		{"dot segment", "/api/v1/./posts/statistics", member, DenyForbidden},
		{"dot dot into admin path", "/api/v1/posts/../posts/statistics", member, DenyForbidden},
		{"dot dot into public path", "/api/v1/posts/1/../../members/login", nil, DenyUnauthenticated},
		{"leading double slash", "//api/v1/posts", nil, DenyUnauthenticated},
		{"trailing dot dot", "/api/v1/posts/..", admin, DenyForbidden},
		{"empty path", "", nil, DenyUnauthenticated},
		{"trailing slash is canonical", "/api/v1/posts/", nil, Allow},
		{"root is canonical", "/", nil, Allow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := table.Decide("GET", tt.path, tt.identity)
			assert.Equal(t, tt.want, d.Outcome)
			if tt.want != Allow {
				assert.True(t, d.Rejected)
				assert.Nil(t, d.Rule)
				assert.Equal(t, "non_canonical_path", d.RuleName())
			}
		})
	}
}

func TestTable_FirstMatchWins(t *testing.T) {
	table := NewTable([]Rule{
		MustRule("GET", "/api/*/posts/{id}", "public"),
		MustRule("*", "/api/**", "role:ADMIN"),
	}, NoMatchPermit)

	d := table.Decide("GET", "/api/v1/posts/3", nil)
	assert.Equal(t, Allow, d.Outcome)
	require.NotNil(t, d.Rule)
	assert.Equal(t, "GET /api/*/posts/{id} public", d.RuleName())

	d = table.Decide("PUT", "/api/v1/posts/3", member)
	assert.Equal(t, DenyForbidden, d.Outcome)
}

func TestTable_NoMatchDeny(t *testing.T) {
	table := NewTable([]Rule{MustRule("GET", "/public", "public")}, NoMatchDeny)

	assert.Equal(t, Allow, table.Decide("GET", "/public", nil).Outcome)

	d := table.Decide("GET", "/elsewhere", nil)
	assert.Equal(t, DenyUnauthenticated, d.Outcome)
	assert.Nil(t, d.Rule)
	assert.Equal(t, "default", d.RuleName())

	assert.Equal(t, DenyForbidden, table.Decide("GET", "/elsewhere", admin).Outcome)
}

func TestTable_Deterministic(t *testing.T) {
	table := NewTable(DefaultRules(), NoMatchPermit)
	first := table.Decide("GET", "/api/v1/posts/statistics", member)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, table.Decide("GET", "/api/v1/posts/statistics", member))
	}
}

func TestTable_RulesIsolated(t *testing.T) {
	rules := []Rule{MustRule("GET", "/x", "public")}
	table := NewTable(rules, NoMatchDeny)
	rules[0] = MustRule("GET", "/x", "authenticated")

	assert.Equal(t, Allow, table.Decide("GET", "/x", nil).Outcome)

	copied := table.Rules()
	copied[0] = MustRule("GET", "/x", "authenticated")
	assert.Equal(t, Allow, table.Decide("GET", "/x", nil).Outcome)
}

func TestFromConfig(t *testing.T) {
	t.Run("empty uses defaults", func(t *testing.T) {
		table, err := FromConfig(config.PolicyConfig{Default: "permit"})
		require.NoError(t, err)
		assert.Len(t, table.Rules(), len(DefaultRules()))
	})

	t.Run("configured rules", func(t *testing.T) {
		table, err := FromConfig(config.PolicyConfig{
			Default: "deny",
			Rules: []config.RuleConfig{
				{Method: "GET", Path: "/api/*/posts", Access: "public"},
				{Path: "/api/**", Access: "authenticated"},
			},
		})
		require.NoError(t, err)
		require.Len(t, table.Rules(), 2)
		assert.Equal(t, Allow, table.Decide("GET", "/api/v1/posts", nil).Outcome)
		assert.Equal(t, DenyUnauthenticated, table.Decide("POST", "/api/v1/posts", nil).Outcome)
		assert.Equal(t, DenyForbidden, table.Decide("GET", "/health", member).Outcome)
	})

	t.Run("invalid rule", func(t *testing.T) {
		_, err := FromConfig(config.PolicyConfig{
			Rules: []config.RuleConfig{{Path: "no-slash", Access: "public"}},
		})
		assert.Error(t, err)
	})

	t.Run("invalid default", func(t *testing.T) {
		_, err := FromConfig(config.PolicyConfig{Default: "sometimes"})
		assert.Error(t, err)
	})
}
