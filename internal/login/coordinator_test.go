package login

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/envelope"
)

const (
	frontURL      = "http://localhost:3000"
	authorizeURL  = "https://idp.example.com/authorize"
	testSecretStr = "0123456789abcdef0123456789abcdef"
)

type fakeProvider struct {
	profile auth.ExternalProfile
	err     error
}

func (p *fakeProvider) Begin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, authorizeURL+"?state=s1", http.StatusFound)
}

func (p *fakeProvider) Complete(w http.ResponseWriter, r *http.Request, onSuccess ProfileHandler, onFailure FailureHandler) {
	if p.err != nil {
		onFailure(w, r, p.err)
		return
	}
	onSuccess(w, r, p.profile)
}

type fakeDirectory struct {
	mu        sync.Mutex
	byLogin   map[string]*auth.Identity
	findErr   error
	issueErr  error
	issued    int
	lastInput auth.ExternalProfile
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byLogin: map[string]*auth.Identity{}}
}

func (d *fakeDirectory) FindByAPIKey(context.Context, string) (*auth.Identity, error) {
	return nil, auth.ErrIdentityNotFound
}

func (d *fakeDirectory) FindByID(context.Context, string) (*auth.Identity, error) {
	return nil, auth.ErrIdentityNotFound
}

func (d *fakeDirectory) FindOrCreateByExternalLogin(_ context.Context, provider, subject string, profile auth.ExternalProfile) (*auth.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.findErr != nil {
		return nil, d.findErr
	}
	d.lastInput = profile
	key := provider + "/" + subject
	if identity, ok := d.byLogin[key]; ok {
		return identity, nil
	}
	identity := &auth.Identity{ID: "id-" + subject, APIKey: "key-" + subject, Roles: []auth.Role{auth.RoleUser}}
	d.byLogin[key] = identity
	return identity, nil
}

func (d *fakeDirectory) IssueCredential(_ context.Context, identity *auth.Identity) (auth.IssuedCredential, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.issueErr != nil {
		return auth.IssuedCredential{}, d.issueErr
	}
	d.issued++
	return auth.IssuedCredential{
		AccessToken: "token-" + identity.ID,
		APIKey:      identity.APIKey,
		ExpiresAt:   time.Now().Add(20 * time.Minute),
	}, nil
}

type harness struct {
	router   chi.Router
	provider *fakeProvider
	dir      *fakeDirectory
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	provider := &fakeProvider{profile: auth.ExternalProfile{Subject: "3912", Nickname: "kakao-user"}}
	dir := newFakeDirectory()
	coordinator, err := NewCoordinator(Options{
		Providers: map[string]Provider{"kakao": provider},
		Directory: dir,
		Cookies:   auth.NewCookieWriter(auth.CookieOptions{HTTPOnly: true, AccessMaxAge: 20 * time.Minute, APIKeyMaxAge: time.Hour}),
		Redirects: NewPendingRedirects(RedirectOptions{
			Secret:         []byte(testSecretStr),
			TTL:            10 * time.Minute,
			Default:        frontURL,
			AllowedOrigins: []string{frontURL, "https://cdpn.io"},
		}),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/oauth2/authorization/{provider}", coordinator.HandleStart)
	r.Get("/login/oauth2/code/{provider}", coordinator.HandleCallback)
	return &harness{router: r, provider: provider, dir: dir}
}

func (h *harness) do(req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec.Result()
}

// start runs the start endpoint and returns the pending redirect cookie.
func (h *harness) start(t *testing.T, target string) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorization/kakao", nil)
	if target != "" {
		q := req.URL.Query()
		q.Set(RedirectParam, target)
		req.URL.RawQuery = q.Encode()
	}
	res := h.do(req)
	require.Equal(t, http.StatusFound, res.StatusCode)
	return findCookie(res, RedirectCookie)
}

func (h *harness) callback(pending *http.Cookie) *http.Response {
	req := httptest.NewRequest(http.MethodGet, "/login/oauth2/code/kakao?code=c1&state=s1", nil)
	if pending != nil {
		req.AddCookie(pending)
	}
	return h.do(req)
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeEnvelope(t *testing.T, res *http.Response) envelope.RsData {
	t.Helper()
	var body envelope.RsData
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body
}

func TestCoordinator_StartRedirectsToProvider(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorization/kakao?redirectUrl=http://localhost:3000/posts/1", nil)
	res := h.do(req)

	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, authorizeURL+"?state=s1", res.Header.Get("Location"))
	pending := findCookie(res, RedirectCookie)
	require.NotNil(t, pending)
	assert.NotContains(t, pending.Value, "localhost", "target is encrypted")
}

func TestCoordinator_StartUnknownProvider(t *testing.T) {
	h := newHarness(t)

	res := h.do(httptest.NewRequest(http.MethodGet, "/oauth2/authorization/naver", nil))

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "404-1", decodeEnvelope(t, res).Code)
	assert.Nil(t, findCookie(res, RedirectCookie))
}

func TestCoordinator_CallbackSuccess(t *testing.T) {
	h := newHarness(t)
	pending := h.start(t, "http://localhost:3000/posts/1")

	res := h.callback(pending)

	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "http://localhost:3000/posts/1", res.Header.Get("Location"))

	access := findCookie(res, auth.AccessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, "token-id-3912", access.Value)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, 1200, access.MaxAge)

	apiKey := findCookie(res, auth.APIKeyCookie)
	require.NotNil(t, apiKey)
	assert.Equal(t, "key-3912", apiKey.Value)
	assert.Equal(t, 3600, apiKey.MaxAge)

	consumed := findCookie(res, RedirectCookie)
	require.NotNil(t, consumed, "pending redirect is deleted")
	assert.Empty(t, consumed.Value)

	assert.Equal(t, "kakao-user", h.dir.lastInput.Nickname)
}

func TestCoordinator_CallbackRedirectTargets(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "blank uses default", target: "", want: frontURL},
		{name: "relative path kept", target: "/posts/7", want: "/posts/7"},
		{name: "allowed origin kept", target: "https://cdpn.io/pen/1", want: "https://cdpn.io/pen/1"},
		{name: "foreign origin replaced", target: "https://evil.example.com/steal", want: frontURL},
		{name: "scheme-relative replaced", target: "//evil.example.com", want: frontURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			pending := h.start(t, tt.target)

			res := h.callback(pending)

			assert.Equal(t, http.StatusFound, res.StatusCode)
			assert.Equal(t, tt.want, res.Header.Get("Location"))
			assert.NotNil(t, findCookie(res, auth.AccessTokenCookie))
			assert.NotNil(t, findCookie(res, auth.APIKeyCookie))
		})
	}
}

func TestCoordinator_StartFallsBackToReferer(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorization/kakao", nil)
	req.Header.Set("Referer", "http://localhost:3000/posts/9")
	pending := findCookie(h.do(req), RedirectCookie)
	require.NotNil(t, pending)

	res := h.callback(pending)
	assert.Equal(t, "http://localhost:3000/posts/9", res.Header.Get("Location"))
}

func TestCoordinator_CallbackWithoutPendingRedirect(t *testing.T) {
	h := newHarness(t)

	res := h.callback(nil)

	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, frontURL, res.Header.Get("Location"))
}

func TestCoordinator_CallbackFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{name: "provider denied", setup: func(h *harness) { h.provider.err = ErrProviderDenied }},
		{name: "empty subject", setup: func(h *harness) { h.provider.profile.Subject = " " }},
		{name: "directory failure", setup: func(h *harness) { h.dir.findErr = errors.New("db down") }},
		{name: "issue failure", setup: func(h *harness) { h.dir.issueErr = errors.New("signing failed") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			pending := h.start(t, "/posts/1")
			tt.setup(h)

			res := h.callback(pending)

			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
			assert.Equal(t, envelope.ContentType, res.Header.Get("Content-Type"))
			body := decodeEnvelope(t, res)
			assert.Equal(t, envelope.CodeUnauthorized, body.Code)
			assert.Nil(t, findCookie(res, auth.AccessTokenCookie))
			assert.Nil(t, findCookie(res, auth.APIKeyCookie))
			assert.Empty(t, res.Header.Get("Location"))
		})
	}
}

func TestCoordinator_CallbackCancelledWritesNothing(t *testing.T) {
	h := newHarness(t)
	pending := h.start(t, "/posts/1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/login/oauth2/code/kakao?code=c1", nil).WithContext(ctx)
	req.AddCookie(pending)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestCoordinator_RepeatLoginResolvesSameIdentity(t *testing.T) {
	h := newHarness(t)

	first := findCookie(h.callback(h.start(t, "")), auth.APIKeyCookie)
	second := findCookie(h.callback(h.start(t, "")), auth.APIKeyCookie)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.Value, second.Value)
	assert.Len(t, h.dir.byLogin, 1)
	assert.Equal(t, 2, h.dir.issued)
}

func TestNewCoordinator_RequiresCollaborators(t *testing.T) {
	redirects := NewPendingRedirects(RedirectOptions{Secret: []byte(testSecretStr), TTL: time.Minute})
	cookies := auth.NewCookieWriter(auth.CookieOptions{})

	_, err := NewCoordinator(Options{Cookies: cookies, Redirects: redirects})
	assert.Error(t, err)
	_, err = NewCoordinator(Options{Directory: newFakeDirectory(), Redirects: redirects})
	assert.Error(t, err)
	_, err = NewCoordinator(Options{Directory: newFakeDirectory(), Cookies: cookies})
	assert.Error(t, err)
}
