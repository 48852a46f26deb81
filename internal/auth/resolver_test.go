package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlfjsld1/kopring-gateway/internal/credential"
)

// fakeDirectory is an in-memory Directory for resolver tests.
type fakeDirectory struct {
	mu      sync.Mutex
	byID    map[string]*Identity
	err     error
	lookups int
}

func newFakeDirectory(identities ...*Identity) *fakeDirectory {
	d := &fakeDirectory{byID: map[string]*Identity{}}
	for _, id := range identities {
		d.byID[id.ID] = id
	}
	return d
}

func (d *fakeDirectory) FindByAPIKey(_ context.Context, key string) (*Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.err != nil {
		return nil, d.err
	}
	for _, id := range d.byID {
		if id.APIKey == key {
			return id, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (d *fakeDirectory) FindByID(_ context.Context, id string) (*Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.err != nil {
		return nil, d.err
	}
	identity, ok := d.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

func (d *fakeDirectory) FindOrCreateByExternalLogin(context.Context, string, string, ExternalProfile) (*Identity, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDirectory) IssueCredential(context.Context, *Identity) (IssuedCredential, error) {
	return IssuedCredential{}, errors.New("not implemented")
}

func (d *fakeDirectory) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, id)
}

type recordingMetrics struct {
	calls []string
}

func (m *recordingMetrics) RecordAuth(_ context.Context, method string, success bool, _ float64) {
	outcome := "fail"
	if success {
		outcome = "ok"
	}
	m.calls = append(m.calls, method+":"+outcome)
}

var (
	fixedNow = time.Date(2025, 3, 24, 9, 0, 0, 0, time.UTC)
	alice    = &Identity{ID: "member-alice", Username: "alice", Roles: []Role{RoleUser}, APIKey: "alice-key"}
	admin    = &Identity{ID: "member-admin", Username: "admin", Roles: []Role{RoleUser, RoleAdmin}, APIKey: "admin-key"}
)

type resolverFixture struct {
	codec    *credential.Codec
	dir      *fakeDirectory
	metrics  *recordingMetrics
	resolver *Resolver
	now      time.Time
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	codec, err := credential.NewCodec(credential.Options{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    10 * time.Minute,
	})
	require.NoError(t, err)

	f := &resolverFixture{
		codec:   codec,
		dir:     newFakeDirectory(alice, admin),
		metrics: &recordingMetrics{},
		now:     fixedNow,
	}
	clock := func() time.Time { return f.now }
	f.resolver = NewResolver(
		NewBearerAuthenticator(codec, f.dir, clock),
		NewAPIKeyAuthenticator(f.dir),
		f.metrics,
	)
	return f
}

func (f *resolverFixture) issue(t *testing.T, key string) string {
	t.Helper()
	token, err := f.codec.Issue(key, fixedNow)
	require.NoError(t, err)
	return token
}

func TestResolver_NoCredentials(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Resolve(context.Background(), Credentials{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, f.dir.lookups)
}

func TestResolver_BearerSuccess(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.ResolveCredentials(context.Background(), Credentials{Bearer: f.issue(t, alice.ID)})
	require.NoError(t, err)
	assert.Equal(t, alice, res.Identity)
	assert.Equal(t, MethodBearer, res.Method)
	assert.False(t, res.Refreshed)
	assert.Equal(t, []string{"bearer:ok"}, f.metrics.calls)
}

func TestResolver_BearerTakesPrecedence(t *testing.T) {
	f := newResolverFixture(t)

	identity, err := f.resolver.Resolve(context.Background(), Credentials{
		Bearer: f.issue(t, alice.ID),
		APIKey: admin.APIKey,
	})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, identity.ID)
}

func TestResolver_APIKeyOnly(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.ResolveCredentials(context.Background(), Credentials{APIKey: admin.APIKey})
	require.NoError(t, err)
	assert.Equal(t, admin, res.Identity)
	assert.Equal(t, MethodAPIKey, res.Method)
	assert.True(t, res.Refreshed)
}

func TestResolver_ExpiredBearerFallsBackToAPIKey(t *testing.T) {
	f := newResolverFixture(t)
	token := f.issue(t, alice.ID)
	f.now = fixedNow.Add(11 * time.Minute)

	res, err := f.resolver.ResolveCredentials(context.Background(), Credentials{Bearer: token, APIKey: alice.APIKey})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, res.Identity.ID)
	assert.True(t, res.Refreshed)
	assert.Equal(t, []string{"bearer:fail", "api_key:ok"}, f.metrics.calls)
}

func TestResolver_Failures(t *testing.T) {
	tests := []struct {
		name  string
		creds func(f *resolverFixture) Credentials
		setup func(f *resolverFixture)
	}{
		{
			name:  "expired bearer without api key",
			creds: func(f *resolverFixture) Credentials { return Credentials{Bearer: f.issue(t, alice.ID)} },
			setup: func(f *resolverFixture) { f.now = fixedNow.Add(10 * time.Minute) },
		},
		{
			name:  "malformed bearer",
			creds: func(*resolverFixture) Credentials { return Credentials{Bearer: "garbage"} },
		},
		{
			name:  "unknown api key",
			creds: func(*resolverFixture) Credentials { return Credentials{APIKey: "nobody"} },
		},
		{
			name:  "bearer for deleted identity",
			creds: func(f *resolverFixture) Credentials { return Credentials{Bearer: f.issue(t, alice.ID)} },
			setup: func(f *resolverFixture) { f.dir.remove(alice.ID) },
		},
		{
			name:  "bad bearer and bad api key",
			creds: func(*resolverFixture) Credentials { return Credentials{Bearer: "garbage", APIKey: "nobody"} },
		},
		{
			name:  "directory unavailable",
			creds: func(*resolverFixture) Credentials { return Credentials{APIKey: alice.APIKey} },
			setup: func(f *resolverFixture) { f.dir.err = errors.New("connection refused") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResolverFixture(t)
			creds := tt.creds(f)
			if tt.setup != nil {
				tt.setup(f)
			}

			identity, err := f.resolver.Resolve(context.Background(), creds)
			assert.Nil(t, identity)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
			assert.Equal(t, ErrUnauthenticated, err)
		})
	}
}

func TestBearerAuthenticator_NoBearer(t *testing.T) {
	f := newResolverFixture(t)
	a := NewBearerAuthenticator(f.codec, f.dir, nil)

	identity, err := a.Authenticate(context.Background(), Credentials{APIKey: "x"})
	assert.NoError(t, err)
	assert.Nil(t, identity)
}

func TestAPIKeyAuthenticator_NoKey(t *testing.T) {
	a := NewAPIKeyAuthenticator(newFakeDirectory())

	identity, err := a.Authenticate(context.Background(), Credentials{Bearer: "x"})
	assert.NoError(t, err)
	assert.Nil(t, identity)
}

func TestIdentity_HasRole(t *testing.T) {
	assert.True(t, admin.HasRole(RoleAdmin))
	assert.False(t, alice.HasRole(RoleAdmin))

	var nobody *Identity
	assert.False(t, nobody.HasRole(RoleUser))
	assert.Equal(t, []string{"USER", "ADMIN"}, admin.RoleNames())
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), alice)
	got, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, alice, got)

	_, ok = IdentityFromContext(WithIdentity(context.Background(), nil))
	assert.False(t, ok)
}
