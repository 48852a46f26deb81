package auth

import (
	"context"
	"slices"
	"time"
)

// Role names a coarse permission carried by an identity.
type Role string

const (
	// RoleUser is granted to every member.
	RoleUser Role = "USER"
	// RoleAdmin unlocks administrative endpoints.
	RoleAdmin Role = "ADMIN"
)

// ExternalLogin links an identity to a subject at a third-party identity provider.
type ExternalLogin struct {
	Provider string
	Subject  string
}

// Identity is the resolved, verified representation of a caller.
//
// Values handed out by the Directory are treated as immutable snapshots; rotating an
// API key or changing roles produces a new Identity on the next lookup.
type Identity struct {
	// ID is the internal key the access credential binds to.
	ID string
	// Username is the login name. External logins get "<PROVIDER>__<subject>".
	Username string
	// Nickname is the display name.
	Nickname string
	// Roles lists the roles granted to this identity.
	Roles []Role
	// APIKey is the long-lived static secret accepted in place of a bearer credential.
	APIKey string
	// ExternalLogins lists linked provider accounts.
	ExternalLogins []ExternalLogin
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role Role) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, role)
}

// RoleNames returns the roles as plain strings for responses and logs.
func (i *Identity) RoleNames() []string {
	if i == nil {
		return nil
	}
	names := make([]string, 0, len(i.Roles))
	for _, role := range i.Roles {
		names = append(names, string(role))
	}
	return names
}

// ExternalProfile is the verified profile a provider returns after a successful login.
type ExternalProfile struct {
	Subject  string
	Email    string
	Name     string
	Nickname string
	Picture  string
}

// IssuedCredential is the pair of secrets handed to a caller after login.
type IssuedCredential struct {
	AccessToken string
	APIKey      string
	ExpiresAt   time.Time
}

// Directory is the member store the gateway consults. Implementations must be safe
// for concurrent use.
type Directory interface {
	// FindByAPIKey returns the identity owning key.
	FindByAPIKey(ctx context.Context, key string) (*Identity, error)
	// FindByID returns the identity with the given internal key.
	FindByID(ctx context.Context, id string) (*Identity, error)
	// FindOrCreateByExternalLogin resolves (provider, subject), creating and linking a
	// new identity on first sight.
	FindOrCreateByExternalLogin(ctx context.Context, provider, subject string, profile ExternalProfile) (*Identity, error)
	// IssueCredential mints a fresh access credential for identity and returns it with
	// the identity's API key.
	IssueCredential(ctx context.Context, identity *Identity) (IssuedCredential, error)
}
