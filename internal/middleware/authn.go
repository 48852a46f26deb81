package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
)

// CredentialResolver is implemented by *auth.Resolver.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, creds auth.Credentials) (auth.Resolution, error)
}

// CredentialIssuer re-issues an access credential for an identity.
type CredentialIssuer interface {
	Issue(identityKey string, now time.Time) (string, error)
}

// AuthnDependencies are the collaborators of the authentication filter.
type AuthnDependencies struct {
	Resolver CredentialResolver

	// Issuer and Cookies are optional. When both are set, an identity resolved
	// without a valid bearer credential gets a fresh access cookie.
	Issuer  CredentialIssuer
	Cookies *auth.CookieWriter
	Now     func() time.Time
}

// Authentication runs once per request before enforcement.
//
// It extracts credentials from headers and cookies, resolves them, and attaches the
// identity to the request context on success. It never rejects a request; unresolved
// callers continue anonymously and the authorization middleware decides.
func Authentication(deps AuthnDependencies) func(http.Handler) http.Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := auth.ExtractCredentials(r)
			if creds.Empty() {
				next.ServeHTTP(w, r)
				return
			}

			res, err := deps.Resolver.ResolveCredentials(r.Context(), creds)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if res.Refreshed && deps.Issuer != nil && deps.Cookies != nil {
				token, err := deps.Issuer.Issue(res.Identity.ID, now())
				if err != nil {
					log.Printf("authn: failed to refresh access credential for %s: %v", res.Identity.ID, err)
				} else {
					deps.Cookies.SetAccessCookie(w, token)
				}
			}

			ctx := auth.WithIdentity(r.Context(), res.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
