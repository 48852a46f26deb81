package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dlfjsld1/kopring-gateway/internal/telemetry"
)

const tracerName = "authgate/auth"

var errInvalidCredential = errors.New("invalid bearer credential")

// Resolution methods reported in Resolution.Method and auth metrics.
const (
	MethodBearer = "bearer"
	MethodAPIKey = "api_key"
)

// Credentials are the raw secrets extracted from a request. Either may be empty.
type Credentials struct {
	Bearer string
	APIKey string
}

// Empty reports whether no credential was presented.
func (c Credentials) Empty() bool {
	return c.Bearer == "" && c.APIKey == ""
}

// CredentialVerifier checks an access credential and returns the identity key it binds.
type CredentialVerifier interface {
	Verify(token string, now time.Time) (string, error)
}

// Authenticator resolves one kind of credential.
//
// Return values:
//   - (identity, nil): credential valid and bound to a live identity
//   - (nil, nil): this kind of credential was not presented
//   - (nil, error): credential presented but invalid, expired or unknown
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// BearerAuthenticator resolves short-lived access credentials.
type BearerAuthenticator struct {
	verifier  CredentialVerifier
	directory Directory
	now       func() time.Time
}

// NewBearerAuthenticator returns an authenticator that verifies bearer credentials
// and re-reads the identity from directory on every call.
func NewBearerAuthenticator(verifier CredentialVerifier, directory Directory, now func() time.Time) *BearerAuthenticator {
	if now == nil {
		now = time.Now
	}
	return &BearerAuthenticator{verifier: verifier, directory: directory, now: now}
}

// Authenticate implements Authenticator.
func (a *BearerAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Bearer == "" {
		return nil, nil
	}
	key, err := a.verifier.Verify(creds.Bearer, a.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidCredential, err)
	}
	identity, err := a.directory.FindByID(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup identity %s: %w", key, err)
	}
	return identity, nil
}

// APIKeyAuthenticator resolves long-lived API keys.
type APIKeyAuthenticator struct {
	directory Directory
}

// NewAPIKeyAuthenticator returns an authenticator backed by directory.
func NewAPIKeyAuthenticator(directory Directory) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{directory: directory}
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.APIKey == "" {
		return nil, nil
	}
	identity, err := a.directory.FindByAPIKey(ctx, creds.APIKey)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return identity, nil
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Identity *Identity

	// Method is MethodBearer or MethodAPIKey.
	Method string

	// Refreshed is set when the identity was established without a valid bearer
	// credential, so the caller should be handed a fresh one.
	Refreshed bool
}

// ResolverMetrics is the subset of telemetry.AuthMetrics the resolver records into.
type ResolverMetrics interface {
	RecordAuth(ctx context.Context, method string, success bool, durationMs float64)
}

// Resolver turns presented credentials into an Identity.
// The bearer credential takes precedence; the API key is consulted when no bearer
// was presented or the bearer failed.
type Resolver struct {
	bearer  Authenticator
	apiKey  Authenticator
	metrics ResolverMetrics
}

// NewResolver builds a resolver from the two authenticators. metrics may be nil.
func NewResolver(bearer, apiKey Authenticator, metrics ResolverMetrics) *Resolver {
	return &Resolver{bearer: bearer, apiKey: apiKey, metrics: metrics}
}

// Resolve returns the identity behind creds or ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (*Identity, error) {
	res, err := r.ResolveCredentials(ctx, creds)
	if err != nil {
		return nil, err
	}
	return res.Identity, nil
}

// ResolveCredentials is Resolve with details about which credential succeeded.
// Underlying codec and directory errors are logged and never returned.
func (r *Resolver) ResolveCredentials(ctx context.Context, creds Credentials) (Resolution, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "auth.Resolve",
		attribute.Bool("credential.bearer", creds.Bearer != ""),
		attribute.Bool("credential.api_key", creds.APIKey != ""),
	)
	defer span.End()

	if creds.Empty() {
		telemetry.AddEvent(span, "authentication.no_credentials")
		return Resolution{}, ErrUnauthenticated
	}

	bearerFailed := false
	if r.bearer != nil && creds.Bearer != "" {
		identity, err := r.attempt(ctx, MethodBearer, r.bearer, creds)
		if err == nil && identity != nil {
			span.SetAttributes(attribute.String(telemetry.AttrIdentityID, identity.ID))
			return Resolution{Identity: identity, Method: MethodBearer}, nil
		}
		bearerFailed = true
		telemetry.AddEvent(span, "authentication.bearer_failed")
	}

	if r.apiKey != nil && creds.APIKey != "" {
		identity, err := r.attempt(ctx, MethodAPIKey, r.apiKey, creds)
		if err == nil && identity != nil {
			span.SetAttributes(
				attribute.String(telemetry.AttrIdentityID, identity.ID),
				attribute.Bool("credential.refreshed", true),
			)
			return Resolution{Identity: identity, Method: MethodAPIKey, Refreshed: true}, nil
		}
	}

	if bearerFailed {
		telemetry.RecordError(span, ErrUnauthenticated)
	}
	return Resolution{}, ErrUnauthenticated
}

func (r *Resolver) attempt(ctx context.Context, method string, a Authenticator, creds Credentials) (*Identity, error) {
	start := time.Now()
	identity, err := a.Authenticate(ctx, creds)
	success := err == nil && identity != nil
	if r.metrics != nil {
		r.metrics.RecordAuth(ctx, method, success, float64(time.Since(start).Milliseconds()))
	}
	if err != nil && !isExpectedFailure(err) {
		log.Printf("auth: %s resolution failed: %v", method, err)
	}
	return identity, err
}

// isExpectedFailure separates routine rejections from infrastructure trouble worth logging.
func isExpectedFailure(err error) bool {
	return errors.Is(err, errInvalidCredential) ||
		errors.Is(err, ErrIdentityNotFound) ||
		errors.Is(err, context.Canceled)
}
