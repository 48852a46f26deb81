package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/config"
)

// ErrProviderDenied is passed to the failure handler when the provider reports an
// error or the code exchange fails.
var ErrProviderDenied = errors.New("provider login failed")

// ProfileHandler receives the verified profile after a successful exchange.
type ProfileHandler func(w http.ResponseWriter, r *http.Request, profile auth.ExternalProfile)

// FailureHandler receives every callback failure.
type FailureHandler func(w http.ResponseWriter, r *http.Request, err error)

// Provider drives one third-party identity provider.
type Provider interface {
	// Begin redirects the browser to the provider's authorization endpoint.
	Begin(w http.ResponseWriter, r *http.Request)
	// Complete validates the callback and calls exactly one of onSuccess or onFailure.
	Complete(w http.ResponseWriter, r *http.Request, onSuccess ProfileHandler, onFailure FailureHandler)
}

type failureKey struct{}

// OIDCProvider is a Provider backed by a zitadel relying party. State and PKCE
// verifier travel in cookies managed by the relying party's cookie handler.
type OIDCProvider struct {
	rp    rp.RelyingParty
	begin http.HandlerFunc
}

// NewOIDCProvider discovers the issuer and builds the relying party. secret seeds
// the state and PKCE cookie keys.
func NewOIDCProvider(ctx context.Context, name string, cfg config.ProviderConfig, secret []byte, secure bool) (*OIDCProvider, error) {
	cookieOpts := []httphelper.CookieHandlerOpt{}
	if !secure {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}
	cookieHandler := httphelper.NewCookieHandler(
		deriveKey(secret, "oidc-hash:"+name),
		deriveKey(secret, "oidc-crypt:"+name),
		cookieOpts...,
	)

	options := []rp.Option{
		rp.WithCookieHandler(cookieHandler),
		rp.WithPKCE(cookieHandler),
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(10 * time.Second)),
		rp.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, errorType, errorDesc, state string) {
			fail(w, r, fmt.Errorf("%w: %s: %s: %s", ErrProviderDenied, name, errorType, errorDesc))
		}),
		rp.WithUnauthorizedHandler(func(w http.ResponseWriter, r *http.Request, desc, state string) {
			fail(w, r, fmt.Errorf("%w: %s: %s", ErrProviderDenied, name, desc))
		}),
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("create relying party %s: %w", name, err)
	}

	return &OIDCProvider{
		rp:    relyingParty,
		begin: rp.AuthURLHandler(uuid.NewString, relyingParty),
	}, nil
}

// Begin implements Provider.
func (p *OIDCProvider) Begin(w http.ResponseWriter, r *http.Request) {
	p.begin(w, r)
}

// Complete implements Provider.
func (p *OIDCProvider) Complete(w http.ResponseWriter, r *http.Request, onSuccess ProfileHandler, onFailure FailureHandler) {
	ctx := context.WithValue(r.Context(), failureKey{}, onFailure)
	exchange := rp.CodeExchangeHandler(func(w http.ResponseWriter, r *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], state string, _ rp.RelyingParty) {
		if tokens == nil || tokens.IDTokenClaims == nil {
			onFailure(w, r, fmt.Errorf("%w: no id token", ErrProviderDenied))
			return
		}
		onSuccess(w, r, ProfileFromClaims(tokens.IDTokenClaims))
	}, p.rp)
	exchange(w, r.WithContext(ctx))
}

// ProfileFromClaims maps verified ID token claims to a profile.
func ProfileFromClaims(claims *oidc.IDTokenClaims) auth.ExternalProfile {
	return auth.ExternalProfile{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Nickname: claims.Nickname,
		Picture:  claims.Picture,
	}
}

// NewProviders builds a provider for every configured registration.
func NewProviders(ctx context.Context, cfgs map[string]config.ProviderConfig, secret []byte, secure bool) (map[string]Provider, error) {
	providers := make(map[string]Provider, len(cfgs))
	for name, cfg := range cfgs {
		p, err := NewOIDCProvider(ctx, name, cfg, secret, secure)
		if err != nil {
			return nil, err
		}
		providers[name] = p
	}
	return providers, nil
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	if onFailure, ok := r.Context().Value(failureKey{}).(FailureHandler); ok && onFailure != nil {
		onFailure(w, r, err)
		return
	}
	http.Error(w, err.Error(), http.StatusUnauthorized)
}
