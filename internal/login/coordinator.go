// Package login coordinates third-party logins: it captures where the browser
// should land, hands off to the provider, and turns the verified callback into
// credential cookies.
package login

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/envelope"
	"github.com/dlfjsld1/kopring-gateway/internal/telemetry"
)

const tracerName = "authgate/login"

// ProviderParam is the chi URL parameter naming the provider.
const ProviderParam = "provider"

// RedirectParam is the query parameter carrying the post-login target.
const RedirectParam = "redirectUrl"

// Options wire a Coordinator.
type Options struct {
	Providers map[string]Provider
	Directory auth.Directory
	Cookies   *auth.CookieWriter
	Redirects *PendingRedirects
}

// Coordinator serves the login start and callback endpoints.
type Coordinator struct {
	providers map[string]Provider
	directory auth.Directory
	cookies   *auth.CookieWriter
	redirects *PendingRedirects
}

// NewCoordinator validates opts. An empty provider set is allowed; every start
// then answers 404.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Directory == nil {
		return nil, errors.New("login coordinator requires a directory")
	}
	if opts.Cookies == nil {
		return nil, errors.New("login coordinator requires a cookie writer")
	}
	if opts.Redirects == nil {
		return nil, errors.New("login coordinator requires pending redirects")
	}
	providers := make(map[string]Provider, len(opts.Providers))
	for name, p := range opts.Providers {
		providers[strings.ToLower(name)] = p
	}
	return &Coordinator{
		providers: providers,
		directory: opts.Directory,
		cookies:   opts.Cookies,
		redirects: opts.Redirects,
	}, nil
}

// HandleStart captures the redirect target from the redirectUrl query parameter,
// falling back to the Referer header, and redirects to the provider.
func (c *Coordinator) HandleStart(w http.ResponseWriter, r *http.Request) {
	name, provider, ok := c.lookup(r)
	if !ok {
		writeUnknownProvider(w)
		return
	}

	target := r.URL.Query().Get(RedirectParam)
	if target == "" {
		target = r.Referer()
	}

	saved, err := c.redirects.Save(w, target)
	if err != nil {
		log.Printf("login: failed to store redirect for %s: %v", name, err)
		envelope.Unauthorized(w)
		return
	}

	_, span := telemetry.StartSpan(r.Context(), tracerName, "login.Start",
		attribute.String(telemetry.AttrLoginProvider, name),
	)
	span.End()

	if saved != target {
		log.Printf("login: redirect target %q replaced by %q", target, saved)
	}
	provider.Begin(w, r)
}

// HandleCallback completes the provider exchange, resolves or creates the
// identity, sets both credential cookies and redirects to the captured target.
// Failures answer 401-1 and write no credential cookies.
func (c *Coordinator) HandleCallback(w http.ResponseWriter, r *http.Request) {
	name, provider, ok := c.lookup(r)
	if !ok {
		writeUnknownProvider(w)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), tracerName, "login.Callback",
		attribute.String(telemetry.AttrLoginProvider, name),
	)
	defer span.End()
	r = r.WithContext(ctx)

	flow := NewFlow(name)

	onFailure := func(w http.ResponseWriter, r *http.Request, err error) {
		telemetry.RecordError(span, err)
		log.Printf("login: %s callback failed: %v", name, err)
		if r.Context().Err() != nil {
			return
		}
		envelope.Unauthorized(w)
	}

	onSuccess := func(w http.ResponseWriter, r *http.Request, profile auth.ExternalProfile) {
		ctx := r.Context()
		subject := strings.TrimSpace(profile.Subject)
		if subject == "" {
			onFailure(w, r, errors.New("provider returned an empty subject"))
			return
		}

		identity, err := c.directory.FindOrCreateByExternalLogin(ctx, name, subject, profile)
		if err != nil {
			onFailure(w, r, err)
			return
		}
		if err := flow.Advance(FlowAuthenticated); err != nil {
			onFailure(w, r, err)
			return
		}
		telemetry.AddEvent(span, "login.authenticated",
			attribute.String(telemetry.AttrIdentityID, identity.ID),
			attribute.String(telemetry.AttrLoginState, flow.State().String()),
		)

		issued, err := c.directory.IssueCredential(ctx, identity)
		if err != nil {
			onFailure(w, r, err)
			return
		}
		// Abandoned requests must leave no trace.
		if ctx.Err() != nil {
			telemetry.RecordError(span, ctx.Err())
			return
		}

		if err := flow.Advance(FlowRedirected); err != nil {
			onFailure(w, r, err)
			return
		}

		c.cookies.SetCredentialCookies(w, issued)
		target := c.redirects.Consume(w, r)
		telemetry.AddEvent(span, "login.redirected",
			attribute.String(telemetry.AttrLoginState, flow.State().String()),
		)
		http.Redirect(w, r, target, http.StatusFound)
	}

	provider.Complete(w, r, onSuccess, onFailure)
}

func (c *Coordinator) lookup(r *http.Request) (string, Provider, bool) {
	name := strings.ToLower(chi.URLParam(r, ProviderParam))
	provider, ok := c.providers[name]
	return name, provider, ok
}

func writeUnknownProvider(w http.ResponseWriter) {
	envelope.Write(w, http.StatusNotFound, envelope.RsData{Code: "404-1", Message: "unknown login provider"})
}
