package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/login"
	gatemiddleware "github.com/dlfjsld1/kopring-gateway/internal/middleware"
	"github.com/dlfjsld1/kopring-gateway/internal/telemetry"
)

// APIPrefix scopes CORS and the member endpoints.
const APIPrefix = "/api/"

// RouterOptions controls the construction of the gateway HTTP router.
type RouterOptions struct {
	// Authn and Authz are required; every request passes both before any handler.
	Authn gatemiddleware.AuthnDependencies
	Authz gatemiddleware.AuthzDependencies

	// Login mounts the external-login endpoints when set.
	Login *login.Coordinator

	// Members mounts the member endpoints when set. Cookies is required with it.
	Members MemberService
	Cookies *auth.CookieWriter

	CORSOptions   *cors.Options
	Metrics       *telemetry.ServerMetrics
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc

	// ExtraRoutes mounts the protected business endpoints.
	ExtraRoutes func(chi.Router)
}

// DefaultCORSOptions returns the credentialed CORS policy for the given origins.
func DefaultCORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles the gateway: shared chi middleware, CORS under /api/, the
// authentication filter, policy enforcement, then the login, member and business
// routes.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	if opts.Authn.Resolver == nil {
		return nil, errors.New("router requires a credential resolver")
	}
	if opts.Members != nil && opts.Cookies == nil {
		return nil, errors.New("member endpoints require a cookie writer")
	}
	authz, err := gatemiddleware.NewAuthzMiddleware(opts.Authz)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(gatemiddleware.RequestMetrics(opts.Metrics))
	}

	corsCfg := DefaultCORSOptions(nil)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(underPrefix(APIPrefix, cors.Handler(corsCfg)))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Use(gatemiddleware.Authentication(opts.Authn))
	r.Use(authz)

	if opts.Login != nil {
		r.Get("/oauth2/authorization/{"+login.ProviderParam+"}", opts.Login.HandleStart)
		r.Get("/login/oauth2/code/{"+login.ProviderParam+"}", opts.Login.HandleCallback)
	}

	if opts.Members != nil {
		mountMemberRoutes(r, opts.Members, opts.Cookies)
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r, nil
}

// NewH2CHandler wraps the router so clients can speak HTTP/2 over cleartext.
func NewH2CHandler(opts RouterOptions) (http.Handler, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	return h2c.NewHandler(router, &http2.Server{}), nil
}

// underPrefix applies mw only to requests whose path starts with prefix.
func underPrefix(prefix string, mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, prefix) {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
