package login

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"net/url"
	"strings"
	"time"

	httphelper "github.com/zitadel/oidc/v3/pkg/http"
)

// RedirectCookie holds the post-login target between start and callback.
const RedirectCookie = "authgate.redirect"

// RedirectOptions configure PendingRedirects.
type RedirectOptions struct {
	// Secret seeds the cookie signing and encryption keys
	Secret []byte

	// TTL bounds the lifetime of a pending redirect
	TTL time.Duration

	// Default replaces blank or rejected targets
	Default string

	// AllowedOrigins lists the absolute origins a target may point at
	AllowedOrigins []string

	Domain string
	Secure bool
}

// PendingRedirects stores the redirect target in a signed, encrypted cookie and
// hands it back exactly once at callback.
type PendingRedirects struct {
	cookies  *httphelper.CookieHandler
	fallback string
	allowed  map[string]struct{}
}

// NewPendingRedirects builds the store. Keys are derived from opts.Secret so every
// gateway instance can read cookies written by any other.
func NewPendingRedirects(opts RedirectOptions) *PendingRedirects {
	cookieOpts := []httphelper.CookieHandlerOpt{
		httphelper.WithMaxAge(int(opts.TTL / time.Second)),
		httphelper.WithSameSite(http.SameSiteLaxMode),
	}
	if opts.Domain != "" {
		cookieOpts = append(cookieOpts, httphelper.WithDomain(opts.Domain))
	}
	if !opts.Secure {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}

	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		if o := originOf(origin); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return &PendingRedirects{
		cookies:  httphelper.NewCookieHandler(deriveKey(opts.Secret, "redirect-hash"), deriveKey(opts.Secret, "redirect-crypt"), cookieOpts...),
		fallback: opts.Default,
		allowed:  allowed,
	}
}

// Save stores the sanitized target and returns it.
func (p *PendingRedirects) Save(w http.ResponseWriter, target string) (string, error) {
	target = p.Sanitize(target)
	if err := p.cookies.SetCookie(w, RedirectCookie, target); err != nil {
		return "", err
	}
	return target, nil
}

// Consume returns the pending target and deletes the cookie. A missing, expired or
// tampered cookie yields the default target.
func (p *PendingRedirects) Consume(w http.ResponseWriter, r *http.Request) string {
	target, err := p.cookies.CheckCookie(r, RedirectCookie)
	if err != nil {
		return p.fallback
	}
	p.cookies.DeleteCookie(w, RedirectCookie)
	return p.Sanitize(target)
}

// Sanitize returns target when it is a local path or points at an allowed origin,
// and the default otherwise.
func (p *PendingRedirects) Sanitize(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return p.fallback
	}
	if isLocalPath(target) {
		return target
	}
	if _, ok := p.allowed[originOf(target)]; ok {
		return target
	}
	return p.fallback
}

// Default returns the fallback target.
func (p *PendingRedirects) Default() string {
	return p.fallback
}

func isLocalPath(target string) bool {
	if !strings.HasPrefix(target, "/") {
		return false
	}
	// "//host" and "/\host" are scheme-relative in browsers
	return !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\")
}

func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return scheme + "://" + strings.ToLower(u.Host)
}

// deriveKey returns a 32-byte key bound to label.
func deriveKey(secret []byte, label string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}
