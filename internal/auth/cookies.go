package auth

import (
	"net/http"
	"strings"
	"time"
)

// Cookie and header names shared with the front end.
const (
	AccessTokenCookie = "accessToken"
	APIKeyCookie      = "apiKey"
	APIKeyHeader      = "X-API-Key"
)

// CookieOptions are the attributes applied to every credential cookie.
type CookieOptions struct {
	Domain       string
	Path         string
	Secure       bool
	HTTPOnly     bool
	SameSite     http.SameSite
	AccessMaxAge time.Duration
	APIKeyMaxAge time.Duration
}

// CookieWriter sets and clears the access and API-key cookies.
type CookieWriter struct {
	opts CookieOptions
}

// NewCookieWriter returns a writer using opts. An empty path defaults to "/".
func NewCookieWriter(opts CookieOptions) *CookieWriter {
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &CookieWriter{opts: opts}
}

// SetCredentialCookies writes both credential cookies.
func (c *CookieWriter) SetCredentialCookies(w http.ResponseWriter, issued IssuedCredential) {
	c.SetAccessCookie(w, issued.AccessToken)
	http.SetCookie(w, c.cookie(APIKeyCookie, issued.APIKey, c.opts.APIKeyMaxAge))
}

// SetAccessCookie writes only the short-lived access cookie.
func (c *CookieWriter) SetAccessCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, token, c.opts.AccessMaxAge))
}

// ClearCredentialCookies expires both credential cookies.
func (c *CookieWriter) ClearCredentialCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, APIKeyCookie} {
		cookie := c.cookie(name, "", 0)
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

func (c *CookieWriter) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   c.opts.Domain,
		Path:     c.opts.Path,
		Secure:   c.opts.Secure,
		HttpOnly: c.opts.HTTPOnly,
		SameSite: c.opts.SameSite,
		MaxAge:   int(maxAge / time.Second),
	}
}

// ExtractCredentials reads the bearer credential from the Authorization header or
// the access cookie, and the API key from the X-API-Key header or the API-key cookie.
func ExtractCredentials(r *http.Request) Credentials {
	var creds Credentials

	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			creds.Bearer = strings.TrimSpace(token)
		}
	}
	if creds.Bearer == "" {
		creds.Bearer = cookieValue(r, AccessTokenCookie)
	}

	creds.APIKey = strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if creds.APIKey == "" {
		creds.APIKey = cookieValue(r, APIKeyCookie)
	}
	return creds
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
