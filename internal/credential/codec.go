package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when a credential cannot be parsed or lacks required claims.
	ErrMalformed = errors.New("credential malformed")

	// ErrExpired is returned when a credential is at or past its expiry.
	ErrExpired = errors.New("credential expired")

	// ErrBadSignature is returned when a credential was not signed with the process secret.
	ErrBadSignature = errors.New("credential signature invalid")
)

// DefaultIssuer is stamped into the iss claim when Options.Issuer is empty.
const DefaultIssuer = "authgate"

// Options configures a Codec.
type Options struct {
	// Secret is the process-wide HMAC key.
	Secret []byte

	// TTL is the credential lifetime measured from the issue time.
	TTL time.Duration

	// ClockSkew is the tolerance applied when checking expiry. Default zero.
	ClockSkew time.Duration

	// Issuer is written to and required in the iss claim.
	Issuer string
}

// Codec issues and verifies signed, time-bounded access credentials.
// A Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	secret []byte
	ttl    time.Duration
	skew   time.Duration
	issuer string
}

// NewCodec validates opts and returns a Codec.
func NewCodec(opts Options) (*Codec, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("credential secret is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("credential ttl must be positive, got %s", opts.TTL)
	}
	if opts.ClockSkew < 0 {
		return nil, fmt.Errorf("credential clock skew must not be negative, got %s", opts.ClockSkew)
	}
	issuer := opts.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	secret := make([]byte, len(opts.Secret))
	copy(secret, opts.Secret)

	return &Codec{
		secret: secret,
		ttl:    opts.TTL,
		skew:   opts.ClockSkew,
		issuer: issuer,
	}, nil
}

// TTL returns the lifetime of issued credentials.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a credential binding identityKey for the window [now, now+TTL).
// now is truncated to whole seconds, the resolution of the iat and exp claims.
func (c *Codec) Issue(identityKey string, now time.Time) (string, error) {
	if strings.TrimSpace(identityKey) == "" {
		return "", errors.New("identity key is required")
	}

	issuedAt := now.Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   identityKey,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry of token as of now and returns the bound identity key.
// Failures are always one of ErrMalformed, ErrExpired or ErrBadSignature.
func (c *Codec) Verify(token string, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMalformed
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", classify(err)
	}

	if claims.Subject == "" {
		return "", ErrMalformed
	}
	return claims.Subject, nil
}

// classify maps jwt parse errors onto the codec's three failure kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
