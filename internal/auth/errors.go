package auth

import "errors"

var (
	// ErrUnauthenticated is the only failure the resolver surfaces: no credential, or
	// none of the presented credentials resolved to a live identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrIdentityNotFound is returned by Directory implementations for unknown keys.
	ErrIdentityNotFound = errors.New("identity not found")
)
