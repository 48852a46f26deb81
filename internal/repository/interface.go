package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dlfjsld1/kopring-gateway/internal/db/models"
)

// ErrMemberNotFound is returned when no member matches a lookup.
var ErrMemberNotFound = errors.New("member not found")

// MemberKey is the narrow slice of a member row that decides whether a
// previously loaded member is still current.
type MemberKey struct {
	ID        string
	APIKey    string
	UpdatedAt time.Time
}

// MemberRepository exposes persistence operations for members and their external logins.
type MemberRepository interface {
	// Create inserts a member together with any ExternalLogins set on it, atomically.
	Create(ctx context.Context, member *models.Member) error

	GetByID(ctx context.Context, id string) (*models.Member, error)
	GetByUsername(ctx context.Context, username string) (*models.Member, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Member, error)
	GetByExternalLogin(ctx context.Context, provider, subject string) (*models.Member, error)
	List(ctx context.Context) ([]models.Member, error)

	// GetKeyByID and GetKeyByAPIKey read only the identifying columns, without relations.
	GetKeyByID(ctx context.Context, id string) (MemberKey, error)
	GetKeyByAPIKey(ctx context.Context, apiKey string) (MemberKey, error)

	UpdateAPIKey(ctx context.Context, id, apiKey string) error
	Delete(ctx context.Context, id string) error
}
