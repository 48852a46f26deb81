// Package member implements the member directory the gateway resolves identities against.
package member

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/db/bunx"
	"github.com/dlfjsld1/kopring-gateway/internal/db/models"
	"github.com/dlfjsld1/kopring-gateway/internal/repository"
	"github.com/dlfjsld1/kopring-gateway/internal/telemetry"
)

const tracerName = "authgate/member"

var (
	// ErrUsernameTaken is returned by Register when the username already exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidPassword is returned by Authenticate for unknown users and wrong passwords alike.
	ErrInvalidPassword = errors.New("invalid username or password")

	// ErrInvalidRegistration is returned when required registration fields are missing.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// CredentialIssuer mints access credentials. *credential.Codec implements it.
type CredentialIssuer interface {
	Issue(identityKey string, now time.Time) (string, error)
	TTL() time.Duration
}

// Options tune a Service.
type Options struct {
	CacheSize  int
	CacheTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
}

// Registration is the input for creating a local member.
type Registration struct {
	Username string
	Password string
	Nickname string
	Roles    []auth.Role
}

// Service is the database-backed member directory. It implements auth.Directory.
type Service struct {
	repo   repository.MemberRepository
	issuer CredentialIssuer
	cache  *identityCache
	cost   int
	now    func() time.Time
}

var _ auth.Directory = (*Service)(nil)

// NewService wires the directory. A zero CacheSize or CacheTTL disables caching.
func NewService(repo repository.MemberRepository, issuer CredentialIssuer, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		repo:   repo,
		issuer: issuer,
		cache:  newIdentityCache(opts.CacheSize, opts.CacheTTL),
		cost:   cost,
		now:    now,
	}
}

// FindByAPIKey implements auth.Directory.
func (s *Service) FindByAPIKey(ctx context.Context, key string) (*auth.Identity, error) {
	current, err := s.repo.GetKeyByAPIKey(ctx, key)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return s.load(ctx, current)
}

// FindByID implements auth.Directory.
func (s *Service) FindByID(ctx context.Context, id string) (*auth.Identity, error) {
	current, err := s.repo.GetKeyByID(ctx, id)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return s.load(ctx, current)
}

// load returns the identity for a key row read in this call. Every lookup reads the
// key row, so deletes and rotations made by another process apply at once.
func (s *Service) load(ctx context.Context, current repository.MemberKey) (*auth.Identity, error) {
	if identity, ok := s.cache.get(current); ok {
		return identity, nil
	}
	m, err := s.repo.GetByID(ctx, current.ID)
	if err != nil {
		return nil, translateNotFound(err)
	}
	identity := toIdentity(m)
	s.cache.put(identity, repository.MemberKey{ID: m.ID, APIKey: m.APIKey, UpdatedAt: m.UpdatedAt})
	return identity, nil
}

// FindOrCreateByExternalLogin implements auth.Directory. First sight of (provider, subject)
// creates a USER member named "<PROVIDER>__<subject>" and links it.
func (s *Service) FindOrCreateByExternalLogin(ctx context.Context, provider, subject string, profile auth.ExternalProfile) (*auth.Identity, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "member.FindOrCreateByExternalLogin",
		attribute.String(telemetry.AttrLoginProvider, provider),
	)
	defer span.End()

	if provider == "" || subject == "" {
		return nil, fmt.Errorf("%w: provider and subject are required", ErrInvalidRegistration)
	}

	existing, err := s.repo.GetByExternalLogin(ctx, provider, subject)
	if err == nil {
		return toIdentity(existing), nil
	}
	if !errors.Is(err, repository.ErrMemberNotFound) {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("find external login: %w", err)
	}

	username := strings.ToUpper(provider) + "__" + subject
	nickname := firstNonEmpty(profile.Nickname, profile.Name, username)
	now := s.now().UTC()
	m := &models.Member{
		ID:              bunx.NewUUIDv7(),
		Username:        username,
		Nickname:        nickname,
		Email:           profile.Email,
		ProfileImageURL: profile.Picture,
		APIKey:          newAPIKey(),
		Roles:           models.RoleList{string(auth.RoleUser)},
		CreatedAt:       now,
		UpdatedAt:       now,
		ExternalLogins: []*models.MemberExternalLogin{{
			ID:        bunx.NewUUIDv7(),
			Provider:  provider,
			Subject:   subject,
			CreatedAt: now,
		}},
	}

	if err := s.repo.Create(ctx, m); err != nil {
		// A concurrent callback for the same subject may have won the insert.
		if existing, lookupErr := s.repo.GetByExternalLogin(ctx, provider, subject); lookupErr == nil {
			return toIdentity(existing), nil
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("create member for %s login: %w", provider, err)
	}

	log.Printf("member: created %s from %s login", m.ID, provider)
	telemetry.AddEvent(span, "member.created", attribute.String(telemetry.AttrIdentityID, m.ID))
	return toIdentity(m), nil
}

// IssueCredential implements auth.Directory.
func (s *Service) IssueCredential(_ context.Context, identity *auth.Identity) (auth.IssuedCredential, error) {
	if identity == nil || identity.ID == "" {
		return auth.IssuedCredential{}, errors.New("issue credential: identity is required")
	}
	now := s.now()
	token, err := s.issuer.Issue(identity.ID, now)
	if err != nil {
		return auth.IssuedCredential{}, fmt.Errorf("issue credential: %w", err)
	}
	return auth.IssuedCredential{
		AccessToken: token,
		APIKey:      identity.APIKey,
		ExpiresAt:   now.Truncate(time.Second).Add(s.issuer.TTL()),
	}, nil
}

// Register creates a local member with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, reg Registration) (*auth.Identity, error) {
	username := strings.TrimSpace(reg.Username)
	if username == "" || reg.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidRegistration)
	}

	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrMemberNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	hashStr := string(hash)

	roles := models.RoleList{string(auth.RoleUser)}
	for _, role := range reg.Roles {
		if role != auth.RoleUser {
			roles = append(roles, string(role))
		}
	}

	now := s.now().UTC()
	m := &models.Member{
		ID:           bunx.NewUUIDv7(),
		Username:     username,
		Nickname:     firstNonEmpty(strings.TrimSpace(reg.Nickname), username),
		PasswordHash: &hashStr,
		APIKey:       newAPIKey(),
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("register member: %w", err)
	}
	return toIdentity(m), nil
}

// Authenticate checks a local username and password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*auth.Identity, error) {
	m, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if m.PasswordHash == nil {
		return nil, ErrInvalidPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*m.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}
	return toIdentity(m), nil
}

// RotateAPIKey replaces the member's API key. The old key stops resolving immediately.
func (s *Service) RotateAPIKey(ctx context.Context, id string) (string, error) {
	key := newAPIKey()
	if err := s.repo.UpdateAPIKey(ctx, id, key); err != nil {
		return "", translateNotFound(err)
	}
	s.cache.forget(id)
	return key, nil
}

// Delete removes the member. Outstanding credentials stop resolving immediately.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return translateNotFound(err)
	}
	s.cache.forget(id)
	return nil
}

// FindByUsername returns the member with the given login name.
func (s *Service) FindByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	m, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return toIdentity(m), nil
}

// List returns every member.
func (s *Service) List(ctx context.Context) ([]*auth.Identity, error) {
	members, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	identities := make([]*auth.Identity, 0, len(members))
	for i := range members {
		identities = append(identities, toIdentity(&members[i]))
	}
	return identities, nil
}

func toIdentity(m *models.Member) *auth.Identity {
	roles := make([]auth.Role, 0, len(m.Roles))
	for _, r := range m.Roles {
		roles = append(roles, auth.Role(r))
	}
	links := make([]auth.ExternalLogin, 0, len(m.ExternalLogins))
	for _, l := range m.ExternalLogins {
		links = append(links, auth.ExternalLogin{Provider: l.Provider, Subject: l.Subject})
	}
	return &auth.Identity{
		ID:             m.ID,
		Username:       m.Username,
		Nickname:       m.Nickname,
		Roles:          roles,
		APIKey:         m.APIKey,
		ExternalLogins: links,
	}
}

func translateNotFound(err error) error {
	if errors.Is(err, repository.ErrMemberNotFound) {
		return fmt.Errorf("%w: %w", auth.ErrIdentityNotFound, err)
	}
	return err
}

func newAPIKey() string {
	return uuid.NewString()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
