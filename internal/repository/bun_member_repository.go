package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/dlfjsld1/kopring-gateway/internal/db/models"
)

// BunMemberRepository implements MemberRepository using Bun ORM
type BunMemberRepository struct {
	db *bun.DB
}

// NewBunMemberRepository creates a new Bun-based member repository
func NewBunMemberRepository(db *bun.DB) *BunMemberRepository {
	return &BunMemberRepository{db: db}
}

// Create inserts the member and its external logins in one transaction
func (r *BunMemberRepository) Create(ctx context.Context, member *models.Member) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(member).Exec(ctx); err != nil {
			return fmt.Errorf("create member: %w", err)
		}
		for _, link := range member.ExternalLogins {
			link.MemberID = member.ID
			if _, err := tx.NewInsert().Model(link).Exec(ctx); err != nil {
				return fmt.Errorf("link external login %s: %w", link.Provider, err)
			}
		}
		return nil
	})
}

// GetByID retrieves a member by internal key
func (r *BunMemberRepository) GetByID(ctx context.Context, id string) (*models.Member, error) {
	return r.getOne(ctx, "m.id = ?", id)
}

// GetByUsername retrieves a member by login name
func (r *BunMemberRepository) GetByUsername(ctx context.Context, username string) (*models.Member, error) {
	return r.getOne(ctx, "m.username = ?", username)
}

// GetByAPIKey retrieves the member owning apiKey
func (r *BunMemberRepository) GetByAPIKey(ctx context.Context, apiKey string) (*models.Member, error) {
	return r.getOne(ctx, "m.api_key = ?", apiKey)
}

// GetByExternalLogin retrieves the member linked to (provider, subject)
func (r *BunMemberRepository) GetByExternalLogin(ctx context.Context, provider, subject string) (*models.Member, error) {
	link := new(models.MemberExternalLogin)
	err := r.db.NewSelect().
		Model(link).
		Where("provider = ?", provider).
		Where("subject = ?", subject).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get external login: %w", err)
	}
	return r.GetByID(ctx, link.MemberID)
}

// List returns all members ordered by creation
func (r *BunMemberRepository) List(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	err := r.db.NewSelect().
		Model(&members).
		Relation("ExternalLogins").
		Order("m.created_at ASC", "m.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// GetKeyByID reads the identifying columns of the member with internal key id
func (r *BunMemberRepository) GetKeyByID(ctx context.Context, id string) (MemberKey, error) {
	return r.getKey(ctx, "id = ?", id)
}

// GetKeyByAPIKey reads the identifying columns of the member owning apiKey
func (r *BunMemberRepository) GetKeyByAPIKey(ctx context.Context, apiKey string) (MemberKey, error) {
	return r.getKey(ctx, "api_key = ?", apiKey)
}

// UpdateAPIKey replaces the member's API key
func (r *BunMemberRepository) UpdateAPIKey(ctx context.Context, id, apiKey string) error {
	res, err := r.db.NewUpdate().
		Model((*models.Member)(nil)).
		Set("api_key = ?", apiKey).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireAffected(res, id)
}

// Delete removes the member and its external logins
func (r *BunMemberRepository) Delete(ctx context.Context, id string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.MemberExternalLogin)(nil)).
			Where("member_id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete external logins: %w", err)
		}

		res, err := tx.NewDelete().
			Model((*models.Member)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		return requireAffected(res, id)
	})
}

func (r *BunMemberRepository) getOne(ctx context.Context, where string, arg any) (*models.Member, error) {
	member := new(models.Member)
	err := r.db.NewSelect().
		Model(member).
		Relation("ExternalLogins").
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return member, nil
}

func (r *BunMemberRepository) getKey(ctx context.Context, where string, arg any) (MemberKey, error) {
	member := new(models.Member)
	err := r.db.NewSelect().
		Model(member).
		Column("id", "api_key", "updated_at").
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MemberKey{}, ErrMemberNotFound
		}
		return MemberKey{}, fmt.Errorf("get member key: %w", err)
	}
	return MemberKey{ID: member.ID, APIKey: member.APIKey, UpdatedAt: member.UpdatedAt}, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	return nil
}
