package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Member is a gateway identity. Local members carry a bcrypt PasswordHash; members
// created through an external login have none and are reached through ExternalLogins.
type Member struct {
	bun.BaseModel `bun:"table:members,alias:m"`

	ID              string                 `bun:"id,pk,type:varchar(36)"`
	Username        string                 `bun:"username,notnull,unique"`
	Nickname        string                 `bun:"nickname,notnull"`
	Email           string                 `bun:"email"`
	ProfileImageURL string                 `bun:"profile_image_url"`
	PasswordHash    *string                `bun:"password_hash"`
	APIKey          string                 `bun:"api_key,notnull,unique"`
	Roles           RoleList               `bun:"roles,type:text,notnull"`
	CreatedAt       time.Time              `bun:"created_at,notnull"`
	UpdatedAt       time.Time              `bun:"updated_at,notnull"`
	ExternalLogins  []*MemberExternalLogin `bun:"rel:has-many,join:id=member_id"`
}

// MemberExternalLogin links a member to a subject at an identity provider.
// (provider, subject) is unique.
type MemberExternalLogin struct {
	bun.BaseModel `bun:"table:member_external_logins,alias:mel"`

	ID        string    `bun:"id,pk,type:varchar(36)"`
	MemberID  string    `bun:"member_id,notnull,type:varchar(36)"`
	Provider  string    `bun:"provider,notnull,unique:provider_subject"`
	Subject   string    `bun:"subject,notnull,unique:provider_subject"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// RoleList is stored as a JSON array in a text column.
type RoleList []string

// Scan implements sql.Scanner
func (r *RoleList) Scan(value any) error {
	if value == nil {
		*r = RoleList{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan RoleList: expected []byte or string, got %T", value)
	}

	var roles []string
	if err := json.Unmarshal(raw, &roles); err != nil {
		return fmt.Errorf("failed to unmarshal RoleList: %w", err)
	}
	*r = roles
	return nil
}

// Value implements driver.Valuer
func (r RoleList) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal([]string(r))
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}
