package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/dlfjsld1/kopring-gateway/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20250324000001, down_20250324000001)
}

// up_20250324000001 creates the member directory tables
func up_20250324000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating members table...")
	_, err := db.NewCreateTable().
		Model((*models.Member)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create members table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating member_external_logins table...")
	_, err = db.NewCreateTable().
		Model((*models.MemberExternalLogin)(nil)).
		IfNotExists().
		ForeignKey(`("member_id") REFERENCES "members" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create member_external_logins table: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*models.MemberExternalLogin)(nil)).
		Index("idx_member_external_logins_member_id").
		Column("member_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create member_external_logins member_id index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20250324000001 drops the member directory tables
func down_20250324000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping member directory tables...")
	for _, model := range []any{(*models.MemberExternalLogin)(nil), (*models.Member)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	fmt.Println(" OK")
	return nil
}
