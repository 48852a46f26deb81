package members

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/dlfjsld1/kopring-gateway/internal/config"
	"github.com/dlfjsld1/kopring-gateway/internal/credential"
	"github.com/dlfjsld1/kopring-gateway/internal/db/bunx"
	"github.com/dlfjsld1/kopring-gateway/internal/member"
	"github.com/dlfjsld1/kopring-gateway/internal/repository"
)

// MembersCmd is the parent command for member management operations
var MembersCmd = &cobra.Command{
	Use:   "members",
	Short: "Manage gateway members",
	Long:  `Commands for creating members, rotating API keys and removing members directly from the server.`,
}

// serviceBundle keeps the DB handle next to the service so commands can close it.
type serviceBundle struct {
	Service *member.Service
	DB      *bun.DB
}

func (b *serviceBundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	bunx.Close(b.DB)
}

// newServiceBundle wires the member directory the same way serve does, without a cache.
func newServiceBundle() (*serviceBundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	codec, err := credential.NewCodec(credential.Options{
		Secret:    []byte(cfg.Credential.Secret),
		TTL:       cfg.Credential.TTL,
		ClockSkew: cfg.Credential.ClockSkew,
		Issuer:    cfg.Credential.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build credential codec: %w", err)
	}

	db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	svc := member.NewService(repository.NewBunMemberRepository(db), codec, member.Options{})
	return &serviceBundle{Service: svc, DB: db}, nil
}

func init() {
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Login name of the member")
	createCmd.Flags().StringVar(&nicknameFlag, "nickname", "", "Display name (defaults to the username)")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the member (use --stdin to avoid shell history)")
	createCmd.Flags().BoolVar(&adminFlag, "admin", false, "Grant the ADMIN role")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	MembersCmd.AddCommand(createCmd)
	MembersCmd.AddCommand(listCmd)
	MembersCmd.AddCommand(rotateKeyCmd)
	MembersCmd.AddCommand(deleteCmd)
}
