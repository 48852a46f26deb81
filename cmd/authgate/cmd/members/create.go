package members

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/member"
)

var (
	usernameFlag string
	nicknameFlag string
	passwordFlag string
	adminFlag    bool
	stdinFlag    bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a local member",
	RunE: func(cmd *cobra.Command, args []string) error {
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}

		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		bundle, err := newServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		reg := member.Registration{Username: usernameFlag, Password: password, Nickname: nicknameFlag}
		if adminFlag {
			reg.Roles = []auth.Role{auth.RoleAdmin}
		}

		identity, err := bundle.Service.Register(context.Background(), reg)
		if err != nil {
			return fmt.Errorf("failed to create member: %w", err)
		}

		fmt.Println("Member created successfully!")
		fmt.Println("----------------------------------------")
		fmt.Printf("Member ID: %s\n", identity.ID)
		fmt.Printf("Username: %s\n", identity.Username)
		fmt.Printf("Nickname: %s\n", identity.Nickname)
		fmt.Printf("Roles: %s\n", strings.Join(identity.RoleNames(), ", "))
		fmt.Printf("API key: %s\n", identity.APIKey)
		fmt.Println("----------------------------------------")
		return nil
	},
}
