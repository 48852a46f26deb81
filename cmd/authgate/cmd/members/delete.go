package members

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <member-id>",
	Short: "Delete a member",
	Long:  `Removes the member and its external logins. Outstanding credentials stop resolving immediately.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := newServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Service.Delete(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete member: %w", err)
		}

		fmt.Printf("Member %s deleted\n", args[0])
		return nil
	},
}
