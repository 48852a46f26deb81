package members

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key <member-id>",
	Short: "Replace a member's API key",
	Long:  `Generates a new API key for the member. The old key stops resolving immediately.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := newServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		key, err := bundle.Service.RotateAPIKey(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to rotate API key: %w", err)
		}

		fmt.Printf("New API key for %s: %s\n", args[0], key)
		return nil
	},
}
