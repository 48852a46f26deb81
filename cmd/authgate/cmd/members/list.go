package members

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List members",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := newServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		identities, err := bundle.Service.List(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list members: %w", err)
		}
		if len(identities) == 0 {
			fmt.Println("No members found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tNICKNAME\tROLES\tLOGINS")
		for _, identity := range identities {
			logins := make([]string, 0, len(identity.ExternalLogins))
			for _, l := range identity.ExternalLogins {
				logins = append(logins, l.Provider)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				identity.ID, identity.Username, identity.Nickname,
				strings.Join(identity.RoleNames(), ","), strings.Join(logins, ","))
		}
		return w.Flush()
	},
}
