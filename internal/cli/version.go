package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tom-doerr/perplexity_search/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the plexsearch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "plexsearch %s\n", version.Version)
			return err
		},
	}
}
