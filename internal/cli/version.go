package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/enexport/internal/enapi"
)

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration is needed to print the version.
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.stdout, "enexport %s\n", enapi.Version)
			return err
		},
	}
}
