package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moolen/citadel/internal/registry"
)

var factoriesCmd = &cobra.Command{
	Use:   "factories",
	Short: "List the registered component type tags",
	Run: func(cmd *cobra.Command, _ []string) {
		for _, tag := range registry.ListFactories() {
			fmt.Fprintln(cmd.OutOrStdout(), tag)
		}
	},
}
