package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moolen/citadel/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample assembly file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(assemblyPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", assemblyPath)
		}
		if err := config.WriteAssemblyFile(assemblyPath, config.Sample()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample assembly to %s\n", assemblyPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}
