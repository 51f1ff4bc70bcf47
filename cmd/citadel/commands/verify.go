package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/citadel/internal/config"
	"github.com/moolen/citadel/internal/container"
	"github.com/moolen/citadel/internal/kernel"
	"github.com/moolen/citadel/internal/registry"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Resolve every container of an assembly without starting anything",
	Long: `Load the assembly, check every type tag against the registered factories
and resolve the dependency graph of each container. Prints the startup order
or the assembly error (cycle path, missing provider, bad descriptor).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plans, err := verifyAssembly(assemblyPath, registry.DefaultFactories())
		if err != nil {
			return err
		}
		printPlans(cmd.OutOrStdout(), plans)
		return nil
	},
}

func verifyAssembly(path string, factories *registry.FactoryRegistry) ([]kernel.ContainerPlan, error) {
	assembly, err := config.LoadAssemblyFile(path)
	if err != nil {
		return nil, err
	}
	root, err := kernel.Assemble(assembly, container.Options{Factories: factories})
	if err != nil {
		return nil, err
	}
	return kernel.Verify(root, factories)
}

func printPlans(w io.Writer, plans []kernel.ContainerPlan) {
	for _, cp := range plans {
		fmt.Fprintf(w, "%s: %d components\n", cp.Path, len(cp.Plan.Order))
		for rank, names := range cp.Plan.Ranks {
			fmt.Fprintf(w, "  rank %d: %s\n", rank, strings.Join(names, ", "))
		}
		for _, u := range cp.Plan.Unresolved {
			fmt.Fprintf(w, "  unresolved optional %s.%s\n", u.Consumer, u.Role)
		}
	}
	fmt.Fprintln(w, "OK")
}
