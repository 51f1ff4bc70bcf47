package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/moolen/citadel/internal/kernel"
	"github.com/moolen/citadel/internal/registry"
	"github.com/moolen/citadel/internal/resolver"
)

var graphYAML bool

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show startup and shutdown order of every container",
	RunE: func(cmd *cobra.Command, _ []string) error {
		plans, err := verifyAssembly(assemblyPath, registry.DefaultFactories())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if graphYAML {
			return writeGraphYAML(out, plans)
		}
		renderGraph(out, plans, palette{styled: isTerminal(out)})
		return nil
	},
}

func init() {
	graphCmd.Flags().BoolVar(&graphYAML, "yaml", false, "Emit the graph as YAML")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// graphDoc is the YAML form of a resolved tree.
type graphDoc struct {
	Containers []containerDoc `yaml:"containers"`
}

type containerDoc struct {
	Path       string                       `yaml:"path"`
	Startup    [][]string                   `yaml:"startup"`
	Shutdown   []string                     `yaml:"shutdown"`
	Bindings   map[string]map[string]string `yaml:"bindings,omitempty"`
	Unresolved []string                     `yaml:"unresolved,omitempty"`
}

func toDoc(plans []kernel.ContainerPlan) graphDoc {
	doc := graphDoc{}
	for _, cp := range plans {
		doc.Containers = append(doc.Containers, containerDoc{
			Path:       cp.Path,
			Startup:    cp.Plan.Ranks,
			Shutdown:   cp.Plan.ShutdownOrder(),
			Bindings:   bindingsOf(cp.Plan),
			Unresolved: unresolvedOf(cp.Plan),
		})
	}
	return doc
}

// bindingsOf maps consumer -> role -> provider. Providers from an ancestor
// scope are written as "scope:name".
func bindingsOf(p *resolver.Plan) map[string]map[string]string {
	if len(p.Bindings) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(p.Bindings))
	for consumer, roles := range p.Bindings {
		m := make(map[string]string, len(roles))
		for role, b := range roles {
			m[role] = providerLabel(b)
		}
		out[consumer] = m
	}
	return out
}

func providerLabel(b resolver.Binding) string {
	if b.Local || b.Scope == nil {
		return b.Provider
	}
	return b.Scope.Name() + ":" + b.Provider
}

func unresolvedOf(p *resolver.Plan) []string {
	var out []string
	for _, u := range p.Unresolved {
		out = append(out, u.Consumer+"."+u.Role)
	}
	return out
}

func writeGraphYAML(w io.Writer, plans []kernel.ContainerPlan) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toDoc(plans)); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return enc.Close()
}

func renderGraph(w io.Writer, plans []kernel.ContainerPlan, p palette) {
	for _, cp := range plans {
		var b strings.Builder
		b.WriteString(p.render(containerStyle, cp.Path))
		b.WriteString("\n")

		for rank, names := range cp.Plan.Ranks {
			parts := make([]string, len(names))
			for i, name := range names {
				parts[i] = p.render(componentStyle, name) + dependencySuffix(cp.Plan, name)
			}
			fmt.Fprintf(&b, "%s %s\n", p.render(rankStyle, fmt.Sprintf("rank %d", rank)), strings.Join(parts, "  "))
		}
		fmt.Fprintf(&b, "%s %s", p.render(rankStyle, "shutdown"), strings.Join(cp.Plan.ShutdownOrder(), " -> "))
		for _, u := range unresolvedOf(cp.Plan) {
			fmt.Fprintf(&b, "\n%s", p.render(unresolvedStyle, "unresolved optional "+u))
		}

		if p.styled {
			fmt.Fprintln(w, sectionStyle.Render(b.String()))
		} else {
			fmt.Fprintln(w, b.String())
			fmt.Fprintln(w)
		}
	}
}

// dependencySuffix renders " <- a, b" for a component's providers.
func dependencySuffix(p *resolver.Plan, name string) string {
	roles := p.Bindings[name]
	if len(roles) == 0 {
		return ""
	}
	providers := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, b := range roles {
		label := providerLabel(b)
		if !seen[label] {
			seen[label] = true
			providers = append(providers, label)
		}
	}
	sort.Strings(providers)
	return " <- " + strings.Join(providers, ", ")
}
