package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keelframework/keel/pkg/config"
	"github.com/keelframework/keel/pkg/system"
)

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph [key...]",
		Short: "Print the dependency graph in Graphviz DOT format",
		Long: `Derive the dependency graph implied by references in the merged config
and print it as DOT, in instantiation order. With keys, the graph is
narrowed to those keys and their transitive dependencies.`,
		Example: `  keel graph -d ./conf | dot -Tsvg -o system.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}

			cfg, err := config.Load(config.Options{
				LocalFile:    localFile,
				ResourceDirs: dirs,
				Resolver:     reg,
			})
			if err != nil {
				return err
			}
			expanded, err := system.Expand(reg, cfg)
			if err != nil {
				return err
			}
			dot, err := system.DOT(expanded, reg, args...)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dot)
			return nil
		},
	}

	return cmd
}
