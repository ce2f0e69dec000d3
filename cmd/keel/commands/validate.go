package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/keelframework/keel/pkg/config"
	"github.com/keelframework/keel/pkg/system"
)

func newValidateCommand() *cobra.Command {
	var skipOwners bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load, merge and expand the configuration without starting anything",
		Long: `Load and merge the configured sources, verify that every top-level key
has a resolvable implementation, and run the (pure) expansion pass.
Nothing is instantiated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}

			opts := config.Options{LocalFile: localFile, ResourceDirs: dirs}
			if !skipOwners {
				opts.Resolver = reg
			}
			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}
			if _, err := system.Expand(reg, cfg); err != nil {
				return err
			}

			keys := cfg.Keys()
			sort.Strings(keys)
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d keys\n", len(keys))
			for _, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", key)
			}
			if prov := config.ProvenanceOf(cfg); prov != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "sources: %d files\n", len(prov.ResourceFiles))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipOwners, "skip-owners", false, "skip the key ownership check")

	return cmd
}
