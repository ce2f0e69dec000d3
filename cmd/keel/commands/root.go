// Package commands implements the keel control surface CLI. All lifecycle
// semantics live under pkg/; the commands here only wire flags to the
// supervisor. Applications embedding keel with their own component
// behaviors typically build their own binary on the same packages.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keelframework/keel/pkg/registry"
	"github.com/keelframework/keel/pkg/telemetry"
)

var (
	// Global flags
	localFile string
	dirs      []string
	derives   []string
	logLevel  string
	console   bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keel",
		Short: "Keel - declarative component lifecycle orchestrator",
		Long: `Keel orchestrates a declarative component graph: configuration is merged
from layered file sources, expanded, instantiated in dependency order, and
can be stopped, suspended and resumed as a whole or per key.

Config sources:
  - resource directories (--dir), scanned one level for .yaml and .env files
  - an optional local override file (--local) with top precedence`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&localFile, "local", "l", "", "local override file (.yaml or .env)")
	rootCmd.PersistentFlags().StringArrayVarP(&dirs, "dir", "d", nil, "resource directory (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&derives, "derive", nil, "taxonomy edge child=parent (repeatable)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&console, "console", false, "human-readable log output")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())

	return rootCmd
}

// newLogger builds the logger from the global flags.
func newLogger() *telemetry.Logger {
	return telemetry.NewLogger(telemetry.LoggerConfig{Level: logLevel, Console: console})
}

// newRegistry builds a base registry with the taxonomy edges given on the
// command line applied.
func newRegistry() (*registry.Registry, error) {
	reg := registry.New()
	for _, edge := range derives {
		child, parent, ok := strings.Cut(edge, "=")
		if !ok {
			return nil, fmt.Errorf("derive %q: expected child=parent", edge)
		}
		if err := reg.Derive(child, parent); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
