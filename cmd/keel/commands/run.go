package commands

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/keelframework/keel/pkg/config"
	"github.com/keelframework/keel/pkg/lifecycle"
	"github.com/keelframework/keel/pkg/reload"
	"github.com/keelframework/keel/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Configure and start the system, then supervise it",
		Long: `Configure the system from the given sources, start it, and block until
interrupted. SIGHUP triggers a reload: the system is stopped, changed
sources are picked up, and the system is started again from the same
provenance.`,
		Example: `  # Run from a resource directory with a local override
  keel run -d ./conf -l ./local.yaml --derive app/banner=value

  # Expose prometheus metrics while running
  keel run -d ./conf --metrics-addr :9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			reg, err := newRegistry()
			if err != nil {
				return err
			}

			metrics := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: metricsAddr != ""})

			opts := []lifecycle.Option{
				lifecycle.WithLogger(log),
				lifecycle.WithMetrics(metrics),
			}

			var watchPaths []string
			watchPaths = append(watchPaths, dirs...)
			if localFile != "" {
				watchPaths = append(watchPaths, localFile)
			}
			if len(watchPaths) > 0 {
				watcher, err := reload.NewWatcher(log, watchPaths...)
				if err != nil {
					return err
				}
				defer watcher.Close()
				opts = append(opts, lifecycle.WithDetector(watcher))
			}

			sup := lifecycle.New(reg, opts...)
			if err := sup.Configure(config.Options{LocalFile: localFile, ResourceDirs: dirs}); err != nil {
				return err
			}
			if err := sup.Start(); err != nil {
				return err
			}

			if handler := metrics.Handler(); handler != nil {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", handler)
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						log.WithError(err).Warn("metrics server stopped")
					}
				}()
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			for {
				select {
				case <-cmd.Context().Done():
					return sup.Stop()
				case <-hup:
					if err := sup.Reload(); err != nil {
						log.WithError(err).Error("reload failed")
						return sup.Stop()
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	return cmd
}
