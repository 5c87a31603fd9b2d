package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mergemeet/cmd/internal/app"
)

type rootFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "mergemeet",
		Short:         "MergeMeet realtime client engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	cmd.AddCommand(
		newLoginCmd(flags),
		newTailCmd(flags),
		newSendCmd(flags),
		newSmokeCmd(flags),
	)
	return cmd
}

// newEngine builds a wired engine from config file, env, and flags. The
// returned cleanup stops the engine and must run on every path.
func newEngine(flags *rootFlags) (*app.Engine, func(), error) {
	cfg, err := app.LoadConfigFile(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}

	log := app.NewLogger(cfg.LogLevel)
	engine, err := app.NewEngine(app.EngineOptions{Config: cfg, Logger: log})
	if err != nil {
		return nil, nil, err
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(engine.MetricsGatherer(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics.serve.fail", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		return engine, func() { engine.Stop(); _ = srv.Close() }, nil
	}
	return engine, engine.Stop, nil
}

func requireAuthenticated(engine *app.Engine) error {
	if cred, ok := engine.Store().Get(); !ok || !cred.Authenticated() {
		return fmt.Errorf("not logged in; run `mergemeet login` first")
	}
	return nil
}
