package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledger-reconciliation-service/cmd/reconciler/config"
	"ledger-reconciliation-service/internal/api"
	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

var serveFlagKeys = map[string]string{
	"server.port":         "port",
	"server.watch_config": "watch-config",
	"server.run_timeout":  "run-timeout",
	"output.dir":          "output-dir",
	"output.xlsx":         "xlsx",
	"storage.runs_db":     "runs-db",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reconciliation runs over HTTP",
	Long: `Serve starts the HTTP entry point. Each POST /api/reconciliations request
runs one reconciliation over the two referenced exports and answers with the
summary and the exported workbook locations.

Endpoints:
  POST /api/reconciliations       run a reconciliation
  GET  /api/reconciliations       list recent runs (requires storage.runs_db)
  GET  /api/reconciliations/{id}  show one run (requires storage.runs_db)
  GET  /health                    liveness and run counters

With --watch-config, edits to the matching and fee settings of the config file
apply to subsequent requests without a restart.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadConfig(cmd, serveFlagKeys)
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.Int("port", 8080, "listen port")
	f.Bool("watch-config", false, "reload matching and fee settings when the config file changes")
	f.Duration("run-timeout", 5*time.Minute, "time limit for a single reconciliation request")
	f.String("output-dir", "output", "directory for the XLSX workbooks")
	f.Bool("xlsx", false, "write the result workbooks for every run")
	f.String("runs-db", "", "SQLite database recording run history")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// gs:// inputs may arrive with any request, so a storage client is created
	// whenever credentials or a bucket are configured
	needGCS := appConfig.Storage.CredentialsFile != ""
	rt, err := newRuntime(ctx, appConfig, log, false, needGCS)
	if err != nil {
		return err
	}
	defer rt.Close()

	var runs api.RunLister
	if rt.runs != nil {
		runs = rt.runs
	}

	server := api.NewServer(api.Config{
		Port:       appConfig.Server.Port,
		RunTimeout: appConfig.Server.RunTimeout,
	}, rt.orchestrator, runs, log)

	if appConfig.Server.WatchConfig {
		watchConfig(viper.GetViper(), rt.service, log)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.InternalError(errors.CodeUnexpectedError, "serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	return <-errCh
}

// watchConfig reloads the matching and fee settings into service whenever the
// config file changes. Parsing, storage and server settings need a restart.
func watchConfig(v *viper.Viper, service *reconciler.Service, log logger.Logger) {
	if v.ConfigFileUsed() == "" {
		log.Warn("Config watching requested without a config file, ignoring")
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l := log.WithField("file", e.Name)

		cfg, err := config.Load(v)
		if err != nil {
			l.WithError(err).Error("Ignoring invalid configuration change")
			return
		}
		if err := service.UpdateConfiguration(cfg.FeeSchedule(), cfg.MatchingConfig()); err != nil {
			l.WithError(err).Error("Failed to apply configuration change")
			return
		}
		l.Info("Configuration reloaded")
	})
	v.WatchConfig()

	log.WithField("file", v.ConfigFileUsed()).Info("Watching config file for changes")
}
