package cmd

import (
	"context"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"ledger-reconciliation-service/cmd/reconciler/config"
	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/reporter"
	"ledger-reconciliation-service/internal/storage"
	"ledger-reconciliation-service/pkg/logger"
)

// runtime holds the collaborators of a reconciliation run and closes them
type runtime struct {
	service      *reconciler.Service
	orchestrator *reconciler.Orchestrator
	runs         *storage.RunStore
	closers      []func() error
}

// newRuntime wires the service and every sink enabled in cfg. needGCS forces
// a storage client even without an upload bucket, for gs:// inputs.
func newRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, showProgress, needGCS bool) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	var gcsClient *gcs.Client
	if needGCS || cfg.Storage.Bucket != "" {
		gcsClient, err = storage.NewGCSClient(ctx, cfg.Storage.CredentialsFile)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, gcsClient.Close)
	}

	fetcherOpts := []storage.FetcherOption{}
	if gcsClient != nil {
		fetcherOpts = append(fetcherOpts, storage.WithGCSClient(gcsClient))
	}

	rt.service, err = reconciler.NewService(cfg.ReconcilerConfig(showProgress), storage.NewFetcher(log, fetcherOpts...), log)
	if err != nil {
		return nil, err
	}

	var opts []reconciler.Option
	fs := afero.NewOsFs()

	if cfg.Output.XLSX {
		opts = append(opts, reconciler.WithExporter(reporter.NewXLSXExporter(fs, cfg.Output.Dir, log)))

		if cfg.Storage.Bucket != "" {
			uploader, err := storage.NewGCSUploader(gcsClient, cfg.Storage.Bucket, cfg.Storage.Prefix, fs, log)
			if err != nil {
				return nil, err
			}
			opts = append(opts, reconciler.WithUploader(uploader))
		}
	}

	if cfg.Storage.RunsDB != "" {
		rt.runs, err = storage.NewRunStore(cfg.Storage.RunsDB, log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.runs.Close)
		opts = append(opts, reconciler.WithRunRecorder(rt.runs))
	}

	if bq := cfg.Storage.BigQuery; bq.Enabled() {
		publisher, err := storage.NewBigQueryPublisher(ctx, bq.Project, bq.Dataset, bq.Table, cfg.Storage.CredentialsFile, log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, publisher.Close)
		opts = append(opts, reconciler.WithStatsPublisher(publisher))
	}

	rt.orchestrator = reconciler.NewOrchestrator(rt.service, log, opts...)
	return rt, nil
}

// Close releases every client in reverse order of creation
func (rt *runtime) Close() error {
	var errs error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errs
}

func isGCSURI(uris ...string) bool {
	for _, u := range uris {
		if strings.HasPrefix(u, "gs://") {
			return true
		}
	}
	return false
}
