package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/reporter"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// Flags for the reconcile command
var (
	bookFile     string
	bankFile     string
	month        int
	year         int
	externalID   string
	outputFile   string
	preset       string
	showProgress bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a book ledger export against a bank statement",
	Long: `Reconcile loads the book ledger and the bank statement, normalises fees,
runs the matching passes and prints a report. Inputs may be local paths,
http(s) URLs or gs:// objects, in CSV or XLSX format.

Examples:
  # Console report
  reconciler reconcile --book libro.xlsx --bank banco.xlsx --month 3 --year 2024

  # JSON report to a file plus the XLSX workbooks
  reconciler reconcile --book libro.csv --bank banco.csv \
    --output-format json --output-file report.json --xlsx --output-dir out

  # Looser tolerances for month-end catch-up
  reconciler reconcile --book libro.csv --bank banco.csv --preset relaxed`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

// reconcileFlagKeys maps config keys to the flags that override them
var reconcileFlagKeys = map[string]string{
	"output.format":              "output-format",
	"output.dir":                 "output-dir",
	"output.xlsx":                "xlsx",
	"matching.amount_tolerance":  "amount-tolerance",
	"matching.date_window_days":  "date-window",
	"matching.alert_window_days": "alert-window",
	"enrichment.workers":         "workers",
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	f := reconcileCmd.Flags()
	f.StringVarP(&bookFile, "book", "l", "", "book ledger export: path, http(s) URL or gs:// URI (required)")
	f.StringVarP(&bankFile, "bank", "b", "", "bank statement export: path, http(s) URL or gs:// URI (required)")
	f.IntVar(&month, "month", 0, "accounting month (1-12)")
	f.IntVar(&year, "year", 0, "accounting year")
	f.StringVar(&externalID, "id", "", "external request id stored with the run")

	f.StringP("output-format", "f", "console", "report format: console, json, csv")
	f.StringVarP(&outputFile, "output-file", "o", "", "report file path (default: stdout)")
	f.String("output-dir", "output", "directory for the XLSX workbooks")
	f.Bool("xlsx", false, "write the result workbooks")

	f.StringVar(&preset, "preset", "", "matching preset: default, strict, relaxed")
	f.Float64("amount-tolerance", 0.05, "largest amount difference accepted for a match")
	f.Int("date-window", 5, "days between book and bank dates accepted for a match")
	f.Int("alert-window", 3, "days between dates considered by the alert scan")
	f.Int("workers", 0, "enrichment workers (0 uses all CPUs)")
	f.BoolVar(&showProgress, "progress", false, "show pipeline progress")

	_ = reconcileCmd.MarkFlagRequired("book")
	_ = reconcileCmd.MarkFlagRequired("bank")
}

func validateReconcileFlags(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(cmd, reconcileFlagKeys); err != nil {
		return err
	}

	if preset != "" {
		if err := appConfig.ApplyPreset(preset); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "preset", preset, err).
				WithSuggestion("use one of: default, strict, relaxed")
		}
		// explicit tolerance flags still win over the preset
		fs := cmd.Flags()
		if flagChanged(fs, "amount-tolerance") {
			appConfig.Matching.AmountTolerance, _ = fs.GetFloat64("amount-tolerance")
		}
		if flagChanged(fs, "date-window") {
			appConfig.Matching.DateWindowDays, _ = fs.GetInt("date-window")
		}
		if flagChanged(fs, "alert-window") {
			appConfig.Matching.AlertWindowDays, _ = fs.GetInt("alert-window")
		}
		if err := appConfig.Validate(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", preset, err)
		}
	}

	req := newRequest()
	if err := req.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryInput, errors.CodeInvalidRequest, "invalid reconciliation request")
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "output-file", outputFile,
				fmt.Errorf("output directory does not exist: %s", dir))
		}
	}
	return nil
}

func newRequest() *reconciler.Request {
	return &reconciler.Request{
		BookURI:    bookFile,
		BankURI:    bankFile,
		Month:      month,
		Year:       year,
		ExternalID: externalID,
	}
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logger.Fields{
		"book":   bookFile,
		"bank":   bankFile,
		"format": appConfig.Output.Format,
	}).Debug("Starting reconciliation")

	rt, err := newRuntime(ctx, appConfig, log, showProgress, isGCSURI(bookFile, bankFile))
	if err != nil {
		return err
	}
	defer rt.Close()

	if showProgress {
		rt.service.AddProgressCallback(func(p *reconciler.Progress) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r[%d/%d] %-20s (%.0f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
			if p.CompletedSteps == p.TotalSteps {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
		})
	}

	outcome, err := rt.orchestrator.Process(ctx, newRequest())
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(appConfig.ReportConfig(), log)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return errors.StorageError(errors.CodePersistFailed, outputFile, err)
		}
		defer f.Close()
		out = f
	}

	if err := generator.GenerateReportSafely(outcome.Result, out); err != nil {
		return err
	}

	for _, e := range outcome.Exports {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s\n", e)
	}
	log.WithFields(logger.Fields{
		"run_id":  outcome.Result.RunID,
		"matched": outcome.Result.Summary.MatchedBook,
		"alerts":  outcome.Result.Summary.Alerts,
	}).Info("Reconciliation completed")
	return nil
}
