package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ledger-reconciliation-service/cmd/reconciler/config"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// set by loadConfig before any subcommand runs
	appConfig *config.Config
	log       logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Book ledger and bank statement reconciliation",
	Long: `Reconciler matches the entries of an accounting book export against a
bank settlement statement. Entries are joined on the store and batch encoded
in their references, fees are normalised, and four ordered passes pair single
and grouped entries. Near misses are reported as alerts.

Examples:
  reconciler reconcile --book libro.xlsx --bank banco.xlsx --month 3 --year 2024
  reconciler reconcile --book libro.csv --bank banco.csv --output-format json --xlsx
  reconciler serve --port 8080
  reconciler config`,
	Version:       getVersionString(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig registers defaults and environment handling on the global viper
func initConfig() {
	config.ConfigureViper(viper.GetViper())
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig reads the config file, decodes the configuration and sets up
// the global logger. flags maps config keys to flags of cmd that override them.
func loadConfig(cmd *cobra.Command, flags map[string]string) error {
	for key, name := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, key, name, err)
		}
	}

	if cfgFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("check the config file path and syntax")
		}
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err)
	}
	if verbose {
		cfg.Log.Level = logger.DebugLevel
	}

	l, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log, err)
	}
	logger.SetGlobalLogger(l)

	appConfig = cfg
	log = l
	if viper.ConfigFileUsed() != "" {
		log.WithField("file", viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// flagChanged reports whether the named flag was set on the command line
func flagChanged(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	return f != nil && f.Changed
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
